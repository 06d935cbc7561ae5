package libnfc

import (
	"fmt"

	"github.com/clausecker/freefare"
	gonfc "github.com/clausecker/nfc/v2"

	"github.com/nedpals/nfcard/nfc"
)

// madBufferSize bounds the NFC Forum application area of a 4K tag.
const madBufferSize = 4096

// classicAdapter adapts freefare.ClassicTag to classicTag.
type classicAdapter struct {
	tag freefare.ClassicTag
}

func (c classicAdapter) Connect() error    { return c.tag.Connect() }
func (c classicAdapter) Disconnect() error { return c.tag.Disconnect() }

func (c classicAdapter) Authenticate(block byte, key [6]byte) error {
	return c.tag.Authenticate(block, key, int(freefare.KeyA))
}

func (c classicAdapter) ReadBlock(block byte) ([16]byte, error) {
	return c.tag.ReadBlock(block)
}

func (c classicAdapter) HasMAD() bool {
	if err := c.tag.Authenticate(sectorTrailer(int(c.MADSector())), MADKeyA, int(freefare.KeyA)); err != nil {
		return false
	}
	_, err := c.tag.ReadMad()
	return err == nil
}

func (c classicAdapter) MADSector() byte {
	if c.tag.Type() == freefare.Classic4k {
		return 0x10
	}
	return 0x00
}

func (c classicAdapter) ReadNDEF() ([]byte, error) {
	mad, err := c.tag.ReadMad()
	if err != nil {
		return nil, fmt.Errorf("read MAD: %w", err)
	}
	buf := make([]byte, madBufferSize)
	n, err := c.tag.ReadApplication(mad, freefare.MadNFCForumAid, buf, NFCForumKeyA, int(freefare.KeyA))
	if err != nil {
		return nil, fmt.Errorf("read NFC Forum application: %w", err)
	}
	return buf[:n], nil
}

// ultralightAdapter adapts freefare.UltralightTag to ultralightTag.
type ultralightAdapter struct {
	tag freefare.UltralightTag
}

func (u ultralightAdapter) Connect() error    { return u.tag.Connect() }
func (u ultralightAdapter) Disconnect() error { return u.tag.Disconnect() }

func (u ultralightAdapter) ReadPage(page byte) ([4]byte, error) {
	return u.tag.ReadPage(page)
}

func ultralightType(tag freefare.UltralightTag) nfc.UltralightType {
	switch tag.Type() {
	case freefare.Ultralight:
		return nfc.UltralightPlain
	case freefare.UltralightC:
		return nfc.UltralightC
	default:
		return nfc.UltralightUnknown
	}
}

// fromISO14443a converts a libnfc ISO 14443A target. libnfc stores ATQA
// most significant byte first; Android reports it in the order received.
func fromISO14443a(t *gonfc.ISO14443aTarget) (nfc.TagID, *iso14443a) {
	n := int(t.UIDLen)
	if n < 0 || n > len(t.UID) {
		n = len(t.UID)
	}
	id := append(nfc.TagID(nil), t.UID[:n]...)
	return id, &iso14443a{
		ATQA: [2]byte{t.Atqa[1], t.Atqa[0]},
		SAK:  t.Sak,
	}
}

func fromISO14443b(t *gonfc.ISO14443bTarget) (nfc.TagID, *iso14443b) {
	return append(nfc.TagID(nil), t.Pupi[:]...), &iso14443b{
		ApplicationData: append([]byte(nil), t.ApplicationData[:]...),
		ProtocolInfo:    append([]byte(nil), t.ProtocolInfo[:]...),
	}
}

// fromFelica converts a FeliCa target. The IDm is the tag id and the first
// eight bytes of the PMm are what Android exposes as the manufacturer bytes.
func fromFelica(t *gonfc.FelicaTarget) (nfc.TagID, *felica) {
	return append(nfc.TagID(nil), t.ID[:]...), &felica{
		SystemCode:   append([]byte(nil), t.SysCode[:]...),
		Manufacturer: append([]byte(nil), t.Pad[:]...),
	}
}
