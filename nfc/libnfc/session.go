package libnfc

import (
	"context"
	"fmt"

	"github.com/nedpals/nfcard/nfc"
)

var (
	// MADKeyA is the public key A of the MIFARE Application Directory sector.
	MADKeyA = [6]byte{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5}

	// NFCForumKeyA is the public key A of NFC Forum sectors.
	NFCForumKeyA = [6]byte{0xD3, 0xF7, 0xD3, 0xF7, 0xD3, 0xF7}
)

// Ultralight page layout.
const (
	ultralightCCPage   = 3
	ultralightDataPage = 4
	ndefMagic          = 0xE1 // first capability container byte of an NDEF tag
)

// classicTag is the part of freefare.ClassicTag a session uses. Keys are
// always key A.
type classicTag interface {
	Connect() error
	Disconnect() error
	Authenticate(block byte, key [6]byte) error
	ReadBlock(block byte) ([16]byte, error)
	// HasMAD reports whether the MIFARE Application Directory is readable.
	HasMAD() bool
	// MADSector is the sector whose trailer guards the directory.
	MADSector() byte
	// ReadNDEF returns the NFC Forum application area.
	ReadNDEF() ([]byte, error)
}

// ultralightTag is the part of freefare.UltralightTag a session uses.
type ultralightTag interface {
	Connect() error
	Disconnect() error
	ReadPage(page byte) ([4]byte, error)
}

// iso14443a holds the anticollision data of an ISO 14443A target.
type iso14443a struct {
	ATQA [2]byte // as Android reports it: LSB first
	SAK  byte
}

type iso14443b struct {
	ApplicationData []byte
	ProtocolInfo    []byte
}

type felica struct {
	SystemCode   []byte
	Manufacturer []byte
}

// Session is one tag found on a libnfc device.
type Session struct {
	id     nfc.TagID
	techs  nfc.TechnologySet
	source string

	a          *iso14443a
	b          *iso14443b
	f          *felica
	classic    classicTag
	ultralight ultralightTag
	ulType     nfc.UltralightType
	ulPages    int
}

func (s *Session) ID() nfc.TagID                   { return s.id }
func (s *Session) Technologies() nfc.TechnologySet { return s.techs }
func (s *Session) Source() string                  { return s.source }

func (s *Session) Open(ctx context.Context, tech nfc.Technology) (nfc.Conn, error) {
	op := "Open " + tech.String()
	if err := ctx.Err(); err != nil {
		return nil, nfc.NewTimeoutError(op, err)
	}
	if !s.techs.Has(tech) {
		return nil, nfc.NewNotSupportedError(op)
	}

	switch tech {
	case nfc.TechNfcA:
		return nfcAConn{s.a}, nil
	case nfc.TechNfcB:
		return nfcBConn{s.b}, nil
	case nfc.TechNfcF:
		return nfcFConn{s.f}, nil
	case nfc.TechMifareClassic:
		if err := s.classic.Connect(); err != nil {
			return nil, nfc.NewConnectError(op, err)
		}
		return &classicConn{tag: s.classic}, nil
	case nfc.TechNdefFormatable:
		tag := s.formatable()
		if tag == nil {
			break
		}
		if err := tag.Connect(); err != nil {
			return nil, nfc.NewConnectError(op, err)
		}
		return disconnector{tag}, nil
	case nfc.TechMifareUltralight:
		return ultralightConn{typ: s.ulType}, nil
	case nfc.TechNDEF:
		switch {
		case s.ultralight != nil:
			if err := s.ultralight.Connect(); err != nil {
				return nil, nfc.NewConnectError(op, err)
			}
			return &ultralightNdefConn{tag: s.ultralight, pages: s.ulPages}, nil
		case s.classic != nil:
			if err := s.classic.Connect(); err != nil {
				return nil, nfc.NewConnectError(op, err)
			}
			return &classicNdefConn{tag: s.classic}, nil
		}
	}
	return nil, nfc.NewNotSupportedError(op)
}

type connector interface {
	Connect() error
	Disconnect() error
}

func (s *Session) formatable() connector {
	switch {
	case s.classic != nil:
		return s.classic
	case s.ultralight != nil:
		return s.ultralight
	}
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type disconnector struct {
	tag connector
}

func (d disconnector) Close() error { return d.tag.Disconnect() }

type nfcAConn struct{ t *iso14443a }

func (nfcAConn) Close() error    { return nil }
func (c nfcAConn) ATQA() [2]byte { return c.t.ATQA }
func (c nfcAConn) SAK() byte     { return c.t.SAK }

type nfcBConn struct{ t *iso14443b }

func (nfcBConn) Close() error              { return nil }
func (c nfcBConn) ApplicationData() []byte { return c.t.ApplicationData }
func (c nfcBConn) ProtocolInfo() []byte    { return c.t.ProtocolInfo }

type nfcFConn struct{ t *felica }

func (nfcFConn) Close() error           { return nil }
func (c nfcFConn) SystemCode() []byte   { return c.t.SystemCode }
func (c nfcFConn) Manufacturer() []byte { return c.t.Manufacturer }

type ultralightConn struct {
	nopCloser
	typ nfc.UltralightType
}

func (c ultralightConn) UltralightType() nfc.UltralightType { return c.typ }

type classicConn struct {
	tag classicTag
}

func (c *classicConn) Close() error { return c.tag.Disconnect() }

// AuthenticateSectorWithKeyA reports a rejected key as false. libfreefare
// does not tell a wrong key from a lost tag, so only timeouts are returned
// as errors.
func (c *classicConn) AuthenticateSectorWithKeyA(ctx context.Context, sector int, key [6]byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, nfc.NewTimeoutError("AuthenticateSectorWithKeyA", err)
	}
	if sector < 0 || sector > 39 {
		return false, fmt.Errorf("invalid sector %d", sector)
	}
	if err := c.tag.Authenticate(sectorTrailer(sector), key); err != nil {
		if nfc.IsTimeoutError(err) {
			return false, nfc.NewTimeoutError("AuthenticateSectorWithKeyA", err)
		}
		return false, nil
	}
	return true, nil
}

func (c *classicConn) ReadBlock(ctx context.Context, block int) ([16]byte, error) {
	if err := ctx.Err(); err != nil {
		return [16]byte{}, nfc.NewTimeoutError("ReadBlock", err)
	}
	if block < 0 || block > 255 {
		return [16]byte{}, fmt.Errorf("invalid block %d", block)
	}
	data, err := c.tag.ReadBlock(byte(block))
	if err != nil {
		return [16]byte{}, readError("ReadBlock", err)
	}
	return data, nil
}

// sectorTrailer returns the trailer block of a sector: sectors 0-31 have
// four blocks, sectors 32-39 of a 4K tag have sixteen.
func sectorTrailer(sector int) byte {
	if sector < 32 {
		return byte(sector*4 + 3)
	}
	return byte(128 + (sector-32)*16 + 15)
}

type classicNdefConn struct {
	tag classicTag
}

func (c *classicNdefConn) Close() error { return c.tag.Disconnect() }

func (c *classicNdefConn) NdefMessage(ctx context.Context) (*nfc.NDEFMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, nfc.NewTimeoutError("NdefMessage", err)
	}
	data, err := c.tag.ReadNDEF()
	if err != nil {
		return nil, readError("NdefMessage", err)
	}
	return decodeTLV(data)
}

type ultralightNdefConn struct {
	tag   ultralightTag
	pages int
}

func (c *ultralightNdefConn) Close() error { return c.tag.Disconnect() }

// NdefMessage reads data pages until the NDEF TLV is complete.
func (c *ultralightNdefConn) NdefMessage(ctx context.Context) (*nfc.NDEFMessage, error) {
	var data []byte
	for page := ultralightDataPage; page < c.pages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, nfc.NewTimeoutError("NdefMessage", err)
		}
		p, err := c.tag.ReadPage(byte(page))
		if err != nil {
			return nil, readError(fmt.Sprintf("ReadPage %d", page), err)
		}
		data = append(data, p[:]...)
		if done, _ := nfc.TLVComplete(data); done {
			break
		}
	}
	return decodeTLV(data)
}

// readError wraps a failed tag read. A tag that left the field keeps its own
// error code.
func readError(op string, err error) error {
	if nfc.IsTagRemovedError(err) {
		return nfc.NewTagRemovedError(op, err)
	}
	return nfc.NewReadError(op, err)
}

// decodeTLV extracts the NDEF message from a TLV area. A missing or empty
// NDEF TLV means the tag holds no message.
func decodeTLV(data []byte) (*nfc.NDEFMessage, error) {
	raw, ok := nfc.TLVFindNDEF(data)
	if !ok || len(raw) == 0 {
		return nil, nil
	}
	msg, err := nfc.DecodeNDEF(raw)
	if err != nil {
		return nil, nfc.Errorf(nfc.ErrCodeInvalidData, "NdefMessage", "%v", err)
	}
	return msg, nil
}
