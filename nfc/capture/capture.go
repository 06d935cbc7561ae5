// Package capture reads tag encounters recorded as JSON, as pushed by the
// phone app or saved to disk, and replays them as nfc.Session values.
package capture

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/nedpals/nfcard/nfc"
)

// ErrMissingSection is returned when a technology is listed in techList but
// the capture carries no data for it.
var ErrMissingSection = errors.New("technology listed without captured data")

// Capture is one recorded tag encounter.
type Capture struct {
	DeviceID string   `json:"deviceID,omitempty"`
	UID      string   `json:"uid"`
	TechList []string `json:"techList"`

	NfcA             *NfcA             `json:"nfcA,omitempty"`
	NfcB             *NfcB             `json:"nfcB,omitempty"`
	NfcF             *NfcF             `json:"nfcF,omitempty"`
	NfcV             *NfcV             `json:"nfcV,omitempty"`
	Ndef             *Ndef             `json:"ndef,omitempty"` // nil: NDEF formatted but empty
	MifareClassic    *MifareClassic    `json:"mifareClassic,omitempty"`
	MifareUltralight *MifareUltralight `json:"mifareUltralight,omitempty"`

	ScannedAt time.Time `json:"scannedAt"`
}

type NfcA struct {
	ATQA nfc.HexBytes `json:"atqa"`
	SAK  byte         `json:"sak"`
}

type NfcB struct {
	ApplicationData nfc.HexBytes `json:"applicationData"`
	ProtocolInfo    nfc.HexBytes `json:"protocolInfo"`
}

type NfcF struct {
	SystemCode   nfc.HexBytes `json:"systemCode"`
	Manufacturer nfc.HexBytes `json:"manufacturer"`
}

type NfcV struct {
	DSFID         byte `json:"dsfid"`
	ResponseFlags byte `json:"responseFlags"`
}

type Ndef struct {
	Records []nfc.NDEFRecord `json:"records"`
}

// MifareClassic holds what the phone could read from sector 0 and the key A
// that unlocked it.
type MifareClassic struct {
	KeyA    nfc.HexBytes `json:"keyA"`
	Sector0 []Block      `json:"sector0"`
}

type Block struct {
	Block int          `json:"block"`
	Data  nfc.HexBytes `json:"data"`
}

type MifareUltralight struct {
	Type nfc.UltralightType `json:"type"`
}

// Decode reads and validates one capture.
func Decode(r io.Reader) (*Capture, error) {
	var c Capture
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("decode capture: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadFile decodes the capture stored at path.
func LoadFile(path string) (*Capture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Validate checks the capture is internally consistent.
func (c *Capture) Validate() error {
	if _, err := ParseUID(c.UID); err != nil {
		return fmt.Errorf("invalid uid: %w", err)
	}
	if _, err := c.Technologies(); err != nil {
		return err
	}
	if c.NfcA != nil && len(c.NfcA.ATQA) != 2 {
		return fmt.Errorf("nfcA.atqa must be 2 bytes, got %d", len(c.NfcA.ATQA))
	}
	if mc := c.MifareClassic; mc != nil {
		if len(mc.KeyA) != 6 {
			return fmt.Errorf("mifareClassic.keyA must be 6 bytes, got %d", len(mc.KeyA))
		}
		for _, b := range mc.Sector0 {
			if b.Block < 0 || b.Block > 3 {
				return fmt.Errorf("mifareClassic.sector0: block %d is not in sector 0", b.Block)
			}
			if len(b.Data) != 16 {
				return fmt.Errorf("mifareClassic.sector0: block %d must be 16 bytes, got %d", b.Block, len(b.Data))
			}
		}
	}
	return nil
}

// Technologies parses techList.
func (c *Capture) Technologies() (nfc.TechnologySet, error) {
	set, err := nfc.ParseTechnologySet(c.TechList)
	if err != nil {
		return 0, fmt.Errorf("invalid techList: %w", err)
	}
	return set, nil
}

var hexUID = regexp.MustCompile(`^[0-9A-F]+$`)

// ParseUID parses a tag UID written as "04:AB:CD:EF", "04ABCDEF" or
// "04 AB CD EF".
func ParseUID(uid string) (nfc.TagID, error) {
	if uid == "" {
		return nil, fmt.Errorf("empty UID")
	}

	cleaned := strings.NewReplacer(":", "", " ", "", "-", "").Replace(uid)
	cleaned = strings.ToUpper(cleaned)

	if !hexUID.MatchString(cleaned) {
		return nil, fmt.Errorf("UID contains invalid characters: %s", uid)
	}
	if len(cleaned)%2 != 0 {
		return nil, fmt.Errorf("UID has odd number of hex characters: %s", uid)
	}

	var id nfc.HexBytes
	if err := id.UnmarshalText([]byte(cleaned)); err != nil {
		return nil, err
	}
	return nfc.TagID(id), nil
}

// FormatUID renders id colon separated, e.g. "04:AB:CD:EF".
func FormatUID(id nfc.TagID) string {
	hex := id.String()
	var sb strings.Builder
	for i := 0; i < len(hex); i += 2 {
		if i > 0 {
			sb.WriteByte(':')
		}
		sb.WriteString(hex[i : i+2])
	}
	return sb.String()
}
