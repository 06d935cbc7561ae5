package nfc

import (
	"context"
	"encoding/hex"
	"strings"
)

// TagID is the identifier a tag presents during one encounter.
type TagID []byte

// String returns the upper case hex form, e.g. "04A1B2C3".
func (id TagID) String() string {
	return strings.ToUpper(hex.EncodeToString(id))
}

func (id TagID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// Clone returns a copy that shares no memory with id.
func (id TagID) Clone() TagID {
	if id == nil {
		return nil
	}
	c := make(TagID, len(id))
	copy(c, id)
	return c
}

// Session is one physical tag encounter as handed over by a transport.
//
// Technologies reports what the transport saw on the tag; the set does not
// change for the lifetime of the session. Open acquires a technology specific
// connection. Callers open at most one technology at a time and always Close
// what they opened before opening the next one.
//
// Example:
//
//	conn, err := session.Open(ctx, nfc.TechNfcA)
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//	atqa := conn.(nfc.NfcAConn).ATQA()
type Session interface {
	ID() TagID
	Technologies() TechnologySet
	Open(ctx context.Context, tech Technology) (Conn, error)
}

// Conn is an open technology connection. The concrete value returned by
// Session.Open implements the interface matching the technology
// (NdefConn for TechNDEF, NfcAConn for TechNfcA, ...).
type Conn interface {
	Close() error
}

// NdefConn reads the NDEF message stored on the tag. A nil message with a nil
// error means the tag is NDEF capable but holds no message.
type NdefConn interface {
	Conn
	NdefMessage(ctx context.Context) (*NDEFMessage, error)
}

// NfcAConn exposes ISO 14443-3A anticollision parameters.
type NfcAConn interface {
	Conn
	ATQA() [2]byte
	SAK() byte
}

// NfcBConn exposes ISO 14443-3B ATQB fields.
type NfcBConn interface {
	Conn
	ApplicationData() []byte
	ProtocolInfo() []byte
}

// NfcFConn exposes JIS 6319-4 (FeliCa) polling response fields.
type NfcFConn interface {
	Conn
	SystemCode() []byte
	Manufacturer() []byte
}

// NfcVConn exposes ISO 15693 inventory response fields.
type NfcVConn interface {
	Conn
	DSFID() byte
	ResponseFlags() byte
}

// MifareClassicConn provides sector authentication and block reads.
//
// AuthenticateSectorWithKeyA returns false with a nil error when the tag
// rejected the key; a non-nil error means the exchange itself failed.
type MifareClassicConn interface {
	Conn
	AuthenticateSectorWithKeyA(ctx context.Context, sector int, key [6]byte) (bool, error)
	ReadBlock(ctx context.Context, block int) ([16]byte, error)
}

// MifareUltralightConn reports the Ultralight sub-type.
type MifareUltralightConn interface {
	Conn
	UltralightType() UltralightType
}

// UltralightType classifies MIFARE Ultralight tags.
type UltralightType uint8

const (
	UltralightUnknown UltralightType = iota
	UltralightPlain
	UltralightC
)

var ultralightTypeNames = [...]string{
	UltralightUnknown: "unknown",
	UltralightPlain:   "ultralight",
	UltralightC:       "ultralight_c",
}

func (u UltralightType) String() string {
	if int(u) < len(ultralightTypeNames) {
		return ultralightTypeNames[u]
	}
	return ultralightTypeNames[UltralightUnknown]
}

func (u UltralightType) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u *UltralightType) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	switch s {
	case "ultralight", "type_ultralight":
		*u = UltralightPlain
	case "ultralight_c", "ultralightc", "type_ultralight_c":
		*u = UltralightC
	default:
		*u = UltralightUnknown
	}
	return nil
}
