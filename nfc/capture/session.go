package capture

import (
	"context"
	"fmt"

	"github.com/nedpals/nfcard/nfc"
)

// Session replays a Capture. Every technology in techList can be opened; a
// listed technology whose section is missing fails to open. NDEF and
// NdefFormatable need no section.
type Session struct {
	c      *Capture
	id     nfc.TagID
	techs  nfc.TechnologySet
	source string
}

// NewSession validates c and wraps it. source labels the report, e.g.
// "file:tag.json" or "device:<id>".
func NewSession(c *Capture, source string) (*Session, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	id, _ := ParseUID(c.UID)
	techs, _ := c.Technologies()
	return &Session{c: c, id: id, techs: techs, source: source}, nil
}

func (s *Session) ID() nfc.TagID                   { return s.id }
func (s *Session) Technologies() nfc.TechnologySet { return s.techs }
func (s *Session) Source() string                  { return s.source }

func (s *Session) Open(ctx context.Context, tech nfc.Technology) (nfc.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	op := "Open " + tech.String()
	if !s.techs.Has(tech) {
		return nil, nfc.NewNotSupportedError(op)
	}

	missing := nfc.NewConnectError(op, ErrMissingSection)
	switch tech {
	case nfc.TechNDEF:
		return ndefConn{data: s.c.Ndef}, nil
	case nfc.TechNfcA:
		if s.c.NfcA == nil {
			return nil, missing
		}
		return nfcAConn{data: s.c.NfcA}, nil
	case nfc.TechNfcB:
		if s.c.NfcB == nil {
			return nil, missing
		}
		return nfcBConn{data: s.c.NfcB}, nil
	case nfc.TechNfcF:
		if s.c.NfcF == nil {
			return nil, missing
		}
		return nfcFConn{data: s.c.NfcF}, nil
	case nfc.TechNfcV:
		if s.c.NfcV == nil {
			return nil, missing
		}
		return nfcVConn{data: s.c.NfcV}, nil
	case nfc.TechMifareClassic:
		if s.c.MifareClassic == nil {
			return nil, missing
		}
		return &classicConn{data: s.c.MifareClassic, uid: s.id.String()}, nil
	case nfc.TechMifareUltralight:
		if s.c.MifareUltralight == nil {
			return nil, missing
		}
		return ultralightConn{data: s.c.MifareUltralight}, nil
	case nfc.TechNdefFormatable:
		return closer{}, nil
	}
	return nil, nfc.NewNotSupportedError(op)
}

type closer struct{}

func (closer) Close() error { return nil }

type ndefConn struct {
	closer
	data *Ndef
}

func (c ndefConn) NdefMessage(context.Context) (*nfc.NDEFMessage, error) {
	if c.data == nil || len(c.data.Records) == 0 {
		return nil, nil
	}
	return nfc.NewNDEFMessage(c.data.Records...), nil
}

type nfcAConn struct {
	closer
	data *NfcA
}

func (c nfcAConn) ATQA() [2]byte { return [2]byte{c.data.ATQA[0], c.data.ATQA[1]} }
func (c nfcAConn) SAK() byte     { return c.data.SAK }

type nfcBConn struct {
	closer
	data *NfcB
}

func (c nfcBConn) ApplicationData() []byte { return c.data.ApplicationData }
func (c nfcBConn) ProtocolInfo() []byte    { return c.data.ProtocolInfo }

type nfcFConn struct {
	closer
	data *NfcF
}

func (c nfcFConn) SystemCode() []byte   { return c.data.SystemCode }
func (c nfcFConn) Manufacturer() []byte { return c.data.Manufacturer }

type nfcVConn struct {
	closer
	data *NfcV
}

func (c nfcVConn) DSFID() byte         { return c.data.DSFID }
func (c nfcVConn) ResponseFlags() byte { return c.data.ResponseFlags }

// classicConn accepts the key recorded in the capture and serves the blocks
// the phone read.
type classicConn struct {
	closer
	data          *MifareClassic
	uid           string
	authenticated bool
}

func (c *classicConn) AuthenticateSectorWithKeyA(ctx context.Context, sector int, key [6]byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c.authenticated = sector == 0 && string(key[:]) == string(c.data.KeyA)
	return c.authenticated, nil
}

func (c *classicConn) ReadBlock(ctx context.Context, block int) ([16]byte, error) {
	var out [16]byte
	if err := ctx.Err(); err != nil {
		return out, err
	}
	if !c.authenticated {
		return out, nfc.NewAuthError("ReadBlock", c.uid, fmt.Errorf("sector of block %d not authenticated", block))
	}
	for _, b := range c.data.Sector0 {
		if b.Block == block {
			copy(out[:], b.Data)
			return out, nil
		}
	}
	return out, nfc.NewReadError("ReadBlock", fmt.Errorf("block %d was not captured", block))
}

type ultralightConn struct {
	closer
	data *MifareUltralight
}

func (c ultralightConn) UltralightType() nfc.UltralightType { return c.data.Type }
