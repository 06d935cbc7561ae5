package nfc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// FailureReason says why a technology read did not produce a payload.
type FailureReason uint8

const (
	ReasonUnsupported FailureReason = iota + 1
	ReasonConnectFailed
	ReasonAuthenticationFailed
	ReasonTimeout
)

func (r FailureReason) String() string {
	switch r {
	case ReasonUnsupported:
		return "unsupported"
	case ReasonConnectFailed:
		return "connect-failed"
	case ReasonAuthenticationFailed:
		return "authentication-failed"
	case ReasonTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("FailureReason(%d)", uint8(r))
	}
}

func (r FailureReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// ReadFailure is the failure variant of a ReadResult.
type ReadFailure struct {
	Reason FailureReason
	Err    error // transport error, nil when the tag simply refused
}

func (f *ReadFailure) Error() string {
	if f.Err == nil {
		return f.Reason.String()
	}
	return f.Reason.String() + ": " + f.Err.Error()
}

func (f *ReadFailure) Unwrap() error {
	return f.Err
}

func (f *ReadFailure) MarshalJSON() ([]byte, error) {
	out := struct {
		Reason FailureReason `json:"reason"`
		Error  string        `json:"error,omitempty"`
	}{Reason: f.Reason}
	if f.Err != nil {
		out.Error = f.Err.Error()
	}
	return json.Marshal(out)
}

// ReadResult is the outcome of one technology read: exactly one of Payload
// and Failure is set.
type ReadResult struct {
	Payload Payload
	Failure *ReadFailure
}

// Success wraps a payload in a successful result.
func Success(p Payload) ReadResult {
	return ReadResult{Payload: p}
}

// Failed builds a failed result.
func Failed(reason FailureReason, err error) ReadResult {
	return ReadResult{Failure: &ReadFailure{Reason: reason, Err: err}}
}

// OK reports whether the read succeeded.
func (r ReadResult) OK() bool {
	return r.Failure == nil
}

// Reason returns the failure reason, or 0 for a successful read.
func (r ReadResult) Reason() FailureReason {
	if r.Failure == nil {
		return 0
	}
	return r.Failure.Reason
}

func (r ReadResult) String() string {
	if r.Failure != nil {
		return "failed(" + r.Failure.Error() + ")"
	}
	if r.Payload == nil {
		return "ok"
	}
	return "ok(" + r.Payload.String() + ")"
}

// Payload is the technology specific data captured by a successful read.
type Payload interface {
	Technology() Technology
	String() string
}

// HexBytes marshals as an upper case hex string.
type HexBytes []byte

func (b HexBytes) String() string {
	return strings.ToUpper(hex.EncodeToString(b))
}

func (b HexBytes) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *HexBytes) UnmarshalText(text []byte) error {
	s := strings.NewReplacer(":", "", " ", "", "-", "").Replace(string(text))
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid hex %q: %w", string(text), err)
	}
	*b = decoded
	return nil
}

// NDEFPayload holds the records of the tag's NDEF message. Records is empty
// when the tag carries no message.
type NDEFPayload struct {
	Records []NDEFRecord `json:"records"`
}

func (NDEFPayload) Technology() Technology { return TechNDEF }

func (p NDEFPayload) String() string {
	return fmt.Sprintf("records=%d", len(p.Records))
}

// NfcAPayload holds the ISO 14443-3A identification data.
type NfcAPayload struct {
	ID   HexBytes `json:"id"`
	ATQA HexBytes `json:"atqa"`
	SAK  byte     `json:"sak"`
}

func (NfcAPayload) Technology() Technology { return TechNfcA }

// ATQAValue returns ATQA as a big-endian integer, e.g. 0x0400.
func (p NfcAPayload) ATQAValue() uint16 {
	if len(p.ATQA) < 2 {
		return 0
	}
	return uint16(p.ATQA[0])<<8 | uint16(p.ATQA[1])
}

func (p NfcAPayload) String() string {
	return fmt.Sprintf("id=%s atqa=0x%04X sak=0x%02X", p.ID, p.ATQAValue(), p.SAK)
}

// NfcBPayload holds the ATQB application data and protocol info.
type NfcBPayload struct {
	ApplicationData HexBytes `json:"applicationData"`
	ProtocolInfo    HexBytes `json:"protocolInfo"`
}

func (NfcBPayload) Technology() Technology { return TechNfcB }

func (p NfcBPayload) String() string {
	return fmt.Sprintf("appData=%s protInfo=%s", p.ApplicationData, p.ProtocolInfo)
}

// NfcFPayload holds the FeliCa system code and manufacturer parameter.
type NfcFPayload struct {
	SystemCode   HexBytes `json:"systemCode"`
	Manufacturer HexBytes `json:"manufacturer"`
}

func (NfcFPayload) Technology() Technology { return TechNfcF }

func (p NfcFPayload) String() string {
	return fmt.Sprintf("systemCode=%s manufacturer=%s", p.SystemCode, p.Manufacturer)
}

// NfcVPayload holds the ISO 15693 DSFID and response flags.
type NfcVPayload struct {
	DSFID         byte `json:"dsfid"`
	ResponseFlags byte `json:"responseFlags"`
}

func (NfcVPayload) Technology() Technology { return TechNfcV }

func (p NfcVPayload) String() string {
	return fmt.Sprintf("dsfid=0x%02X flags=0x%02X", p.DSFID, p.ResponseFlags)
}

// MifareClassicPayload holds one block read after sector authentication.
type MifareClassicPayload struct {
	Sector int      `json:"sector"`
	Block  int      `json:"block"`
	Data   HexBytes `json:"data"`
}

func (MifareClassicPayload) Technology() Technology { return TechMifareClassic }

func (p MifareClassicPayload) String() string {
	return fmt.Sprintf("block%d=%s", p.Block, p.Data)
}

// MifareUltralightPayload holds the Ultralight sub-type.
type MifareUltralightPayload struct {
	Type UltralightType `json:"type"`
}

func (MifareUltralightPayload) Technology() Technology { return TechMifareUltralight }

func (p MifareUltralightPayload) String() string {
	return "type=" + p.Type.String()
}

// NdefFormatablePayload confirms the technology is present. It carries no data.
type NdefFormatablePayload struct{}

func (NdefFormatablePayload) Technology() Technology { return TechNdefFormatable }

func (NdefFormatablePayload) String() string { return "present" }
