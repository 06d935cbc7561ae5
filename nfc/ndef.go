package nfc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf16"
)

// Type Name Format values (NFC Forum NDEF 1.0, 3.2.6).
const (
	TNFEmpty       byte = 0x00
	TNFWellKnown   byte = 0x01
	TNFMedia       byte = 0x02
	TNFAbsoluteURI byte = 0x03
	TNFExternal    byte = 0x04
	TNFUnknown     byte = 0x05
	TNFUnchanged   byte = 0x06
)

// NDEFMessage is a parsed NDEF message.
type NDEFMessage struct {
	records []NDEFRecord
}

// NDEFRecord represents a single NDEF record within a message.
type NDEFRecord struct {
	TNF     byte   // Type Name Format (0x00-0x07)
	Type    []byte // Record type (e.g., "T" for text, "U" for URI)
	ID      []byte // Optional record ID
	Payload []byte // Record payload data
}

// NewNDEFMessage creates a message holding the given records.
func NewNDEFMessage(records ...NDEFRecord) *NDEFMessage {
	return &NDEFMessage{records: append([]NDEFRecord(nil), records...)}
}

// AddText appends a Text record.
func (m *NDEFMessage) AddText(text, langCode string) *NDEFMessage {
	m.records = append(m.records, NDEFRecord{
		TNF:     TNFWellKnown,
		Type:    []byte("T"),
		Payload: MakeTextRecordPayload(text, langCode),
	})
	return m
}

// AddURI appends a URI record.
func (m *NDEFMessage) AddURI(uri string) *NDEFMessage {
	m.records = append(m.records, NDEFRecord{
		TNF:     TNFWellKnown,
		Type:    []byte("U"),
		Payload: MakeURIRecordPayload(uri),
	})
	return m
}

// Records returns the records in message order.
func (m *NDEFMessage) Records() []NDEFRecord {
	if m == nil {
		return nil
	}
	return m.records
}

// Encode converts the message to its wire form.
func (m *NDEFMessage) Encode() ([]byte, error) {
	if m == nil || len(m.records) == 0 {
		return nil, fmt.Errorf("cannot encode empty NDEF message")
	}
	return encodeNDEFRecords(m.records)
}

// DecodeNDEF parses raw bytes into an NDEFMessage.
func DecodeNDEF(data []byte) (*NDEFMessage, error) {
	records, err := parseNDEFRecords(data)
	if err != nil {
		return nil, err
	}
	return &NDEFMessage{records: records}, nil
}

// IsTextRecord returns true if this is a Text Record.
func (r NDEFRecord) IsTextRecord() bool {
	return r.TNF == TNFWellKnown && len(r.Type) == 1 && r.Type[0] == 'T'
}

// IsURIRecord returns true if this is a URI Record.
func (r NDEFRecord) IsURIRecord() bool {
	return r.TNF == TNFWellKnown && len(r.Type) == 1 && r.Type[0] == 'U'
}

// Text extracts the text of a Text record.
func (r NDEFRecord) Text() (string, bool) {
	if !r.IsTextRecord() {
		return "", false
	}
	text, err := parseTextRecordPayload(r.Payload)
	if err != nil {
		return "", false
	}
	return text, true
}

// URI extracts the expanded URI of a URI record.
func (r NDEFRecord) URI() (string, bool) {
	if !r.IsURIRecord() {
		return "", false
	}
	uri, err := parseURIRecordPayload(r.Payload)
	if err != nil {
		return "", false
	}
	return uri, true
}

// ndefRecordJSON is the wire view of a record. Kind, Content and Language are
// derived on output and ignored on input.
type ndefRecordJSON struct {
	TNF      uint8    `json:"tnf"`
	Type     string   `json:"type"`
	ID       HexBytes `json:"id,omitempty"`
	Payload  HexBytes `json:"payload"`
	Kind     string   `json:"kind,omitempty"`
	Content  string   `json:"content,omitempty"`
	Language string   `json:"language,omitempty"`
}

func (r NDEFRecord) MarshalJSON() ([]byte, error) {
	out := ndefRecordJSON{
		TNF:     r.TNF,
		Type:    string(r.Type),
		ID:      r.ID,
		Payload: HexBytes(r.Payload),
	}
	if out.Payload == nil {
		out.Payload = HexBytes{}
	}
	if text, ok := r.Text(); ok {
		out.Kind = "text"
		out.Content = text
		out.Language = textRecordLanguage(r.Payload)
	} else if uri, ok := r.URI(); ok {
		out.Kind = "uri"
		out.Content = uri
	}
	return json.Marshal(out)
}

func (r *NDEFRecord) UnmarshalJSON(data []byte) error {
	var in ndefRecordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.TNF > 0x07 {
		return fmt.Errorf("invalid NDEF TNF %d", in.TNF)
	}
	*r = NDEFRecord{
		TNF:     in.TNF,
		Type:    []byte(in.Type),
		ID:      in.ID,
		Payload: in.Payload,
	}
	return nil
}

func parseTextRecordPayload(payload []byte) (string, error) {
	if len(payload) < 1 {
		return "", fmt.Errorf("text record payload too short (status byte missing)")
	}
	status := payload[0]
	langLength := int(status & 0x3F)
	isUTF16 := (status & 0x80) != 0

	textDataStart := 1 + langLength
	if textDataStart > len(payload) {
		return "", fmt.Errorf("text record payload too short (language code or text missing)")
	}
	textBytes := payload[textDataStart:]

	if isUTF16 {
		if len(textBytes) == 0 {
			return "", nil
		}
		if len(textBytes)%2 != 0 {
			return "", fmt.Errorf("invalid UTF-16 text length: %d", len(textBytes))
		}
		return decodeUTF16(textBytes), nil
	}
	return string(textBytes), nil
}

func decodeUTF16(b []byte) string {
	u16s := make([]uint16, len(b)/2)
	// honour a byte order mark, default big endian
	order := binary.ByteOrder(binary.BigEndian)
	if len(b) >= 2 && b[0] == 0xFF && b[1] == 0xFE {
		order = binary.LittleEndian
	}
	for i := range u16s {
		u16s[i] = order.Uint16(b[i*2:])
	}
	if len(u16s) > 0 && u16s[0] == 0xFEFF {
		u16s = u16s[1:]
	}
	return string(utf16.Decode(u16s))
}

func textRecordLanguage(payload []byte) string {
	if len(payload) < 1 {
		return ""
	}
	langLen := int(payload[0] & 0x3F)
	if langLen > 0 && len(payload) >= 1+langLen {
		return string(payload[1 : 1+langLen])
	}
	return ""
}

// MakeTextRecordPayload creates a UTF-8 Text record payload. An empty
// language defaults to "en".
func MakeTextRecordPayload(text string, langCode string) []byte {
	if langCode == "" {
		langCode = "en"
	}
	lang := []byte(langCode)
	if len(lang) > 0x3F {
		lang = lang[:0x3F]
	}
	payload := make([]byte, 1+len(lang)+len(text))
	payload[0] = byte(len(lang))
	copy(payload[1:], lang)
	copy(payload[1+len(lang):], text)
	return payload
}

// uriPrefixes are the URI identifier codes of the NFC Forum URI RTD.
var uriPrefixes = [...]string{
	"", "http://www.", "https://www.", "http://", "https://", "tel:", "mailto:",
	"ftp://anonymous:anonymous@", "ftp://ftp.", "ftps://", "sftp://", "smb://",
	"nfs://", "ftp://", "dav://", "news:", "telnet://", "imap:", "rtsp://",
	"urn:", "pop:", "sip:", "sips:", "tftp:", "btspp://", "btl2cap://",
	"btgoep://", "tcpobex://", "irdaobex://", "file://", "urn:epc:id:",
	"urn:epc:tag:", "urn:epc:pat:", "urn:epc:raw:", "urn:epc:", "urn:nfc:",
}

// MakeURIRecordPayload creates a URI record payload, abbreviating the longest
// matching well-known prefix.
func MakeURIRecordPayload(uri string) []byte {
	code := 0
	for i, p := range uriPrefixes {
		if p != "" && strings.HasPrefix(uri, p) && len(p) > len(uriPrefixes[code]) {
			code = i
		}
	}
	rest := uri[len(uriPrefixes[code]):]
	payload := make([]byte, 1+len(rest))
	payload[0] = byte(code)
	copy(payload[1:], rest)
	return payload
}

func parseURIRecordPayload(payload []byte) (string, error) {
	if len(payload) < 1 {
		return "", fmt.Errorf("URI record payload too short")
	}
	prefix := ""
	if int(payload[0]) < len(uriPrefixes) {
		prefix = uriPrefixes[payload[0]]
	}
	return prefix + string(payload[1:]), nil
}

func parseNDEFRecords(ndefMessage []byte) ([]NDEFRecord, error) {
	if len(ndefMessage) == 0 {
		return nil, fmt.Errorf("empty NDEF message")
	}

	var records []NDEFRecord
	offset := 0

	for offset < len(ndefMessage) {
		header := ndefMessage[offset]
		me := header&0x40 != 0
		sr := header&0x10 != 0
		il := header&0x08 != 0
		tnf := header & 0x07

		pos := offset + 1
		if pos >= len(ndefMessage) {
			return nil, fmt.Errorf("invalid NDEF message: truncated type length at offset %d", pos)
		}
		typeLength := int(ndefMessage[pos])
		pos++

		var payloadLength int
		if sr {
			if pos >= len(ndefMessage) {
				return nil, fmt.Errorf("invalid NDEF message: truncated payload length at offset %d", pos)
			}
			payloadLength = int(ndefMessage[pos])
			pos++
		} else {
			if pos+4 > len(ndefMessage) {
				return nil, fmt.Errorf("invalid NDEF message: truncated payload length at offset %d", pos)
			}
			payloadLength = int(binary.BigEndian.Uint32(ndefMessage[pos : pos+4]))
			pos += 4
		}

		var idLength int
		if il {
			if pos >= len(ndefMessage) {
				return nil, fmt.Errorf("invalid NDEF message: truncated ID length at offset %d", pos)
			}
			idLength = int(ndefMessage[pos])
			pos++
		}

		if pos+typeLength > len(ndefMessage) {
			return nil, fmt.Errorf("invalid NDEF message: truncated type field at offset %d", pos)
		}
		recordType := append([]byte(nil), ndefMessage[pos:pos+typeLength]...)
		pos += typeLength

		var recordID []byte
		if idLength > 0 {
			if pos+idLength > len(ndefMessage) {
				return nil, fmt.Errorf("invalid NDEF message: truncated ID field at offset %d", pos)
			}
			recordID = append([]byte(nil), ndefMessage[pos:pos+idLength]...)
			pos += idLength
		}

		if payloadLength < 0 || pos+payloadLength > len(ndefMessage) {
			return nil, fmt.Errorf("invalid NDEF message: truncated payload at offset %d", pos)
		}
		payload := append([]byte{}, ndefMessage[pos:pos+payloadLength]...)
		pos += payloadLength

		records = append(records, NDEFRecord{
			TNF:     tnf,
			Type:    recordType,
			ID:      recordID,
			Payload: payload,
		})

		offset = pos
		if me {
			break
		}
	}

	return records, nil
}

func encodeNDEFRecords(records []NDEFRecord) ([]byte, error) {
	var result []byte

	for i, record := range records {
		if len(record.Type) > 0xFF || len(record.ID) > 0xFF {
			return nil, fmt.Errorf("record %d: type or id longer than 255 bytes", i)
		}
		payloadLen := len(record.Payload)
		short := payloadLen <= 0xFF
		hasID := len(record.ID) > 0

		header := record.TNF & 0x07
		if i == 0 {
			header |= 0x80 // MB
		}
		if i == len(records)-1 {
			header |= 0x40 // ME
		}
		if short {
			header |= 0x10 // SR
		}
		if hasID {
			header |= 0x08 // IL
		}

		result = append(result, header, byte(len(record.Type)))
		if short {
			result = append(result, byte(payloadLen))
		} else {
			result = binary.BigEndian.AppendUint32(result, uint32(payloadLen))
		}
		if hasID {
			result = append(result, byte(len(record.ID)))
		}
		result = append(result, record.Type...)
		result = append(result, record.ID...)
		result = append(result, record.Payload...)
	}

	return result, nil
}
