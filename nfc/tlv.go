package nfc

// TLV block types used in the data area of Type 2 tags.
const (
	TLVNull        = 0x00
	TLVLockCtrl    = 0x01
	TLVMemCtrl     = 0x02
	TLVNDEF        = 0x03
	TLVProprietary = 0xFD
	TLVTerminator  = 0xFE
)

// TLVEncode wraps data in a TLV of the given type followed by a Terminator.
// Lengths of 0xFF and above use the three byte form.
func TLVEncode(data []byte, tlvType byte) []byte {
	length := len(data)
	result := make([]byte, 0, len(data)+5)
	result = append(result, tlvType)
	if length < 0xFF {
		result = append(result, byte(length))
	} else {
		result = append(result, 0xFF, byte(length>>8), byte(length))
	}
	result = append(result, data...)
	return append(result, TLVTerminator)
}

// tlvHeader returns the value offset and length of the TLV starting at
// data[0]. ok is false when the header is truncated.
func tlvHeader(data []byte) (valueStart, length int, ok bool) {
	if len(data) < 2 {
		return 0, 0, false
	}
	if data[1] == 0xFF {
		if len(data) < 4 {
			return 0, 0, false
		}
		return 4, int(data[2])<<8 | int(data[3]), true
	}
	return 2, int(data[1]), true
}

// TLVFindNDEF returns the value of the first NDEF Message TLV in data.
// The second return is false when the block ends, hits a Terminator or is
// malformed before an NDEF TLV is seen.
func TLVFindNDEF(data []byte) ([]byte, bool) {
	offset := 0
	for offset < len(data) {
		switch data[offset] {
		case TLVNull:
			offset++
			continue
		case TLVTerminator:
			return nil, false
		}

		valueStart, length, ok := tlvHeader(data[offset:])
		if !ok {
			return nil, false
		}
		start := offset + valueStart
		if start+length > len(data) {
			return nil, false
		}
		if data[offset] == TLVNDEF {
			return data[start : start+length], true
		}
		offset = start + length
	}
	return nil, false
}

// TLVComplete reports whether data already holds a full NDEF TLV, so a page
// by page reader can stop early. need is the total byte count required when
// the header is visible, or -1 when more bytes are needed to tell.
func TLVComplete(data []byte) (done bool, need int) {
	offset := 0
	for offset < len(data) {
		switch data[offset] {
		case TLVNull:
			offset++
			continue
		case TLVTerminator:
			return true, offset + 1
		}
		valueStart, length, ok := tlvHeader(data[offset:])
		if !ok {
			return false, -1
		}
		end := offset + valueStart + length
		if data[offset] == TLVNDEF {
			return end <= len(data), end
		}
		if end > len(data) {
			return false, end
		}
		offset = end
	}
	return false, -1
}
