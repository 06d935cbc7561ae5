package nfc

import "context"

// DefaultKeyA is the MIFARE Classic transport key used to probe sector 0.
var DefaultKeyA = [6]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

const (
	classicProbeSector = 0
	classicProbeBlock  = 0
)

type ndefReader struct{}

func (ndefReader) Technology() Technology    { return TechNDEF }
func (ndefReader) Applicable(s Session) bool { return present(s, TechNDEF) }

func (ndefReader) Read(ctx context.Context, s Session) ReadResult {
	return withConn(ctx, s, TechNDEF, func(c NdefConn) ReadResult {
		msg, err := c.NdefMessage(ctx)
		if err != nil {
			return failure(ctx, "NdefMessage", err)
		}
		// an NDEF capable tag without a message is a successful, empty read
		records := []NDEFRecord{}
		if msg != nil {
			records = append(records, msg.Records()...)
		}
		return Success(NDEFPayload{Records: records})
	})
}

type nfcAReader struct{}

func (nfcAReader) Technology() Technology    { return TechNfcA }
func (nfcAReader) Applicable(s Session) bool { return present(s, TechNfcA) }

func (nfcAReader) Read(ctx context.Context, s Session) ReadResult {
	return withConn(ctx, s, TechNfcA, func(c NfcAConn) ReadResult {
		atqa := c.ATQA()
		return Success(NfcAPayload{
			ID:   HexBytes(s.ID().Clone()),
			ATQA: HexBytes{atqa[0], atqa[1]},
			SAK:  c.SAK(),
		})
	})
}

type nfcBReader struct{}

func (nfcBReader) Technology() Technology    { return TechNfcB }
func (nfcBReader) Applicable(s Session) bool { return present(s, TechNfcB) }

func (nfcBReader) Read(ctx context.Context, s Session) ReadResult {
	return withConn(ctx, s, TechNfcB, func(c NfcBConn) ReadResult {
		return Success(NfcBPayload{
			ApplicationData: cloneBytes(c.ApplicationData()),
			ProtocolInfo:    cloneBytes(c.ProtocolInfo()),
		})
	})
}

type nfcFReader struct{}

func (nfcFReader) Technology() Technology    { return TechNfcF }
func (nfcFReader) Applicable(s Session) bool { return present(s, TechNfcF) }

func (nfcFReader) Read(ctx context.Context, s Session) ReadResult {
	return withConn(ctx, s, TechNfcF, func(c NfcFConn) ReadResult {
		return Success(NfcFPayload{
			SystemCode:   cloneBytes(c.SystemCode()),
			Manufacturer: cloneBytes(c.Manufacturer()),
		})
	})
}

type nfcVReader struct{}

func (nfcVReader) Technology() Technology    { return TechNfcV }
func (nfcVReader) Applicable(s Session) bool { return present(s, TechNfcV) }

func (nfcVReader) Read(ctx context.Context, s Session) ReadResult {
	return withConn(ctx, s, TechNfcV, func(c NfcVConn) ReadResult {
		return Success(NfcVPayload{DSFID: c.DSFID(), ResponseFlags: c.ResponseFlags()})
	})
}

// mifareClassicReader authenticates sector 0 with the default key A and reads
// block 0. Block 0 is never read when authentication fails.
type mifareClassicReader struct{}

func (mifareClassicReader) Technology() Technology    { return TechMifareClassic }
func (mifareClassicReader) Applicable(s Session) bool { return present(s, TechMifareClassic) }

func (mifareClassicReader) Read(ctx context.Context, s Session) ReadResult {
	return withConn(ctx, s, TechMifareClassic, func(c MifareClassicConn) ReadResult {
		ok, err := c.AuthenticateSectorWithKeyA(ctx, classicProbeSector, DefaultKeyA)
		if err != nil {
			res := failure(ctx, "AuthenticateSectorWithKeyA", err)
			if res.Reason() == ReasonTimeout {
				return res
			}
			if !IsAuthError(err) {
				err = NewAuthError("AuthenticateSectorWithKeyA", s.ID().String(), err)
			}
			return Failed(ReasonAuthenticationFailed, err)
		}
		if !ok {
			return Failed(ReasonAuthenticationFailed, NewAuthError("AuthenticateSectorWithKeyA", s.ID().String(), nil))
		}

		block, err := c.ReadBlock(ctx, classicProbeBlock)
		if err != nil {
			return failure(ctx, "ReadBlock", err)
		}
		return Success(MifareClassicPayload{
			Sector: classicProbeSector,
			Block:  classicProbeBlock,
			Data:   HexBytes(block[:]),
		})
	})
}

type mifareUltralightReader struct{}

func (mifareUltralightReader) Technology() Technology    { return TechMifareUltralight }
func (mifareUltralightReader) Applicable(s Session) bool { return present(s, TechMifareUltralight) }

func (mifareUltralightReader) Read(ctx context.Context, s Session) ReadResult {
	return withConn(ctx, s, TechMifareUltralight, func(c MifareUltralightConn) ReadResult {
		return Success(MifareUltralightPayload{Type: c.UltralightType()})
	})
}

// ndefFormatableReader only checks that the technology can be opened.
type ndefFormatableReader struct{}

func (ndefFormatableReader) Technology() Technology    { return TechNdefFormatable }
func (ndefFormatableReader) Applicable(s Session) bool { return present(s, TechNdefFormatable) }

func (ndefFormatableReader) Read(ctx context.Context, s Session) ReadResult {
	return withConn(ctx, s, TechNdefFormatable, func(Conn) ReadResult {
		return Success(NdefFormatablePayload{})
	})
}

func cloneBytes(b []byte) HexBytes {
	if b == nil {
		return HexBytes{}
	}
	return append(HexBytes(nil), b...)
}
