package nfc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUID = []byte{0x04, 0xA1, 0xB2, 0xC3}

func readWith(t *testing.T, r TechnologyReader, s Session) ReadResult {
	t.Helper()
	return r.Read(context.Background(), s)
}

func TestNdefReader(t *testing.T) {
	t.Run("message", func(t *testing.T) {
		s := NewMockSession(testUID, TechNDEF)
		s.Message = NewNDEFMessage().AddText("hello", "en")

		res := readWith(t, ndefReader{}, s)
		require.True(t, res.OK(), res.String())
		payload := res.Payload.(NDEFPayload)
		require.Len(t, payload.Records, 1)
		text, _ := payload.Records[0].Text()
		assert.Equal(t, "hello", text)
		assert.Equal(t, []string{"Open NDEF", "NdefMessage", "Close NDEF"}, s.Calls())
	})

	t.Run("no message is an empty success", func(t *testing.T) {
		s := NewMockSession(testUID, TechNDEF)

		res := readWith(t, ndefReader{}, s)
		require.True(t, res.OK())
		payload := res.Payload.(NDEFPayload)
		assert.NotNil(t, payload.Records)
		assert.Empty(t, payload.Records)
	})

	t.Run("read error closes the connection", func(t *testing.T) {
		s := NewMockSession(testUID, TechNDEF)
		s.MessageErr = ErrIO

		res := readWith(t, ndefReader{}, s)
		assert.Equal(t, ReasonConnectFailed, res.Reason())
		assert.True(t, errors.Is(res.Failure, ErrIO))
		assert.True(t, s.Called("Close NDEF"))
		assert.Zero(t, s.OpenConns())
	})
}

func TestNfcAReader(t *testing.T) {
	s := NewMockSession(testUID, TechNfcA)
	s.ATQAValue = [2]byte{0x04, 0x00}
	s.SAKValue = 0x08

	res := readWith(t, nfcAReader{}, s)
	require.True(t, res.OK())
	payload := res.Payload.(NfcAPayload)
	assert.Equal(t, HexBytes(testUID), payload.ID)
	assert.Equal(t, uint16(0x0400), payload.ATQAValue())
	assert.Equal(t, byte(0x08), payload.SAK)
	assert.Equal(t, "id=04A1B2C3 atqa=0x0400 sak=0x08", payload.String())
}

func TestNfcBReader(t *testing.T) {
	s := NewMockSession(testUID, TechNfcB)
	s.AppData = []byte{0x00, 0x00, 0x00, 0x00}
	s.ProtInfo = []byte{0x80, 0x81, 0x41}

	res := readWith(t, nfcBReader{}, s)
	require.True(t, res.OK())
	payload := res.Payload.(NfcBPayload)
	assert.Equal(t, "808141", payload.ProtocolInfo.String())
	assert.Len(t, payload.ApplicationData, 4)
	assert.Equal(t, []string{"Open NfcB", "ApplicationData", "ProtocolInfo", "Close NfcB"}, s.Calls())
}

func TestNfcFReader(t *testing.T) {
	s := NewMockSession(testUID, TechNfcF)
	s.SysCode = []byte{0x88, 0xB4}
	s.MfgData = []byte{0x10, 0x0B, 0x4B, 0x42, 0x84, 0x85, 0xD0, 0xFF}

	res := readWith(t, nfcFReader{}, s)
	require.True(t, res.OK())
	payload := res.Payload.(NfcFPayload)
	assert.Equal(t, "88B4", payload.SystemCode.String())
	assert.Len(t, payload.Manufacturer, 8)
	assert.Equal(t, []string{"Open NfcF", "SystemCode", "Manufacturer", "Close NfcF"}, s.Calls())
}

func TestNfcVReader(t *testing.T) {
	s := NewMockSession(testUID, TechNfcV)
	s.DSFIDValue = 0x00
	s.FlagsValue = 0x01

	res := readWith(t, nfcVReader{}, s)
	require.True(t, res.OK())
	assert.Equal(t, NfcVPayload{DSFID: 0x00, ResponseFlags: 0x01}, res.Payload)
	assert.Equal(t, []string{"Open NfcV", "DSFID", "ResponseFlags", "Close NfcV"}, s.Calls())
}

func TestMifareClassicReader(t *testing.T) {
	block0 := [16]byte{0x04, 0xA1, 0xB2, 0xC3, 0xD4, 0x08, 0x04, 0x00, 0x62, 0x63, 0x64, 0x65, 0x66, 0x67, 0x68, 0x69}

	t.Run("authenticated read returns 16 bytes", func(t *testing.T) {
		s := NewMockSession(testUID, TechMifareClassic)
		s.Blocks[0] = block0

		res := readWith(t, mifareClassicReader{}, s)
		require.True(t, res.OK(), res.String())
		payload := res.Payload.(MifareClassicPayload)
		assert.Len(t, payload.Data, 16)
		assert.Equal(t, HexBytes(block0[:]), payload.Data)
		assert.Equal(t, []string{
			"Open MifareClassic",
			"AuthenticateSectorWithKeyA 0",
			"ReadBlock 0",
			"Close MifareClassic",
		}, s.Calls())
	})

	t.Run("rejected key never reads block 0", func(t *testing.T) {
		s := NewMockSession(testUID, TechMifareClassic)
		s.ClassicKeyA = [6]byte{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5}

		res := readWith(t, mifareClassicReader{}, s)
		assert.Equal(t, ReasonAuthenticationFailed, res.Reason())
		assert.Nil(t, res.Payload)
		assert.False(t, s.Called("ReadBlock 0"))
		assert.True(t, s.Called("Close MifareClassic"))
	})

	t.Run("auth exchange error is an authentication failure", func(t *testing.T) {
		s := NewMockSession(testUID, TechMifareClassic)
		s.AuthError = errors.New("mifare_classic_authenticate: RF transmission error")

		res := readWith(t, mifareClassicReader{}, s)
		assert.Equal(t, ReasonAuthenticationFailed, res.Reason())
		assert.True(t, IsAuthError(res.Failure))
		assert.False(t, s.Called("ReadBlock 0"))
	})

	t.Run("transport auth error is kept as is", func(t *testing.T) {
		s := NewMockSession(testUID, TechMifareClassic)
		authErr := NewAuthError("mifare_classic_authenticate", "04A1B2C3", nil)
		s.AuthError = authErr

		res := readWith(t, mifareClassicReader{}, s)
		assert.Equal(t, ReasonAuthenticationFailed, res.Reason())
		require.NotNil(t, res.Failure)
		assert.Same(t, authErr, res.Failure.Err)
	})

	t.Run("auth timeout stays a timeout", func(t *testing.T) {
		s := NewMockSession(testUID, TechMifareClassic)
		s.AuthError = ErrTimeout

		res := readWith(t, mifareClassicReader{}, s)
		assert.Equal(t, ReasonTimeout, res.Reason())
	})

	t.Run("read error after auth is a connect failure", func(t *testing.T) {
		s := NewMockSession(testUID, TechMifareClassic)
		s.ReadBlockErr = NewTagRemovedError("ReadBlock", nil)

		res := readWith(t, mifareClassicReader{}, s)
		assert.Equal(t, ReasonConnectFailed, res.Reason())
		assert.True(t, s.Called("Close MifareClassic"))
	})
}

func TestMifareUltralightReader(t *testing.T) {
	s := NewMockSession(testUID, TechMifareUltralight)
	s.Ultralight = UltralightC

	res := readWith(t, mifareUltralightReader{}, s)
	require.True(t, res.OK())
	assert.Equal(t, MifareUltralightPayload{Type: UltralightC}, res.Payload)
	assert.Equal(t, []string{"Open MifareUltralight", "UltralightType", "Close MifareUltralight"}, s.Calls())
}

func TestNdefFormatableReader(t *testing.T) {
	s := NewMockSession(testUID, TechNdefFormatable)

	res := readWith(t, ndefFormatableReader{}, s)
	require.True(t, res.OK())
	assert.Equal(t, NdefFormatablePayload{}, res.Payload)
	assert.Equal(t, []string{"Open NdefFormatable", "Close NdefFormatable"}, s.Calls())
}

func TestReader_OpenErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureReason
	}{
		{"io error", ErrIO, ReasonConnectFailed},
		{"tag removed", NewTagRemovedError("Open", nil), ReasonConnectFailed},
		{"timeout", ErrTimeout, ReasonTimeout},
		{"not supported", NewNotSupportedError("Open NfcB"), ReasonUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewMockSession(testUID, TechNfcB)
			s.OpenErrors = map[Technology]error{TechNfcB: tt.err}

			res := readWith(t, nfcBReader{}, s)
			assert.Equal(t, tt.want, res.Reason())
			assert.True(t, errors.Is(res.Failure, tt.err))
			assert.False(t, s.Called("Close NfcB"), "nothing was opened")
		})
	}
}

func TestReader_CloseErrorKeepsSuccess(t *testing.T) {
	s := NewMockSession(testUID, TechNfcV)
	s.CloseError = errors.New("close failed")

	res := readWith(t, nfcVReader{}, s)
	assert.True(t, res.OK())
}

type plainConn struct{}

func (plainConn) Close() error { return nil }

type plainSession struct{ *MockSession }

func (p plainSession) Open(context.Context, Technology) (Conn, error) {
	return plainConn{}, nil
}

func TestReader_WrongConnectionType(t *testing.T) {
	s := plainSession{NewMockSession(testUID, TechNfcA)}

	res := readWith(t, nfcAReader{}, s)
	assert.Equal(t, ReasonUnsupported, res.Reason())
	assert.True(t, IsNotSupportedError(res.Failure))
}

func TestReader_DeadlineIsTimeout(t *testing.T) {
	s := NewMockSession(testUID, TechNfcA)
	s.BlockOpen = NewTechnologySet(TechNfcA)

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()

	res := nfcAReader{}.Read(ctx, s)
	assert.Equal(t, ReasonTimeout, res.Reason())
}

func TestRecoverRead(t *testing.T) {
	s := NewMockSession(testUID, TechNfcF)
	s.OpenPanics = NewTechnologySet(TechNfcF)

	res := recoverRead(context.Background(), nfcFReader{}, s)
	assert.Equal(t, ReasonConnectFailed, res.Reason())
	assert.Contains(t, res.Failure.Error(), "transport panic")
}
