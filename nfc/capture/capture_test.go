package capture

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nedpals/nfcard/nfc"
)

func TestParseUID(t *testing.T) {
	for _, in := range []string{"04:AB:CD:EF", "04ABCDEF", "04 ab cd ef", "04-AB-CD-EF"} {
		id, err := ParseUID(in)
		require.NoError(t, err, in)
		assert.Equal(t, nfc.TagID{0x04, 0xAB, 0xCD, 0xEF}, id, in)
	}

	for _, in := range []string{"", "04ABC", "04:ZZ", "0x04AB"} {
		_, err := ParseUID(in)
		assert.Error(t, err, in)
	}
}

func TestFormatUID(t *testing.T) {
	assert.Equal(t, "04:AB:CD:EF", FormatUID(nfc.TagID{0x04, 0xAB, 0xCD, 0xEF}))
	assert.Equal(t, "", FormatUID(nil))
}

func TestDecode_Validation(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"bad uid", `{"uid":"xyz","techList":["NfcA"]}`, "invalid uid"},
		{"unknown tech", `{"uid":"04AB","techList":["android.nfc.tech.IsoDep"]}`, "invalid techList"},
		{"short atqa", `{"uid":"04AB","techList":["NfcA"],"nfcA":{"atqa":"04","sak":8}}`, "atqa"},
		{"short key", `{"uid":"04AB","techList":["MifareClassic"],"mifareClassic":{"keyA":"FFFF","sector0":[]}}`, "keyA"},
		{"block outside sector 0", `{"uid":"04AB","techList":["MifareClassic"],"mifareClassic":{"keyA":"FFFFFFFFFFFF","sector0":[{"block":4,"data":"00000000000000000000000000000000"}]}}`, "not in sector 0"},
		{"not json", `{`, "decode capture"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func readFile(t *testing.T, name string) *nfc.TagReport {
	t.Helper()
	c, err := LoadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	s, err := NewSession(c, "file:"+name)
	require.NoError(t, err)

	o := nfc.NewOrchestrator()
	defer o.Close()
	report, err := o.Read(context.Background(), s)
	require.NoError(t, err)
	return report
}

func TestSession_ClassicDefaultKey(t *testing.T) {
	report := readFile(t, "classic_default_key.json")

	assert.Equal(t, "04A1B2C3", report.TagID.String())
	assert.Equal(t, "file:classic_default_key.json", report.Source)
	assert.Equal(t, []nfc.Technology{nfc.TechNfcA, nfc.TechMifareClassic, nfc.TechNdefFormatable}, report.Attempted())

	res, _ := report.Lookup(nfc.TechMifareClassic)
	require.True(t, res.OK(), res.String())
	assert.Equal(t, "04A1B2C3D40804006263646566676869", res.Payload.(nfc.MifareClassicPayload).Data.String())

	res, _ = report.Lookup(nfc.TechNdefFormatable)
	assert.True(t, res.OK())
}

func TestSession_ClassicLocked(t *testing.T) {
	report := readFile(t, "classic_locked.json")

	res, _ := report.Lookup(nfc.TechNfcA)
	require.True(t, res.OK())
	assert.Equal(t, uint16(0x0400), res.Payload.(nfc.NfcAPayload).ATQAValue())

	res, _ = report.Lookup(nfc.TechMifareClassic)
	assert.Equal(t, nfc.ReasonAuthenticationFailed, res.Reason())
}

func TestSession_NtagWithURI(t *testing.T) {
	report := readFile(t, "ntag_url.json")

	assert.Equal(t, []nfc.Technology{nfc.TechNDEF, nfc.TechNfcA, nfc.TechMifareUltralight}, report.Attempted())
	res, _ := report.Lookup(nfc.TechNDEF)
	require.True(t, res.OK())
	records := res.Payload.(nfc.NDEFPayload).Records
	require.Len(t, records, 1)
	uri, ok := records[0].URI()
	require.True(t, ok)
	assert.Equal(t, "https://example.com", uri)

	res, _ = report.Lookup(nfc.TechMifareUltralight)
	assert.Equal(t, nfc.MifareUltralightPayload{Type: nfc.UltralightPlain}, res.Payload)
}

func TestSession_MissingSectionAndEmptyNdef(t *testing.T) {
	c, err := Decode(strings.NewReader(`{"uid":"04AB","techList":["Ndef","NfcB"],"ndef":null}`))
	require.NoError(t, err)
	s, err := NewSession(c, "test")
	require.NoError(t, err)

	o := nfc.NewOrchestrator()
	defer o.Close()
	report, err := o.Read(context.Background(), s)
	require.NoError(t, err)

	res, _ := report.Lookup(nfc.TechNDEF)
	require.True(t, res.OK())
	assert.Empty(t, res.Payload.(nfc.NDEFPayload).Records)

	res, _ = report.Lookup(nfc.TechNfcB)
	assert.Equal(t, nfc.ReasonConnectFailed, res.Reason())
	assert.ErrorIs(t, res.Failure, ErrMissingSection)
}

func TestSession_OpenUnlistedTechnology(t *testing.T) {
	c, err := Decode(strings.NewReader(`{"uid":"04AB","techList":["NfcA"],"nfcA":{"atqa":"0400","sak":8}}`))
	require.NoError(t, err)
	s, err := NewSession(c, "test")
	require.NoError(t, err)

	_, err = s.Open(context.Background(), nfc.TechNfcV)
	assert.True(t, nfc.IsNotSupportedError(err))
}
