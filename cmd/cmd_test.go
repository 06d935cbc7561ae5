package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nedpals/nfcard/buildinfo"
	"github.com/nedpals/nfcard/internal/observability"
)

// testdataDir is resolved at init, before any test changes directory.
var testdataDir, _ = filepath.Abs(filepath.Join("..", "nfc", "capture", "testdata"))

func testdata(name string) string {
	return filepath.Join(testdataDir, name)
}

// run executes the command line in an empty directory so no nfcard.yaml is
// picked up.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)
	t.Chdir(t.TempDir())

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

type report struct {
	TagID   string `json:"tagID"`
	Source  string `json:"source"`
	Entries []struct {
		Technology string `json:"technology"`
		Status     string `json:"status"`
		Failure    *struct {
			Reason string `json:"reason"`
		} `json:"failure"`
	} `json:"entries"`
}

func decodeReports(t *testing.T, out string) []report {
	t.Helper()
	var reports []report
	dec := json.NewDecoder(strings.NewReader(out))
	for dec.More() {
		var r report
		require.NoError(t, dec.Decode(&r))
		reports = append(reports, r)
	}
	return reports
}

func TestRootCmd_Version(t *testing.T) {
	out, err := run(t, "", "--version")
	require.NoError(t, err)
	assert.Equal(t, buildinfo.FullVersion()+"\n", out)

	out, err = run(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, buildinfo.Name+" "+buildinfo.FullVersion())
}

func TestReadCmd(t *testing.T) {
	out, err := run(t, "", "read", testdata("ntag_url.json"), testdata("classic_locked.json"))
	require.NoError(t, err)

	reports := decodeReports(t, out)
	require.Len(t, reports, 2)

	assert.Equal(t, "04ABCDEF123480", reports[0].TagID)
	assert.Equal(t, "file:"+testdata("ntag_url.json"), reports[0].Source)
	for _, e := range reports[0].Entries {
		assert.Equal(t, "ok", e.Status, e.Technology)
	}

	assert.Equal(t, "04A1B2C3", reports[1].TagID)
	var classic bool
	for _, e := range reports[1].Entries {
		if e.Technology == "MifareClassic" {
			classic = true
			assert.Equal(t, "failed", e.Status)
			require.NotNil(t, e.Failure)
			assert.Equal(t, "authentication-failed", e.Failure.Reason)
		}
	}
	assert.True(t, classic, "MifareClassic entry missing")
}

func TestReadCmd_StdinAndPretty(t *testing.T) {
	data, err := os.ReadFile(testdata("classic_default_key.json"))
	require.NoError(t, err)

	out, err := run(t, string(data), "read", "--pretty", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "\n  \"encounterID\"")

	reports := decodeReports(t, out)
	require.Len(t, reports, 1)
	assert.Equal(t, "file:-", reports[0].Source)
}

func TestReadCmd_Errors(t *testing.T) {
	_, err := run(t, "", "read")
	assert.Error(t, err)

	_, err = run(t, "", "read", "does-not-exist.json")
	assert.Error(t, err)

	_, err = run(t, `{"uid":"zz","techList":["NfcA"]}`, "read", "-")
	assert.ErrorContains(t, err, "stdin")
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "nfcard.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("engine:\n  queue_size: 0\n"), 0o600))

	_, err := run(t, "", "--config", cfg, "version")
	assert.ErrorContains(t, err, "queue_size")

	_, err = run(t, "", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "version")
	assert.Error(t, err)
}

func TestDevicesCmd(t *testing.T) {
	orig := listDevices
	t.Cleanup(func() { listDevices = orig })

	listDevices = func() ([]string, error) { return []string{"pn532_uart:/dev/ttyUSB0", "acr122_usb:001:004"}, nil }
	out, err := run(t, "", "devices")
	require.NoError(t, err)
	assert.Equal(t, "pn532_uart:/dev/ttyUSB0\nacr122_usb:001:004\n", out)

	listDevices = func() ([]string, error) { return nil, nil }
	out, err = run(t, "", "devices")
	require.NoError(t, err)
	assert.Equal(t, "No libnfc devices found\n", out)

	listDevices = func() ([]string, error) { return nil, errors.New("libnfc unavailable") }
	_, err = run(t, "", "devices")
	assert.ErrorContains(t, err, "libnfc unavailable")
}
