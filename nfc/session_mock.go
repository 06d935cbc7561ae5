package nfc

import (
	"context"
	"fmt"
	"sync"
)

// MockSession is a test implementation of Session that simulates a tag
// encounter without a transport.
//
// Each technology listed in Techs can be opened; the returned connection
// serves the canned values below. Every call is recorded in CallLog.
//
// Example:
//
//	s := NewMockSession([]byte{0x04, 0xA1}, TechNfcA, TechMifareClassic)
//	s.ATQAValue = [2]byte{0x04, 0x00}
//	s.SAKValue = 0x08
//	report, _ := orchestrator.Read(ctx, s)
type MockSession struct {
	UID   TagID
	Techs TechnologySet
	Label string

	// OpenErrors, if set for a technology, is returned by Open.
	OpenErrors map[Technology]error

	// OpenPanics makes Open panic for the listed technologies.
	OpenPanics TechnologySet

	// BlockOpen makes Open wait for ctx to expire for the listed technologies.
	BlockOpen TechnologySet

	// CloseError is returned by every Conn.Close.
	CloseError error

	Message    *NDEFMessage
	MessageErr error

	ATQAValue [2]byte
	SAKValue  byte

	AppData  []byte
	ProtInfo []byte

	SysCode []byte
	MfgData []byte

	DSFIDValue byte
	FlagsValue byte

	// ClassicKeyA is the key sector 0 accepts. AuthError, if set, is returned
	// instead of comparing keys.
	ClassicKeyA  [6]byte
	AuthError    error
	Blocks       map[int][16]byte
	ReadBlockErr error

	Ultralight UltralightType

	// CallLog tracks all method calls for verification in tests
	CallLog []string

	mu      sync.Mutex
	open    int
	maxOpen int
}

// NewMockSession creates a session that reports the given technologies and
// accepts the default key A.
func NewMockSession(uid []byte, techs ...Technology) *MockSession {
	return &MockSession{
		UID:         TagID(uid).Clone(),
		Techs:       NewTechnologySet(techs...),
		Label:       "mock",
		ClassicKeyA: DefaultKeyA,
		Blocks:      map[int][16]byte{},
	}
}

func (m *MockSession) ID() TagID {
	return m.UID
}

func (m *MockSession) Technologies() TechnologySet {
	return m.Techs
}

func (m *MockSession) Source() string {
	return m.Label
}

func (m *MockSession) Open(ctx context.Context, tech Technology) (Conn, error) {
	m.record("Open " + tech.String())

	if m.OpenPanics.Has(tech) {
		panic(fmt.Sprintf("mock transport panic on %s", tech))
	}
	if m.BlockOpen.Has(tech) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := m.OpenErrors[tech]; err != nil {
		return nil, err
	}
	if !m.Techs.Has(tech) {
		return nil, NewNotSupportedError("Open " + tech.String())
	}

	m.mu.Lock()
	m.open++
	if m.open > m.maxOpen {
		m.maxOpen = m.open
	}
	m.mu.Unlock()
	return &mockConn{s: m, tech: tech}, nil
}

// Calls returns a copy of the call log.
func (m *MockSession) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.CallLog...)
}

// Called reports whether call appears in the call log.
func (m *MockSession) Called(call string) bool {
	for _, c := range m.Calls() {
		if c == call {
			return true
		}
	}
	return false
}

// OpenConns returns the number of connections not yet closed.
func (m *MockSession) OpenConns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// MaxConcurrentOpen returns the highest number of connections that were open
// at the same time.
func (m *MockSession) MaxConcurrentOpen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxOpen
}

func (m *MockSession) record(call string) {
	m.mu.Lock()
	m.CallLog = append(m.CallLog, call)
	m.mu.Unlock()
}

// mockConn implements every technology connection interface.
type mockConn struct {
	s      *MockSession
	tech   Technology
	closed bool
}

func (c *mockConn) Close() error {
	c.s.record("Close " + c.tech.String())
	c.s.mu.Lock()
	if !c.closed {
		c.closed = true
		c.s.open--
	}
	c.s.mu.Unlock()
	return c.s.CloseError
}

func (c *mockConn) NdefMessage(context.Context) (*NDEFMessage, error) {
	c.s.record("NdefMessage")
	return c.s.Message, c.s.MessageErr
}

func (c *mockConn) ATQA() [2]byte {
	c.s.record("ATQA")
	return c.s.ATQAValue
}

func (c *mockConn) SAK() byte {
	c.s.record("SAK")
	return c.s.SAKValue
}

func (c *mockConn) ApplicationData() []byte {
	c.s.record("ApplicationData")
	return c.s.AppData
}

func (c *mockConn) ProtocolInfo() []byte {
	c.s.record("ProtocolInfo")
	return c.s.ProtInfo
}

func (c *mockConn) SystemCode() []byte {
	c.s.record("SystemCode")
	return c.s.SysCode
}

func (c *mockConn) Manufacturer() []byte {
	c.s.record("Manufacturer")
	return c.s.MfgData
}

func (c *mockConn) DSFID() byte {
	c.s.record("DSFID")
	return c.s.DSFIDValue
}

func (c *mockConn) ResponseFlags() byte {
	c.s.record("ResponseFlags")
	return c.s.FlagsValue
}

func (c *mockConn) AuthenticateSectorWithKeyA(_ context.Context, sector int, key [6]byte) (bool, error) {
	c.s.record(fmt.Sprintf("AuthenticateSectorWithKeyA %d", sector))
	if c.s.AuthError != nil {
		return false, c.s.AuthError
	}
	return sector == 0 && key == c.s.ClassicKeyA, nil
}

func (c *mockConn) ReadBlock(_ context.Context, block int) ([16]byte, error) {
	c.s.record(fmt.Sprintf("ReadBlock %d", block))
	if c.s.ReadBlockErr != nil {
		return [16]byte{}, c.s.ReadBlockErr
	}
	return c.s.Blocks[block], nil
}

func (c *mockConn) UltralightType() UltralightType {
	c.s.record("UltralightType")
	return c.s.Ultralight
}
