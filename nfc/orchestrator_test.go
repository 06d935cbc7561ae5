package nfc

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingSink struct {
	mu     sync.Mutex
	events []ReadEvent
}

func (r *recordingSink) HandleReadEvent(ev ReadEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingSink) Events() []ReadEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ReadEvent(nil), r.events...)
}

func newTestOrchestrator(t *testing.T, opts ...Option) *Orchestrator {
	t.Helper()
	o := NewOrchestrator(opts...)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

// fullSession reports every technology with plausible values.
func fullSession() *MockSession {
	s := NewMockSession(testUID, AllTechnologies()...)
	s.ATQAValue = [2]byte{0x00, 0x44}
	s.SAKValue = 0x00
	s.AppData = []byte{1, 2, 3, 4}
	s.ProtInfo = []byte{0x80, 0x81, 0x41}
	s.SysCode = []byte{0x12, 0xFC}
	s.MfgData = []byte{0, 1, 2, 3, 4, 5, 6, 7}
	s.Ultralight = UltralightPlain
	return s
}

func TestOrchestrator_OneEntryPerPresentTechnology(t *testing.T) {
	o := newTestOrchestrator(t)

	sets := []TechnologySet{
		NewTechnologySet(),
		NewTechnologySet(TechNfcA),
		NewTechnologySet(TechNdefFormatable, TechNfcA, TechMifareUltralight),
		NewTechnologySet(TechNfcF, TechNDEF),
		NewTechnologySet(AllTechnologies()...),
	}
	for _, set := range sets {
		t.Run(set.String(), func(t *testing.T) {
			s := fullSession()
			s.Techs = set

			report, err := o.Read(context.Background(), s)
			require.NoError(t, err)
			assert.Equal(t, set.Technologies(), report.Attempted())
			assert.Equal(t, set.Len(), report.Len())

			for _, tech := range AllTechnologies() {
				_, ok := report.Lookup(tech)
				assert.Equal(t, set.Has(tech), ok, tech.String())
				assert.Equal(t, set.Has(tech), s.Called("Open "+tech.String()),
					"%s must be attempted iff present", tech)
			}
		})
	}
}

func TestOrchestrator_DeterministicOrder(t *testing.T) {
	o := newTestOrchestrator(t)
	set := NewTechnologySet(TechMifareClassic, TechNfcA, TechNDEF, TechNfcV)

	var first []Technology
	for i := 0; i < 5; i++ {
		s := fullSession()
		s.Techs = set
		report, err := o.Read(context.Background(), s)
		require.NoError(t, err)
		if first == nil {
			first = report.Attempted()
			continue
		}
		assert.Equal(t, first, report.Attempted())
	}
	assert.Equal(t, []Technology{TechNDEF, TechNfcA, TechNfcV, TechMifareClassic}, first)
}

func TestOrchestrator_NfcAAndMifareClassicScenario(t *testing.T) {
	o := newTestOrchestrator(t)
	s := NewMockSession(testUID, TechNfcA, TechMifareClassic)
	s.ATQAValue = [2]byte{0x04, 0x00}
	s.SAKValue = 0x08
	s.ClassicKeyA = [6]byte{0xD3, 0xF7, 0xD3, 0xF7, 0xD3, 0xF7}

	report, err := o.Read(context.Background(), s)
	require.NoError(t, err)
	require.Equal(t, 2, report.Len())

	entries := report.Entries()
	assert.Equal(t, TechNfcA, entries[0].Technology)
	require.True(t, entries[0].Result.OK())
	nfca := entries[0].Result.Payload.(NfcAPayload)
	assert.Equal(t, uint16(0x0400), nfca.ATQAValue())
	assert.Equal(t, byte(0x08), nfca.SAK)

	assert.Equal(t, TechMifareClassic, entries[1].Technology)
	assert.Equal(t, ReasonAuthenticationFailed, entries[1].Result.Reason())
	assert.False(t, s.Called("ReadBlock 0"))

	assert.Equal(t, "04A1B2C3: NfcA ok(id=04A1B2C3 atqa=0x0400 sak=0x08), MifareClassic failed(authentication-failed)",
		report.Summary())
}

func TestOrchestrator_NoEarlyAbort(t *testing.T) {
	o := newTestOrchestrator(t)
	s := fullSession()
	s.OpenErrors = map[Technology]error{
		TechNDEF: ErrIO,
		TechNfcB: ErrTimeout,
	}
	s.OpenPanics = NewTechnologySet(TechNfcF)

	report, err := o.Read(context.Background(), s)
	require.NoError(t, err)
	require.Equal(t, len(AllTechnologies()), report.Len())
	assert.Equal(t, 3, report.Failures())

	res, _ := report.Lookup(TechNDEF)
	assert.Equal(t, ReasonConnectFailed, res.Reason())
	res, _ = report.Lookup(TechNfcB)
	assert.Equal(t, ReasonTimeout, res.Reason())
	res, _ = report.Lookup(TechNfcF)
	assert.Equal(t, ReasonConnectFailed, res.Reason())
	res, _ = report.Lookup(TechNdefFormatable)
	assert.True(t, res.OK())
}

func TestOrchestrator_SequentialOpens(t *testing.T) {
	o := newTestOrchestrator(t)
	s := fullSession()

	_, err := o.Read(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 1, s.MaxConcurrentOpen())
	assert.Zero(t, s.OpenConns())
}

func TestOrchestrator_TechnologyTimeout(t *testing.T) {
	o := newTestOrchestrator(t, WithTechnologyTimeout(10*time.Millisecond))
	s := NewMockSession(testUID, TechNfcA, TechNfcV)
	s.BlockOpen = NewTechnologySet(TechNfcA)

	report, err := o.Read(context.Background(), s)
	require.NoError(t, err)

	res, _ := report.Lookup(TechNfcA)
	assert.Equal(t, ReasonTimeout, res.Reason())
	res, _ = report.Lookup(TechNfcV)
	assert.True(t, res.OK(), "a timeout must not abort later technologies")
}

func TestOrchestrator_NilSession(t *testing.T) {
	o := newTestOrchestrator(t)

	_, err := o.Read(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilSession)
	_, err = o.Submit(nil)
	assert.ErrorIs(t, err, ErrNilSession)
}

func TestOrchestrator_SubmitAndWait(t *testing.T) {
	sink := &recordingSink{}
	clock := NewFakeClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	o := newTestOrchestrator(t, WithEventSink(sink), WithClock(clock))

	s := NewMockSession(testUID, TechNfcA, TechNdefFormatable)
	p, err := o.Submit(s)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	report, err := p.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, StateComplete, p.State())
	assert.Equal(t, p.EncounterID(), report.EncounterID)
	assert.Equal(t, "mock", report.Source)
	assert.Equal(t, clock.Now(), report.StartedAt)
	assert.Equal(t, 2, report.Len())

	events := sink.Events()
	require.Len(t, events, 4)
	assert.Equal(t, EventEncounterStarted, events[0].Kind)
	assert.Equal(t, EventTechnologyRead, events[1].Kind)
	assert.Equal(t, TechNfcA, events[1].Technology)
	assert.Equal(t, TechNdefFormatable, events[2].Technology)
	assert.Equal(t, EventEncounterComplete, events[3].Kind)
	assert.Same(t, report, events[3].Report)
	for _, ev := range events {
		assert.Equal(t, p.EncounterID(), ev.EncounterID)
	}
}

type gateReader struct {
	tech    Technology
	started chan struct{}
	release chan struct{}
}

func (g gateReader) Technology() Technology    { return g.tech }
func (g gateReader) Applicable(s Session) bool { return present(s, g.tech) }
func (g gateReader) Read(context.Context, Session) ReadResult {
	g.started <- struct{}{}
	<-g.release
	return Success(NdefFormatablePayload{})
}

func TestOrchestrator_QueueFullAndClose(t *testing.T) {
	gate := gateReader{tech: TechNdefFormatable, started: make(chan struct{}, 4), release: make(chan struct{})}
	o := NewOrchestrator(WithQueueSize(1), WithRegistry(NewRegistry(gate)))

	s := NewMockSession(testUID, TechNdefFormatable)
	first, err := o.Submit(s)
	require.NoError(t, err)
	<-gate.started // worker is busy with the first encounter

	second, err := o.Submit(s)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, second.State())

	_, err = o.Submit(s)
	assert.ErrorIs(t, err, ErrQueueFull)

	close(gate.release)
	require.NoError(t, o.Close())

	// queued encounters are finished before Close returns
	select {
	case <-first.Done():
	default:
		t.Fatal("first encounter not resolved")
	}
	select {
	case <-second.Done():
	default:
		t.Fatal("second encounter not resolved")
	}

	_, err = o.Submit(s)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, o.Close(), "Close is idempotent")
}

func TestPending_WaitHonoursContext(t *testing.T) {
	gate := gateReader{tech: TechNfcA, started: make(chan struct{}, 1), release: make(chan struct{})}
	o := NewOrchestrator(WithRegistry(NewRegistry(gate)))
	defer func() {
		close(gate.release)
		_ = o.Close()
	}()

	p, err := o.Submit(NewMockSession(testUID, TechNfcA))
	require.NoError(t, err)
	<-gate.started
	assert.Equal(t, StateReading, p.State())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	readers := r.Readers()
	require.Len(t, readers, len(AllTechnologies()))
	for i, reader := range readers {
		assert.Equal(t, Technology(i), reader.Technology())
	}
	assert.Nil(t, r.Reader(Technology(50)))

	custom := gateReader{tech: TechNfcB}
	r = NewRegistry(custom, nil)
	assert.Equal(t, custom, r.Reader(TechNfcB))
	assert.Equal(t, TechNfcB, r.Readers()[TechNfcB].Technology())
}

func TestTagReport_JSON(t *testing.T) {
	o := newTestOrchestrator(t)
	s := NewMockSession(testUID, TechNfcA, TechMifareClassic)
	s.ATQAValue = [2]byte{0x04, 0x00}
	s.SAKValue = 0x08
	s.Blocks[0] = [16]byte{0x04, 0xA1, 0xB2, 0xC3}

	report, err := o.Read(context.Background(), s)
	require.NoError(t, err)

	data, err := json.Marshal(report)
	require.NoError(t, err)

	var view struct {
		TagID        string   `json:"tagID"`
		Technologies []string `json:"technologies"`
		Entries      []struct {
			Technology string         `json:"technology"`
			Status     string         `json:"status"`
			Payload    map[string]any `json:"payload"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(data, &view))
	assert.Equal(t, "04A1B2C3", view.TagID)
	assert.Equal(t, []string{"NfcA", "MifareClassic"}, view.Technologies)
	require.Len(t, view.Entries, 2)
	assert.Equal(t, "ok", view.Entries[0].Status)
	assert.Equal(t, "0400", view.Entries[0].Payload["atqa"])
	assert.Equal(t, float64(8), view.Entries[0].Payload["sak"])
	assert.Equal(t, "04A1B2C3000000000000000000000000", view.Entries[1].Payload["data"])
}

func TestTagReport_FailureJSON(t *testing.T) {
	entry := ReportEntry{Technology: TechMifareClassic, Result: Failed(ReasonAuthenticationFailed, nil)}

	data, err := json.Marshal(entry)
	require.NoError(t, err)
	assert.JSONEq(t, `{"technology":"MifareClassic","status":"failed","failure":{"reason":"authentication-failed"}}`, string(data))
}

// greedyReader claims every session regardless of its technologies.
type greedyReader struct{ nfcAReader }

func (greedyReader) Applicable(Session) bool { return true }

func TestOrchestrator_OverrideCannotAddTechnologies(t *testing.T) {
	o := newTestOrchestrator(t, WithRegistry(NewRegistry(greedyReader{})))
	s := NewMockSession(testUID, TechMifareClassic)

	report, err := o.Read(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, []Technology{TechMifareClassic}, report.Attempted())
	assert.Equal(t, 1, report.Len())
	assert.False(t, s.Called("Open NfcA"))
}

type panickyApplicable struct{ nfcAReader }

func (panickyApplicable) Applicable(Session) bool { panic("applicable exploded") }

func TestOrchestrator_PanickingApplicableKeepsEntry(t *testing.T) {
	o := newTestOrchestrator(t, WithRegistry(NewRegistry(panickyApplicable{})))
	s := NewMockSession(testUID, TechNfcA, TechNfcV)

	report, err := o.Read(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, []Technology{TechNfcA, TechNfcV}, report.Attempted())
	res, ok := report.Lookup(TechNfcA)
	require.True(t, ok)
	assert.True(t, res.OK(), res.String())
}

// brokenSession panics when asked for its identity.
type brokenSession struct {
	*MockSession
	panicID bool
}

func (b brokenSession) ID() TagID {
	if b.panicID {
		panic("transport gone")
	}
	return b.MockSession.ID()
}

func (b brokenSession) Technologies() TechnologySet {
	if !b.panicID {
		panic("transport gone")
	}
	return b.MockSession.Technologies()
}

func TestOrchestrator_SessionPanicResolvesPending(t *testing.T) {
	o := newTestOrchestrator(t)

	for _, panicID := range []bool{true, false} {
		s := brokenSession{MockSession: NewMockSession(testUID, TechNfcA), panicID: panicID}
		p, err := o.Submit(s)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		report, err := p.Wait(ctx)
		cancel()
		require.NoError(t, err)
		assert.Equal(t, StateComplete, p.State())
		assert.Zero(t, report.Len())
		assert.Zero(t, report.Technologies.Len())
		assert.Nil(t, report.TagID)
		assert.False(t, s.Called("Open NfcA"))
	}

	// the worker survives and keeps serving encounters
	p, err := o.Submit(NewMockSession(testUID, TechNfcA))
	require.NoError(t, err)
	report, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Len())
}
