package nfc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultQueueSize         = 8
	DefaultTechnologyTimeout = 2 * time.Second
)

var (
	// ErrNilSession is returned when a nil session is handed to the orchestrator.
	ErrNilSession = errors.New("nil tag session")

	// ErrQueueFull is returned by Submit when the encounter queue is full.
	ErrQueueFull = errors.New("encounter queue full")

	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("orchestrator closed")
)

// State is the lifecycle of one encounter.
type State int32

const (
	StateIdle State = iota
	StateReading
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReading:
		return "reading"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Sourced is implemented by sessions that can name the transport they came
// from. The label is copied into the report.
type Sourced interface {
	Source() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRegistry replaces the built-in reader table.
func WithRegistry(r *Registry) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.registry = r
		}
	}
}

// WithEventSink sets the sink that receives read events.
func WithEventSink(sink EventSink) Option {
	return func(o *Orchestrator) {
		if sink != nil {
			o.sink = sink
		}
	}
}

// WithTechnologyTimeout bounds each technology read. Zero disables the bound.
func WithTechnologyTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.timeout = d
		}
	}
}

// WithQueueSize sets how many submitted encounters may wait for the worker.
func WithQueueSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithClock sets the clock used for report and event timestamps.
func WithClock(c Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

// Orchestrator runs the registry against tag sessions. Submitted sessions
// are processed one at a time by a single worker goroutine; within an
// encounter every applicable reader runs exactly once, in registry order.
type Orchestrator struct {
	registry  *Registry
	sink      EventSink
	clock     Clock
	timeout   time.Duration
	queueSize int

	mu     sync.RWMutex // guards closed and the send side of queue
	closed bool
	queue  chan *Pending
	done   chan struct{}
}

// NewOrchestrator creates an orchestrator and starts its worker. Call Close
// to stop it.
func NewOrchestrator(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:  NewRegistry(),
		sink:      nopSink{},
		clock:     NewRealClock(),
		timeout:   DefaultTechnologyTimeout,
		queueSize: DefaultQueueSize,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.queue = make(chan *Pending, o.queueSize)
	go o.worker()
	return o
}

// Pending is the handle for a submitted encounter. It resolves exactly once.
type Pending struct {
	id      uuid.UUID
	session Session
	state   atomic.Int32
	done    chan struct{}
	report  *TagReport
}

// EncounterID is the id the finished report will carry.
func (p *Pending) EncounterID() uuid.UUID {
	return p.id
}

// State returns the current lifecycle state of the encounter.
func (p *Pending) State() State {
	return State(p.state.Load())
}

// Done is closed when the report is ready.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the report is ready or ctx is done.
func (p *Pending) Wait(ctx context.Context) (*TagReport, error) {
	select {
	case <-p.done:
		return p.report, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Submit queues s for the worker and returns immediately.
func (o *Orchestrator) Submit(s Session) (*Pending, error) {
	if s == nil {
		return nil, ErrNilSession
	}
	p := &Pending{
		id:      uuid.New(),
		session: s,
		done:    make(chan struct{}),
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return nil, ErrClosed
	}
	select {
	case o.queue <- p:
		return p, nil
	default:
		return nil, ErrQueueFull
	}
}

// Read runs one encounter on the calling goroutine. It always returns a
// report for a non-nil session.
func (o *Orchestrator) Read(ctx context.Context, s Session) (*TagReport, error) {
	if s == nil {
		return nil, ErrNilSession
	}
	return o.run(ctx, uuid.New(), s, nil), nil
}

// Close stops accepting encounters, lets the worker finish the queued ones
// and waits for it to exit.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
	o.mu.Unlock()
	<-o.done
	return nil
}

func (o *Orchestrator) worker() {
	defer close(o.done)
	for p := range o.queue {
		p.report = o.run(context.Background(), p.id, p.session, &p.state)
		close(p.done)
	}
}

func (o *Orchestrator) run(ctx context.Context, id uuid.UUID, s Session, state *atomic.Int32) *TagReport {
	setState := func(st State) {
		if state != nil {
			state.Store(int32(st))
		}
	}
	setState(StateReading)

	report := &TagReport{
		EncounterID: id,
		StartedAt:   o.clock.Now(),
	}
	describe(s, report)

	o.sink.HandleReadEvent(ReadEvent{
		Kind:         EventEncounterStarted,
		EncounterID:  id,
		TagID:        report.TagID,
		Source:       report.Source,
		Technologies: report.Technologies,
		Time:         report.StartedAt,
	})

	for _, reader := range o.registry.Applicable(s, report.Technologies) {
		start := o.clock.Now()
		result := o.readOne(ctx, reader, s)
		end := o.clock.Now()

		report.entries = append(report.entries, ReportEntry{Technology: reader.Technology(), Result: result})
		o.sink.HandleReadEvent(ReadEvent{
			Kind:         EventTechnologyRead,
			EncounterID:  id,
			TagID:        report.TagID,
			Source:       report.Source,
			Technologies: report.Technologies,
			Technology:   reader.Technology(),
			Result:       result,
			Duration:     end.Sub(start),
			Time:         end,
		})
	}

	report.FinishedAt = o.clock.Now()
	setState(StateComplete)
	o.sink.HandleReadEvent(ReadEvent{
		Kind:         EventEncounterComplete,
		EncounterID:  id,
		TagID:        report.TagID,
		Source:       report.Source,
		Technologies: report.Technologies,
		Duration:     report.Duration(),
		Time:         report.FinishedAt,
		Report:       report,
	})
	return report
}

// describe copies the identity of s into report. A session that panics here
// yields a report with no technologies and therefore no entries.
func describe(s Session, report *TagReport) {
	defer func() {
		if recover() != nil {
			report.TagID = nil
			report.Source = ""
			report.Technologies = 0
		}
	}()
	report.TagID = s.ID().Clone()
	report.Technologies = s.Technologies()
	if src, ok := s.(Sourced); ok {
		report.Source = src.Source()
	}
}

func (o *Orchestrator) readOne(ctx context.Context, r TechnologyReader, s Session) ReadResult {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	return recoverRead(ctx, r, s)
}
