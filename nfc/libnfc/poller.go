package libnfc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nedpals/nfcard/nfc"
)

const (
	DefaultPollInterval = 250 * time.Millisecond

	// MaxConsecutiveErrors is how many failed detections in a row stop Run.
	MaxConsecutiveErrors = 5
)

// Detector finds the tags currently in a reader's field.
type Detector interface {
	Detect(ctx context.Context) ([]nfc.Session, error)
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithClock(c nfc.Clock) PollerOption {
	return func(p *Poller) {
		if c != nil {
			p.clock = c
		}
	}
}

func WithLogger(l *zap.Logger) PollerOption {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithReportHandler sets the callback that receives every finished report.
func WithReportHandler(fn func(*nfc.TagReport)) PollerOption {
	return func(p *Poller) {
		p.onReport = fn
	}
}

// Poller turns tags appearing on a Detector into encounters. A tag that
// stays in the field is read once; it is read again only after it has left
// and come back.
type Poller struct {
	det      Detector
	orch     *nfc.Orchestrator
	clock    nfc.Clock
	interval time.Duration
	logger   *zap.Logger
	onReport func(*nfc.TagReport)

	present map[string]struct{}
}

func NewPoller(det Detector, orch *nfc.Orchestrator, opts ...PollerOption) *Poller {
	p := &Poller{
		det:      det,
		orch:     orch,
		clock:    nfc.NewRealClock(),
		interval: DefaultPollInterval,
		logger:   zap.NewNop(),
		present:  map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until ctx is done. It returns nil on cancellation, and an error
// once detection has failed MaxConsecutiveErrors times in a row or as soon as
// the device is closed.
func (p *Poller) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("Polling for tags", zap.Duration("interval", p.interval))
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
		}

		if _, err := p.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if nfc.IsDeviceClosedError(err) {
				return fmt.Errorf("reader gone: %w", err)
			}
			failures++
			p.logger.Warn("Tag detection failed", zap.Error(err), zap.Int("consecutive", failures))
			if failures >= MaxConsecutiveErrors {
				return fmt.Errorf("tag detection failed %d times: %w", failures, err)
			}
			continue
		}
		failures = 0
	}
}

// Poll runs one detection and reads every tag that was not present on the
// previous poll. It must not be called concurrently with Run.
func (p *Poller) Poll(ctx context.Context) ([]*nfc.TagReport, error) {
	sessions, err := p.det.Detect(ctx)
	if err != nil {
		return nil, err
	}

	var reports []*nfc.TagReport
	seen := make(map[string]struct{}, len(sessions))
	for _, s := range sessions {
		uid := s.ID().String()
		if _, ok := p.present[uid]; ok {
			seen[uid] = struct{}{}
			continue
		}

		report, err := p.read(ctx, s)
		if err != nil {
			if errors.Is(err, nfc.ErrQueueFull) {
				p.logger.Warn("Encounter dropped", zap.String("uid", uid), zap.Error(err))
				continue
			}
			return reports, err
		}
		seen[uid] = struct{}{}
		reports = append(reports, report)

		p.logger.Info("Tag read", zap.String("uid", uid), zap.String("summary", report.Summary()))
		if p.onReport != nil {
			p.onReport(report)
		}
	}

	for uid := range p.present {
		if _, ok := seen[uid]; !ok {
			p.logger.Debug("Tag left the field", zap.String("uid", uid))
		}
	}
	p.present = seen
	return reports, nil
}

func (p *Poller) read(ctx context.Context, s nfc.Session) (*nfc.TagReport, error) {
	pending, err := p.orch.Submit(s)
	if err != nil {
		return nil, err
	}
	return pending.Wait(ctx)
}
