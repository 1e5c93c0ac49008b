package chunkuploader

import (
	"context"
	"fmt"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
)

// Notifier is called when extraction has been running for longer than the notify threshold
// since the previous notification.
type Notifier func(session Session, waited time.Duration)

// PollerOption ...
type PollerOption func(*Poller)

// WithNotifier replaces the default log line emitted while extraction is still running.
func WithNotifier(notifier Notifier) PollerOption {
	return func(p *Poller) {
		p.notify = notifier
	}
}

// WithInterrupts sets a channel of soft interruptions. An interruption cuts the current pause
// short, is counted and logged, and polling continues with the next request.
func WithInterrupts(interrupts <-chan struct{}) PollerOption {
	return func(p *Poller) {
		p.interrupts = interrupts
	}
}

// WithTimer replaces time.After, mainly for tests.
func WithTimer(after func(time.Duration) <-chan time.Time) PollerOption {
	return func(p *Poller) {
		p.after = after
	}
}

// ExtractionResult is the outcome of Poller.Extract.
type ExtractionResult struct {
	Session       Session
	Extracted     bool
	Polls         int
	Interruptions int
}

// Poller requests extraction of an uploaded archive until the server reports a terminal status.
type Poller struct {
	transport       Transport
	logger          log.Logger
	interval        time.Duration
	notifyThreshold time.Duration
	notify          Notifier
	interrupts      <-chan struct{}
	after           func(time.Duration) <-chan time.Time
}

// NewPoller ...
func NewPoller(transport Transport, config Config, logger log.Logger, opts ...PollerOption) *Poller {
	config = config.withDefaults()
	p := &Poller{
		transport:       transport,
		logger:          logger,
		interval:        config.PollInterval,
		notifyThreshold: config.NotifyThreshold,
		after:           time.After,
	}
	p.notify = p.logStillWaiting
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Extract polls while the status is UPLOADED or EXTRACTING. Every response replaces the known
// status. A terminal status other than EXTRACTED is a non-success result, not an error; a failing
// request or a cancelled context is an error.
func (p *Poller) Extract(ctx context.Context, appGUID string, session Session) (ExtractionResult, error) {
	p.logger.Infof("Extracting archive on AIP Console")

	result := ExtractionResult{Session: session}
	interrupts := p.interrupts
	var waited time.Duration

	for result.Session.Status.ExtractionPending() {
		if err := ctx.Err(); err != nil {
			return result, &UploadError{Phase: PhaseExtraction, Err: fmt.Errorf("polling cancelled: %w", err)}
		}

		updated, err := p.transport.ExtractUpload(ctx, appGUID, result.Session.GUID)
		if err != nil {
			p.logger.Errorf("Unable to extract source code archive on AIP Console: %s", err)
			return result, &UploadError{Phase: PhaseExtraction, Err: err}
		}
		if updated.GUID == "" {
			updated.GUID = result.Session.GUID
		}
		result.Session = updated
		result.Polls++
		p.logger.Debugf("Extraction status: %s", updated.StatusText())

		if !updated.Status.ExtractionPending() {
			break
		}

		interrupted, err := p.pause(ctx, &interrupts)
		if err != nil {
			return result, &UploadError{Phase: PhaseExtraction, Err: fmt.Errorf("polling cancelled: %w", err)}
		}
		if interrupted {
			result.Interruptions++
			p.logger.Warnf("Pause between extraction polls was interrupted. Trying to continue polling AIP Console")
			continue
		}
		waited += p.interval

		if waited > p.notifyThreshold {
			p.notify(result.Session, waited)
			waited = 0
		}
	}

	result.Extracted = result.Session.Status == StatusExtracted
	if !result.Extracted {
		p.logger.Warnf("Extraction finished with status %s", result.Session.StatusText())
	}
	return result, nil
}

func (p *Poller) logStillWaiting(session Session, _ time.Duration) {
	p.logger.Infof("Waiting for AIP Console to finish extraction. Current status is %s", session.StatusText())
}

// pause waits one poll interval and reports whether an interrupt cut it short.
// A closed interrupts channel is dropped, it does not count as an interrupt.
func (p *Poller) pause(ctx context.Context, interrupts *<-chan struct{}) (bool, error) {
	timer := p.after(p.interval)
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer:
			return false, nil
		case _, ok := <-*interrupts:
			if !ok {
				*interrupts = nil
				continue
			}
			return true, nil
		}
	}
}
