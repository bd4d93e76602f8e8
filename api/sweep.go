/*
sweep.go - Delinquency sweep and cron scheduler

PURPOSE:
  Evaluates every active client and notifies the ones whose state needs
  attention (upcoming, overdue, delinquent, critical). Runs on a cron
  schedule and on demand through POST /api/admin/sweep.

IDEMPOTENCY:
  A delivery is keyed by (client, oldest overdue due date, state, channel).
  Each channel's key is recorded after that channel succeeds, so re-running
  a sweep on the same day sends nothing new and a channel that failed is
  retried alone. A client escalating from overdue to delinquent gets a new
  notice; paying the oldest period moves the due date and also produces a
  new key.

FAILURES:
  Per-client errors (loading payments, delivery) are logged and counted in
  the report. A client with any failed channel counts as failed even when
  other channels delivered. Only listing clients or a cancelled context aborts the run.

SCHEDULING:
  robfig/cron with Recover and SkipIfStillRunning, so a slow sweep is never
  run twice concurrently by the scheduler.
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/warp/parking-engine/billing"
	"github.com/warp/parking-engine/clock"
	"go.uber.org/zap"
)

// =============================================================================
// SWEEP
// =============================================================================

// SweepReport summarizes one sweep.
type SweepReport struct {
	AsOf            time.Time
	StartedAt       time.Time
	FinishedAt      time.Time
	Evaluated       int
	Notified        int
	AlreadyNotified int
	Failed          int
	ByState         map[billing.DelinquencyState]int
}

type DelinquencySweep struct {
	Store      billing.Store
	Classifier *billing.Classifier
	Notifier   billing.Notifier
	Clock      clock.Clock

	log *zap.Logger
	mu  sync.Mutex
}

func NewDelinquencySweep(store billing.Store, classifier *billing.Classifier, notifier billing.Notifier, clk clock.Clock, log *zap.Logger) *DelinquencySweep {
	return &DelinquencySweep{
		Store:      store,
		Classifier: classifier,
		Notifier:   notifier,
		Clock:      clk,
		log:        log,
	}
}

// Run evaluates all active clients as of asOf and delivers pending notices.
// Concurrent calls are serialized.
func (s *DelinquencySweep) Run(ctx context.Context, asOf time.Time) (SweepReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := SweepReport{
		AsOf:      billing.Day(asOf),
		StartedAt: s.Clock.Now(),
		ByState:   make(map[billing.DelinquencyState]int),
	}

	clients, err := s.Store.ListClients(ctx, true)
	if err != nil {
		return report, fmt.Errorf("list clients: %w", err)
	}

	for _, c := range clients {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = s.Clock.Now()
			return report, err
		}

		sent, err := s.sweepClient(ctx, c, asOf, &report)
		if err != nil {
			report.Failed++
			s.log.Error("sweep failed for client",
				zap.String("client_id", string(c.ID)),
				zap.Error(err),
			)
			continue
		}
		if sent {
			report.Notified++
		}
	}

	report.FinishedAt = s.Clock.Now()
	s.log.Info("delinquency sweep finished",
		zap.String("as_of", billing.FormatDate(report.AsOf)),
		zap.Int("evaluated", report.Evaluated),
		zap.Int("notified", report.Notified),
		zap.Int("already_notified", report.AlreadyNotified),
		zap.Int("failed", report.Failed),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

// sweepClient evaluates one client and delivers its notice when due.
func (s *DelinquencySweep) sweepClient(ctx context.Context, c billing.Client, asOf time.Time, report *SweepReport) (bool, error) {
	payments, err := s.Store.PaymentsByClient(ctx, c.ID)
	if err != nil {
		return false, fmt.Errorf("load payments: %w", err)
	}
	ev, err := s.Classifier.Evaluate(c, payments, asOf)
	if err != nil {
		return false, err
	}
	report.Evaluated++
	report.ByState[ev.State]++

	if !ev.State.NeedsAttention() || ev.OldestDue == nil {
		return false, nil
	}

	notice := billing.Notice{Client: c, Evaluation: ev}
	var (
		sent bool
		errs []error
	)
	for _, ch := range billing.Channels(s.Notifier) {
		ok, err := s.deliver(ctx, ch, notice)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
			continue
		}
		sent = sent || ok
	}
	if len(errs) > 0 {
		return sent, errors.Join(errs...)
	}
	if !sent {
		report.AlreadyNotified++
	}
	return sent, nil
}

// deliver sends the notice through one channel unless that channel already
// has it, and records the delivery.
func (s *DelinquencySweep) deliver(ctx context.Context, ch billing.Notifier, n billing.Notice) (bool, error) {
	ev := n.Evaluation
	key := billing.NotificationKey(n.Client.ID, *ev.OldestDue, ev.State, ch.Name())
	done, err := s.Store.WasNotified(ctx, key)
	if err != nil {
		return false, fmt.Errorf("check notification log: %w", err)
	}
	if done {
		return false, nil
	}

	if err := ch.Notify(ctx, n); err != nil {
		return false, fmt.Errorf("notify: %w", err)
	}

	err = s.Store.RecordNotification(ctx, billing.NotificationRecord{
		Key:      key,
		ClientID: n.Client.ID,
		State:    ev.State,
		Due:      *ev.OldestDue,
		SentAt:   s.Clock.Now(),
		Channels: ch.Name(),
	})
	if errors.Is(err, billing.ErrDuplicateNotification) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("record notification: %w", err)
	}
	return true, nil
}

// =============================================================================
// SCHEDULER
// =============================================================================

// Scheduler runs the sweep on a cron schedule, evaluating as of the clock's now.
type Scheduler struct {
	cron  *cron.Cron
	sweep *DelinquencySweep
	clock clock.Clock
	log   *zap.Logger

	// Timeout bounds a single scheduled run.
	Timeout time.Duration
}

func NewScheduler(sweep *DelinquencySweep, clk clock.Clock, log *zap.Logger) *Scheduler {
	cl := cronLogger{log.Sugar()}
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		sweep:   sweep,
		clock:   clk,
		log:     log,
		Timeout: 10 * time.Minute,
	}
}

// Schedule registers the sweep on a standard 5-field cron spec.
func (s *Scheduler) Schedule(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.RunOnce); err != nil {
		return fmt.Errorf("schedule sweep %q: %w", spec, err)
	}
	s.log.Info("delinquency sweep scheduled", zap.String("schedule", spec))
	return nil
}

// RunOnce performs one sweep as of now.
func (s *Scheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	if _, err := s.sweep.Run(ctx, s.clock.Now()); err != nil {
		s.log.Error("scheduled sweep failed", zap.Error(err))
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler. The returned context is done once a running
// sweep has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
