// Package poller watches the generation backend for finished jobs and
// turns each newly observed outcome into one transient notification.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/phuslu/log"
	"github.com/robfig/cron/v3"

	"github.com/esnunes/tcgen/internal/backend"
	"github.com/esnunes/tcgen/internal/models"
)

const (
	DefaultInterval      = 3 * time.Second
	DefaultCompletionTTL = 5 * time.Second
	DefaultLaunchTTL     = 3 * time.Second
)

var ErrAlreadyRunning = errors.New("poller already running")

// JobSource is the part of the generation backend the poller needs.
type JobSource interface {
	LatestJob(ctx context.Context) (*models.JobStatus, error)
	LaunchGeneration(ctx context.Context, userID string) (*models.LaunchResult, error)
}

type Notifier interface {
	Show(kind models.NotificationKind, message string, ttl time.Duration) models.Notification
}

type Options struct {
	Interval      time.Duration
	CompletionTTL time.Duration
	LaunchTTL     time.Duration
	Location      *time.Location
}

type Poller struct {
	source   JobSource
	notifier Notifier
	opts     Options

	mu       sync.Mutex
	lastSeen string
	epoch    uint64
	sched    *cron.Cron
}

func New(source JobSource, notifier Notifier, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.CompletionTTL <= 0 {
		opts.CompletionTTL = DefaultCompletionTTL
	}
	if opts.LaunchTTL <= 0 {
		opts.LaunchTTL = DefaultLaunchTTL
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Poller{source: source, notifier: notifier, opts: opts}
}

// Start schedules a tick every interval until Stop. A tick is skipped
// while the previous one is still in flight. Each session starts with no
// job seen, so the latest outcome is reported again.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sched != nil {
		return ErrAlreadyRunning
	}
	p.lastSeen = ""

	logger := cronLogger{}
	sched := cron.New(cron.WithLogger(logger), cron.WithChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	))
	epoch := p.epoch
	sched.Schedule(cron.Every(p.opts.Interval), cron.FuncJob(func() {
		p.tick(ctx, epoch)
	}))
	sched.Start()
	p.sched = sched

	log.Info().Dur("interval", p.opts.Interval).Msg("Job poller started")
	return nil
}

// Stop cancels the schedule. Responses to requests still in flight are
// discarded. Stop is safe to call when not running.
func (p *Poller) Stop() {
	p.mu.Lock()
	sched := p.sched
	p.sched = nil
	p.epoch++
	p.mu.Unlock()

	if sched == nil {
		return
	}
	sched.Stop()
	log.Info().Msg("Job poller stopped")
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sched != nil
}

// LastSeen returns the start time of the last job reported.
func (p *Poller) LastSeen() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeen
}

// Poll runs a single tick immediately. It reports whether a notification
// was emitted.
func (p *Poller) Poll(ctx context.Context) bool {
	p.mu.Lock()
	epoch := p.epoch
	p.mu.Unlock()
	return p.tick(ctx, epoch)
}

func (p *Poller) tick(ctx context.Context, epoch uint64) bool {
	job, err := p.source.LatestJob(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Polling latest job failed")
		return false
	}
	if job == nil || job.StartedAt == "" {
		return false
	}

	// Compare against the newest state, not a value captured before the
	// request, so overlapping ticks cannot report the same job twice.
	p.mu.Lock()
	defer p.mu.Unlock()
	if epoch != p.epoch {
		return false
	}
	if p.lastSeen != "" && job.StartedAt <= p.lastSeen {
		return false
	}

	launched := FormatLaunchTime(job.StartedAt, p.opts.Location)
	switch job.Status {
	case models.JobCompleted:
		p.notifier.Show(models.NotificationSuccess, fmt.Sprintf("Request launched at %s is finished!", launched), p.opts.CompletionTTL)
	case models.JobFailed:
		p.notifier.Show(models.NotificationFailure, fmt.Sprintf("Request launched at %s failed!", launched), p.opts.CompletionTTL)
	default:
		return false
	}
	p.lastSeen = job.StartedAt
	return true
}

// Launch starts a generation job for userID and acknowledges it. The
// poller reports the job's outcome once it reaches a terminal state.
func (p *Poller) Launch(ctx context.Context, userID string) (*models.LaunchResult, error) {
	res, err := p.source.LaunchGeneration(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Failed to launch generation")
		p.notifier.Show(models.NotificationFailure, "Failed to launch request", p.opts.LaunchTTL)
		return nil, err
	}
	launched := FormatLaunchTime(res.StartedAt, p.opts.Location)
	p.notifier.Show(models.NotificationInfo, fmt.Sprintf("Request launched at %s", launched), p.opts.LaunchTTL)
	return res, nil
}

var startedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// FormatLaunchTime renders a backend start timestamp as a wall clock time
// in loc. Zone-less timestamps are read in loc. Unparseable values are
// returned unchanged.
func FormatLaunchTime(startedAt string, loc *time.Location) string {
	for _, layout := range startedAtLayouts {
		if t, err := time.ParseInLocation(layout, startedAt, loc); err == nil {
			return t.In(loc).Format("15:04:05")
		}
	}
	return startedAt
}

// cronLogger routes scheduler messages to the process logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	log.Debug().Any("details", keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	log.Error().Err(err).Any("details", keysAndValues).Msg("cron: " + msg)
}

var _ JobSource = (*backend.Client)(nil)
