// Package scanner hosts the schedule scan loop: a fixed-interval pass over
// the pending descriptors that opens discussion windows, sends channel
// notices and hands due sessions to the quiz engine.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"quizbot/internal/eventbus"
	"quizbot/internal/quiz"
	logx "quizbot/pkg/logx"
)

type Config struct {
	Enabled bool

	Interval         time.Duration // scan tick period
	NoticeWindow     time.Duration // channel notice lead time
	DiscussionWindow time.Duration // group unmute lead time
	StartGrace       time.Duration // max overdue age still eligible to start

	Timezone   string
	DigestSpec string // optional cron spec for the upcoming-quizzes digest
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Second
	}
	if c.NoticeWindow <= 0 {
		c.NoticeWindow = 5 * time.Minute
	}
	if c.DiscussionWindow <= 0 {
		c.DiscussionWindow = 30 * time.Minute
	}
	if c.StartGrace <= 0 {
		c.StartGrace = time.Minute
	}
	return c
}

// Sink is the outbound surface the scanner needs: group announcements,
// channel notices, and the audience mute toggle for the discussion window.
type Sink interface {
	Announce(ctx context.Context, text string) error
	NotifyChannel(ctx context.Context, text string) error
	SetAudienceMuted(ctx context.Context, muted bool) error
}

// Starter hands a due session to the engine.
type Starter interface {
	Start(key string) error
}

type Service struct {
	log logx.Logger
	bus eventbus.Bus

	registry *quiz.Registry
	engine   Starter
	sink     Sink

	mu      sync.Mutex
	cfg     Config
	cron    *cron.Cron
	runCtx  context.Context
	stopRun context.CancelFunc
	running bool

	scanBusy int32

	// deferred holds sessions whose start was refused because another quiz
	// was live; they stay eligible even once overdue past the grace.
	deferredMu sync.Mutex
	deferred   map[string]struct{}
}

func New(cfg Config, registry *quiz.Registry, engine Starter, sink Sink, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:      log,
		bus:      bus,
		registry: registry,
		engine:   engine,
		sink:     sink,
		cfg:      cfg.withDefaults(),
		deferred: map[string]struct{}{},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if !s.cfg.Enabled {
		s.log.Info("scanner disabled")
		return nil
	}
	if err := s.startCronLocked(ctx); err != nil {
		return err
	}
	s.running = true
	s.log.Info("scanner started",
		logx.Duration("interval", s.cfg.Interval),
		logx.Duration("notice_window", s.cfg.NoticeWindow),
		logx.Duration("discussion_window", s.cfg.DiscussionWindow))
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	stop := s.stopRun
	s.cron = nil
	s.stopRun = nil
	s.runCtx = nil
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	if !wasRunning {
		return nil
	}
	if stop != nil {
		stop()
	}
	if c != nil {
		done := c.Stop().Done()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.log.Info("scanner stopped")
	return nil
}

// Apply swaps the scan configuration. When the tick interval, timezone or
// digest spec changed while running, the cron host is rebuilt.
func (s *Service) Apply(cfg Config) error {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cfg
	s.cfg = cfg

	if !s.running {
		return nil
	}

	if !cfg.Enabled {
		s.stopCronLocked()
		s.running = false
		s.log.Info("scanner disabled via reload")
		return nil
	}

	if cfg.Interval != old.Interval || cfg.Timezone != old.Timezone || cfg.DigestSpec != old.DigestSpec {
		ctx := s.runCtx
		if ctx == nil {
			ctx = context.Background()
		}
		s.stopCronLocked()
		if err := s.startCronLocked(ctx); err != nil {
			s.running = false
			return err
		}
		s.log.Info("scanner rescheduled", logx.Duration("interval", cfg.Interval))
	}
	return nil
}

func (s *Service) startCronLocked(parent context.Context) error {
	loc := s.locationLocked()

	runCtx, cancel := context.WithCancel(parent)
	c := cron.New(cron.WithLocation(loc))

	if _, err := c.AddFunc("@every "+s.cfg.Interval.String(), func() { s.Scan(runCtx, time.Now().In(loc)) }); err != nil {
		cancel()
		return fmt.Errorf("scan schedule: %w", err)
	}
	if spec := strings.TrimSpace(s.cfg.DigestSpec); spec != "" {
		if _, err := c.AddFunc(spec, func() { s.digest(runCtx, loc) }); err != nil {
			cancel()
			return fmt.Errorf("digest schedule %q: %w", spec, err)
		}
	}

	c.Start()
	s.cron = c
	s.runCtx = runCtx
	s.stopRun = cancel
	return nil
}

func (s *Service) stopCronLocked() {
	if s.stopRun != nil {
		s.stopRun()
		s.stopRun = nil
	}
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
	s.runCtx = nil
}

func (s *Service) locationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Scan runs one pass over the pending descriptors. Exported so tests and the
// status command can trigger a pass without waiting for the tick.
func (s *Service) Scan(ctx context.Context, now time.Time) {
	if !atomic.CompareAndSwapInt32(&s.scanBusy, 0, 1) {
		// Previous pass still in flight (slow sends); skip, the next tick
		// will pick up where this one would have.
		return
	}
	defer atomic.StoreInt32(&s.scanBusy, 0)
	if ctx == nil || ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	changed := false
	for _, d := range s.registry.ListPending() {
		if ctx.Err() != nil {
			break
		}
		until := d.TriggerAt.Sub(now)

		if until <= cfg.DiscussionWindow && until > 0 && !d.DiscussionOpened {
			if s.openDiscussion(ctx, d) {
				changed = true
			}
		}
		if until <= cfg.NoticeWindow && until > 0 && !d.NoticeSent {
			if s.sendNotice(ctx, d, until) {
				changed = true
			}
		}
		if until <= 0 {
			// A session that already lost the single-live race is allowed to
			// age past the grace; it queued behind a running quiz, it did not
			// go stale.
			if -until > cfg.StartGrace && !s.wasDeferred(d.SessionKey) {
				s.log.Debug("trigger long past; leaving descriptor pending",
					logx.String("session", d.SessionKey),
					logx.Duration("overdue", -until))
				continue
			}
			if s.startSession(d) {
				changed = true
			}
		}
	}
	s.pruneDeferred()

	if changed {
		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := s.registry.Persist(pctx); err != nil {
			s.log.Warn("schedule persist failed", logx.Err(err))
		}
		cancel()
	}
}

func (s *Service) openDiscussion(ctx context.Context, d quiz.Descriptor) bool {
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.sink.SetAudienceMuted(sctx, false); err != nil {
		s.log.Warn("discussion unmute failed", logx.String("session", d.SessionKey), logx.Err(err))
		return false
	}
	text := fmt.Sprintf("Discussion is open! Quiz %s starts at %s.",
		d.SessionKey, d.TriggerAt.Format("15:04"))
	if err := s.sink.Announce(sctx, text); err != nil {
		s.log.Warn("discussion announce failed", logx.String("session", d.SessionKey), logx.Err(err))
		// Unmute succeeded; keep the flag so the announcement is not
		// repeated every tick against a possibly broken send path.
	}
	if !s.registry.MarkDiscussionOpened(d.SessionKey) {
		return false
	}
	s.log.Info("discussion window opened", logx.String("session", d.SessionKey))
	s.publish("scanner.discussion.opened", map[string]any{"session": d.SessionKey})
	return true
}

func (s *Service) sendNotice(ctx context.Context, d quiz.Descriptor, until time.Duration) bool {
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	mins := int(until.Round(time.Minute) / time.Minute)
	if mins < 1 {
		mins = 1
	}
	text := fmt.Sprintf("Quiz %s starts in about %d minute(s).", d.SessionKey, mins)
	if err := s.sink.NotifyChannel(sctx, text); err != nil {
		s.log.Warn("channel notice failed", logx.String("session", d.SessionKey), logx.Err(err))
		return false
	}
	if !s.registry.MarkNoticeSent(d.SessionKey) {
		return false
	}
	s.log.Info("channel notice sent", logx.String("session", d.SessionKey))
	s.publish("scanner.notice.sent", map[string]any{"session": d.SessionKey})
	return true
}

func (s *Service) startSession(d quiz.Descriptor) bool {
	err := s.engine.Start(d.SessionKey)
	switch {
	case err == nil:
		// Flag only after the engine accepted; a session that lost the
		// single-live-session race stays pending for the next tick.
		s.clearDeferred(d.SessionKey)
		if !s.registry.MarkStarted(d.SessionKey) {
			return false
		}
		s.publish("scanner.session.started", map[string]any{"session": d.SessionKey})
		return true
	case errors.Is(err, quiz.ErrSessionActive):
		s.markDeferred(d.SessionKey)
		s.log.Debug("session due but another is live; will retry",
			logx.String("session", d.SessionKey))
		return false
	default:
		s.log.Warn("session start failed", logx.String("session", d.SessionKey), logx.Err(err))
		return false
	}
}

func (s *Service) markDeferred(key string) {
	s.deferredMu.Lock()
	s.deferred[key] = struct{}{}
	s.deferredMu.Unlock()
}

func (s *Service) clearDeferred(key string) {
	s.deferredMu.Lock()
	delete(s.deferred, key)
	s.deferredMu.Unlock()
}

func (s *Service) wasDeferred(key string) bool {
	s.deferredMu.Lock()
	defer s.deferredMu.Unlock()
	_, ok := s.deferred[key]
	return ok
}

// pruneDeferred drops entries whose descriptor is gone (started, cancelled or
// completed) so the set tracks the pending schedule.
func (s *Service) pruneDeferred() {
	s.deferredMu.Lock()
	defer s.deferredMu.Unlock()
	if len(s.deferred) == 0 {
		return
	}
	pending := map[string]struct{}{}
	for _, d := range s.registry.ListPending() {
		pending[d.SessionKey] = struct{}{}
	}
	for key := range s.deferred {
		if _, ok := pending[key]; !ok {
			delete(s.deferred, key)
		}
	}
}

// digest posts the upcoming schedule to the group. No-op when nothing is
// pending.
func (s *Service) digest(ctx context.Context, loc *time.Location) {
	pending := s.registry.ListPending()
	if len(pending) == 0 {
		return
	}

	var b strings.Builder
	b.WriteString("Upcoming quizzes:\n")
	for _, d := range pending {
		fmt.Fprintf(&b, "- %s at %s\n", d.SessionKey, d.TriggerAt.In(loc).Format("2006-01-02 15:04"))
	}

	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.sink.Announce(sctx, strings.TrimRight(b.String(), "\n")); err != nil {
		s.log.Warn("digest announce failed", logx.Err(err))
	}
}

func (s *Service) publish(typ string, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}
