package quiz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"quizbot/internal/eventbus"
	logx "quizbot/pkg/logx"
)

// State is the engine lifecycle: Idle -> Active -> Draining -> Idle.
type State int

const (
	StateIdle State = iota
	StateActive
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	default:
		return "idle"
	}
}

// EngineConfig tunes the dispatch loop. Zero values fall back to defaults.
type EngineConfig struct {
	OpenPeriod  time.Duration // poll answer window
	QuestionGap time.Duration // buffer after a poll closes, before the next question
	SettleDelay time.Duration // trailing-answer grace before compiling results
	StartDelay  time.Duration // delay between the start announcement and question 0
	RemuteDelay time.Duration // how long the group stays open after the results
	SendTimeout time.Duration // upper bound on each outbound side effect
	TopN        int           // displayed leaderboard size
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.OpenPeriod <= 0 {
		c.OpenPeriod = 20 * time.Second
	}
	if c.QuestionGap <= 0 {
		c.QuestionGap = 5 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 3 * time.Second
	}
	if c.StartDelay <= 0 {
		c.StartDelay = 2 * time.Second
	}
	if c.RemuteDelay <= 0 {
		c.RemuteDelay = 15 * time.Minute
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.TopN <= 0 {
		c.TopN = 10
	}
	return c
}

type pollRef struct {
	correct int
	index   int
}

// liveSession is the process-wide zero-or-one live run. Exclusively owned by
// the Engine; every access goes through the engine mutex.
type liveSession struct {
	key       string
	runID     string
	questions []Question
	index     int

	polls    map[string]pollRef // poll id -> expected answer; old ids stay for late answers
	scores   map[int64]int
	names    map[int64]string
	answered map[int64]map[int]bool
	order    []int64 // first-seen order, for deterministic tie ranking
}

func newLiveSession(key string, qs []Question) *liveSession {
	return &liveSession{
		key:       key,
		runID:     uuid.NewString(),
		questions: qs,
		polls:     map[string]pollRef{},
		scores:    map[int64]int{},
		names:     map[int64]string{},
		answered:  map[int64]map[int]bool{},
	}
}

// Engine owns the single live session slot and drives it with a
// self-rescheduling timer. Timer callbacks and answer events arrive
// concurrently; the mutex serializes every touch of the live session, and a
// generation counter invalidates stale timer callbacks after Stop or
// teardown.
type Engine struct {
	log logx.Logger
	bus eventbus.Bus

	catalog  *Catalog
	registry *Registry
	sink     Sink
	results  ResultRecorder

	mu    sync.Mutex
	cfg   EngineConfig
	state State
	sess  *liveSession
	timer *time.Timer
	gen   uint64
}

func NewEngine(cfg EngineConfig, catalog *Catalog, registry *Registry, sink Sink, log logx.Logger, bus eventbus.Bus) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		log:      log,
		bus:      bus,
		catalog:  catalog,
		registry: registry,
		sink:     sink,
		cfg:      cfg.withDefaults(),
	}
}

// SetResultRecorder installs an optional lifetime-statistics collaborator.
func (e *Engine) SetResultRecorder(r ResultRecorder) {
	e.mu.Lock()
	e.results = r
	e.mu.Unlock()
}

// Apply updates tuning live. Delays already scheduled keep their old values.
func (e *Engine) Apply(cfg EngineConfig) {
	e.mu.Lock()
	e.cfg = cfg.withDefaults()
	e.mu.Unlock()
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// EngineSnapshot is a point-in-time view for status output.
type EngineSnapshot struct {
	State         string
	SessionKey    string
	RunID         string
	QuestionIndex int
	QuestionCount int
	Participants  int
}

func (e *Engine) Snapshot() EngineSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := EngineSnapshot{State: e.state.String()}
	if e.sess != nil {
		snap.SessionKey = e.sess.key
		snap.RunID = e.sess.runID
		snap.QuestionIndex = e.sess.index
		snap.QuestionCount = len(e.sess.questions)
		snap.Participants = len(e.sess.order)
	}
	return snap
}

// Start begins the session for key.
//
// Returns ErrSessionActive while another session is live (at-most-one-live
// invariant; callers retry later) and ErrNotFound when the catalog has no
// questions for key (the descriptor is left pending for investigation).
func (e *Engine) Start(key string) error {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return ErrSessionActive
	}
	qs, ok := e.catalog.GetQuestions(key)
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("start %q: %w", key, ErrNotFound)
	}
	sess := newLiveSession(key, qs)
	e.sess = sess
	e.state = StateActive
	cfg := e.cfg
	e.scheduleLocked(cfg.StartDelay)
	e.mu.Unlock()

	e.log.Info("session started",
		logx.String("session", key),
		logx.String("run_id", sess.runID),
		logx.Int("questions", len(qs)))
	e.publish("quiz.session.started", map[string]any{"session": key, "run_id": sess.runID, "questions": len(qs)})

	// Audience side effects, bounded and best-effort.
	e.mute(true)
	e.announce(fmt.Sprintf("Quiz %s is starting. %d questions, %ds each. Good luck!",
		key, len(qs), int(cfg.OpenPeriod/time.Second)))
	return nil
}

// Stop force-aborts the live run: the pending dispatch timer is cancelled,
// no leaderboard is emitted, and the catalog/registry entries are kept so
// the content survives for a re-run.
func (e *Engine) Stop() bool {
	e.mu.Lock()
	if e.state == StateIdle || e.sess == nil {
		e.mu.Unlock()
		return false
	}
	key := e.sess.key
	runID := e.sess.runID
	e.teardownLocked()
	e.mu.Unlock()

	e.log.Info("session stopped", logx.String("session", key), logx.String("run_id", runID))
	e.publish("quiz.session.stopped", map[string]any{"session": key, "run_id": runID})

	e.mute(false)
	e.announce("Quiz stopped by admin.")
	return true
}

// teardownLocked resets the live slot and invalidates pending timers.
func (e *Engine) teardownLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.gen++
	e.sess = nil
	e.state = StateIdle
}

// scheduleLocked arms the next step after d. Bumping the generation first
// makes any callback armed earlier a stale no-op.
func (e *Engine) scheduleLocked(d time.Duration) {
	e.gen++
	gen := e.gen
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(d, func() { e.step(gen) })
}

// step is the self-rescheduling dispatch callback: while Active it emits one
// question per invocation; once questions are exhausted it drains and
// finishes. The engine holds no lock while a poll is in flight, so Stop and
// answer events are never blocked behind the network.
func (e *Engine) step(gen uint64) {
	e.mu.Lock()
	if gen != e.gen || e.sess == nil {
		e.mu.Unlock()
		return
	}

	if e.state == StateDraining {
		e.finishLocked(gen)
		return
	}
	if e.state != StateActive {
		e.mu.Unlock()
		return
	}

	s := e.sess
	if s.index >= len(s.questions) {
		e.state = StateDraining
		e.scheduleLocked(e.cfg.SettleDelay)
		e.mu.Unlock()
		e.log.Debug("questions exhausted; draining", logx.String("session", s.key))
		return
	}

	idx := s.index
	q := s.questions[idx]
	s.index++
	cfg := e.cfg
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.SendTimeout)
	pollID, err := e.sink.SendQuizPoll(ctx, q, cfg.OpenPeriod)
	cancel()

	e.mu.Lock()
	if gen != e.gen || e.sess != s || e.state != StateActive {
		// Stopped while the send was in flight; drop the result.
		e.mu.Unlock()
		return
	}
	if err != nil {
		// Transient dispatch failure: skip this question and move straight
		// on rather than stalling the whole sequence on one bad send.
		e.scheduleLocked(0)
		e.mu.Unlock()
		e.log.Warn("poll dispatch failed; skipping question",
			logx.String("session", s.key),
			logx.Int("index", idx),
			logx.Err(err))
		e.publish("quiz.poll.skipped", map[string]any{"session": s.key, "index": idx})
		return
	}
	s.polls[pollID] = pollRef{correct: q.Correct, index: idx}
	e.scheduleLocked(cfg.OpenPeriod + cfg.QuestionGap)
	e.mu.Unlock()

	e.log.Info("question dispatched",
		logx.String("session", s.key),
		logx.Int("index", idx),
		logx.String("poll_id", pollID))
	e.publish("quiz.poll.dispatched", map[string]any{"session": s.key, "index": idx, "poll_id": pollID})
}

// finishLocked compiles the leaderboard and tears the session down. Called
// with the mutex held; releases it.
func (e *Engine) finishLocked(gen uint64) {
	s := e.sess
	total := len(s.questions)
	full, answered := CompileLeaderboard(s.scores, s.names, s.order, total, 0)
	display := full
	if n := e.cfg.TopN; answered && len(display) > n {
		display = display[:n]
	}
	e.mu.Unlock()

	// Results first, so the audience sees the outcome before the unmute.
	e.announce(FormatLeaderboard(display, answered, total))
	e.recordResult(s.key, total, full)

	e.mu.Lock()
	if gen != e.gen || e.sess != s {
		// Stop raced with the announcement and already tore down.
		e.mu.Unlock()
		return
	}
	e.teardownLocked()
	// The group stays open for post-quiz chatter, then closes again until
	// the next discussion window. A Start or Stop in the meantime bumps the
	// generation and cancels this.
	remuteGen := e.gen
	e.timer = time.AfterFunc(e.cfg.RemuteDelay, func() { e.remute(remuteGen) })
	e.mu.Unlock()

	// Completed sessions leave both stores; the next run needs a fresh
	// submission.
	e.catalog.Delete(s.key)
	e.registry.Remove(s.key)
	pctx, cancel := context.WithTimeout(context.Background(), e.sendTimeout())
	if err := e.catalog.Persist(pctx); err != nil {
		e.log.Warn("catalog persist failed", logx.Err(err))
	}
	if err := e.registry.Persist(pctx); err != nil {
		e.log.Warn("registry persist failed", logx.Err(err))
	}
	cancel()

	e.mute(false)

	e.log.Info("session finished",
		logx.String("session", s.key),
		logx.String("run_id", s.runID),
		logx.Int("questions", total),
		logx.Int("participants", len(full)))
	e.publish("quiz.session.finished", map[string]any{
		"session": s.key, "run_id": s.runID, "participants": len(full),
	})
}

// HandleAnswer processes one inbound answer event. Safe to call
// concurrently with the dispatch cycle. Answers are accepted while Active or
// Draining (the settle delay exists to admit trailing answers); unknown or
// late poll ids are silently dropped.
func (e *Engine) HandleAnswer(ev AnswerEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.sess
	if s == nil || e.state == StateIdle {
		return
	}
	ref, ok := s.polls[ev.PollID]
	if !ok {
		return
	}

	set := s.answered[ev.UserID]
	if set == nil {
		set = map[int]bool{}
		s.answered[ev.UserID] = set
	}
	if set[ref.index] {
		// Duplicate delivery (client retry, at-least-once transport).
		return
	}
	set[ref.index] = true

	if _, seen := s.names[ev.UserID]; !seen {
		s.order = append(s.order, ev.UserID)
	}
	s.names[ev.UserID] = ev.DisplayName

	if ev.Option == ref.correct {
		s.scores[ev.UserID]++
	}
}

// remute closes the group again once the post-quiz chatter window elapsed.
func (e *Engine) remute(gen uint64) {
	e.mu.Lock()
	if gen != e.gen || e.state != StateIdle {
		e.mu.Unlock()
		return
	}
	e.timer = nil
	e.mu.Unlock()

	e.mute(true)
	e.log.Info("audience re-muted after quiz")
	e.publish("quiz.group.remuted", nil)
}

func (e *Engine) sendTimeout() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.SendTimeout
}

func (e *Engine) announce(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.sendTimeout())
	defer cancel()
	if err := e.sink.Announce(ctx, text); err != nil {
		e.log.Warn("announce failed", logx.Err(err))
	}
}

func (e *Engine) mute(muted bool) {
	ctx, cancel := context.WithTimeout(context.Background(), e.sendTimeout())
	defer cancel()
	if err := e.sink.SetAudienceMuted(ctx, muted); err != nil {
		e.log.Warn("audience mute toggle failed", logx.Bool("muted", muted), logx.Err(err))
	}
}

func (e *Engine) recordResult(key string, total int, entries []LeaderboardEntry) {
	e.mu.Lock()
	rec := e.results
	e.mu.Unlock()
	if rec == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.sendTimeout())
	defer cancel()
	err := rec.AppendResult(ctx, SessionResult{
		SessionKey: key,
		FinishedAt: time.Now(),
		Total:      total,
		Entries:    entries,
	})
	if err != nil {
		e.log.Warn("result ledger append failed", logx.String("session", key), logx.Err(err))
	}
}

func (e *Engine) publish(typ string, data any) {
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}
