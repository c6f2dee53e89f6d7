// Package quiz implements the scheduled quiz core: the session catalog and
// schedule registry, the single-live-session engine with its timed dispatch
// loop, answer collection, and leaderboard compilation.
package quiz

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSessionActive is returned by Engine.Start while another session is
	// live. Callers treat it as a no-op and retry on a later scan tick.
	ErrSessionActive = errors.New("a session is already active")

	// ErrNotFound is returned when a session key resolves to no questions.
	ErrNotFound = errors.New("session not found or empty")
)

// Question is one quiz question. Immutable once parsed.
type Question struct {
	Text    string   `json:"text"`
	Options []string `json:"options"` // 2..4 answer options, ordered
	Correct int      `json:"correct"` // index into Options
}

// Descriptor is the scheduling record for one session.
//
// Transition flags are monotonic: they flip false->true exactly once and are
// never reset. The descriptor is removed when its session completes or is
// cancelled by an operator.
type Descriptor struct {
	SessionKey       string    `json:"session_key"`
	TriggerAt        time.Time `json:"trigger_at"`
	NoticeSent       bool      `json:"notice_sent"`
	DiscussionOpened bool      `json:"discussion_opened"`
	Started          bool      `json:"started"`
}

// AnswerEvent is one participant response to an open poll. Delivery is
// at-least-once and may be out of order; the engine dedups by
// (user, question index).
type AnswerEvent struct {
	PollID      string
	UserID      int64
	DisplayName string
	Option      int
}

// Sink emits the engine's audience-facing side effects.
//
// Implementations must be time-bounded: the engine passes a deadline context
// to every call and never awaits a send beyond it.
type Sink interface {
	// SendQuizPoll emits one question as a timed poll and returns the
	// platform poll identifier used to correlate answers.
	SendQuizPoll(ctx context.Context, q Question, open time.Duration) (pollID string, err error)
	Announce(ctx context.Context, text string) error
	SetAudienceMuted(ctx context.Context, muted bool) error
}

// SetWriter persists the full question-set catalog. Failures are logged by
// callers and never block the quiz sequence.
type SetWriter interface {
	SaveQuestionSets(ctx context.Context, sets map[string][]Question) error
}

// ScheduleWriter persists the full schedule registry.
type ScheduleWriter interface {
	SaveSchedules(ctx context.Context, descs []Descriptor) error
}

// SessionResult is the full score ledger of a finished session, handed to a
// lifetime-statistics collaborator.
type SessionResult struct {
	SessionKey string
	FinishedAt time.Time
	Total      int // question count
	Entries    []LeaderboardEntry
}

// ResultRecorder receives finished-session ledgers. Best-effort.
type ResultRecorder interface {
	AppendResult(ctx context.Context, r SessionResult) error
}
