// Package transport defines the narrow messaging contracts between the bot
// core and the chat platform adapter.
package transport

import (
	"context"
	"time"

	"quizbot/internal/quiz"
)

type UpdateKind string

const (
	UpdateMessage    UpdateKind = "message"
	UpdatePollAnswer UpdateKind = "poll_answer"
)

type Update struct {
	Kind       UpdateKind
	Message    *Message
	PollAnswer *PollAnswer
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	IsPrivate    bool
}

// PollAnswer is a participant's vote on a (non-anonymous) poll.
type PollAnswer struct {
	PollID      string
	UserID      int64
	DisplayName string
	// Option is the chosen option index, or -1 for a vote retraction.
	Option int
}

type ChatTarget struct {
	ChatID int64
}

type SendOptions struct {
	DisablePreview bool
}

// Adapter is the platform boundary. Start feeds inbound updates into out;
// all sends are context-bounded and rate limited by the implementation.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error
	// SendQuizPoll emits a quiz-mode poll and returns its platform poll id.
	SendQuizPoll(ctx context.Context, to ChatTarget, q quiz.Question, open time.Duration) (string, error)
	// SetChatMuted toggles whether ordinary members may send messages.
	SetChatMuted(ctx context.Context, chat ChatTarget, muted bool) error
}
