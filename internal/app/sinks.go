package app

import (
	"context"
	"strings"
	"time"

	"quizbot/internal/quiz"
	"quizbot/internal/transport"
)

// groupSink points the engine's audience surface at the quiz group.
type groupSink struct{ app *App }

var _ quiz.Sink = groupSink{}

func (s groupSink) SendQuizPoll(ctx context.Context, q quiz.Question, open time.Duration) (string, error) {
	return s.app.adapter.SendQuizPoll(ctx, s.app.groupTarget(), q, open)
}

func (s groupSink) Announce(ctx context.Context, text string) error {
	return s.app.adapter.SendText(ctx, s.app.groupTarget(), text, nil)
}

func (s groupSink) SetAudienceMuted(ctx context.Context, muted bool) error {
	return s.app.adapter.SetChatMuted(ctx, s.app.groupTarget(), muted)
}

// scanSink is the scanner's outbound surface: announcements and the mute
// toggle target the group, pre-start notices target the channel (with the
// invite link attached) and fall back to the group when no channel is set.
type scanSink struct{ app *App }

func (s scanSink) Announce(ctx context.Context, text string) error {
	return s.app.adapter.SendText(ctx, s.app.groupTarget(), text, nil)
}

func (s scanSink) NotifyChannel(ctx context.Context, text string) error {
	target, invite := s.app.channelTarget()
	if target.ChatID == 0 {
		return s.Announce(ctx, text)
	}
	if link := strings.TrimSpace(invite); link != "" {
		text += "\nJoin the quiz group: " + link
	}
	return s.app.adapter.SendText(ctx, target, text, &transport.SendOptions{DisablePreview: true})
}

func (s scanSink) SetAudienceMuted(ctx context.Context, muted bool) error {
	return s.app.adapter.SetChatMuted(ctx, s.app.groupTarget(), muted)
}
