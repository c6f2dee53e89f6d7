package app

import (
	"context"
	"fmt"
	"strings"

	"quizbot/internal/eventbus"
	"quizbot/internal/quiz"
	"quizbot/internal/transport"
	logx "quizbot/pkg/logx"
)

const helpText = `Quiz bot commands:
/status - show the current session and pending schedule
/schedule - list upcoming quizzes
/stop - abort the live quiz
/deleteschedule <key> - cancel a scheduled quiz
/admin - admin reference

Owners submit quizzes by sending the DATE:/SESSION:/TIME: document in a
private chat with the bot.`

const adminText = `Admin reference:

Submission format (private chat, one or more sets per message):
  DATE: 2026-09-01
  SESSION: evening
  TIME: 18:30

  Q1. Question text?
  A) option
  B) option
  ANS: A

Each set becomes session "<date>_<session>". /deleteschedule takes that key.`

// dispatchLoop consumes inbound updates: poll answers go straight to the
// engine, messages go through command/submission handling.
func (a *App) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up := <-a.updates:
			switch up.Kind {
			case transport.UpdatePollAnswer:
				pa := up.PollAnswer
				if pa == nil || pa.Option < 0 {
					continue // retraction, nothing to score
				}
				a.engine.HandleAnswer(quiz.AnswerEvent{
					PollID:      pa.PollID,
					UserID:      pa.UserID,
					DisplayName: pa.DisplayName,
					Option:      pa.Option,
				})
			case transport.UpdateMessage:
				if up.Message != nil {
					a.handleMessage(ctx, *up.Message)
				}
			}
		}
	}
}

func (a *App) handleMessage(ctx context.Context, m transport.Message) {
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return
	}
	if strings.HasPrefix(text, "/") {
		a.handleCommand(ctx, m, text)
		return
	}
	if m.IsPrivate && a.isOwner(m.FromID) {
		a.handleSubmission(ctx, m, text)
	}
}

func (a *App) handleCommand(ctx context.Context, m transport.Message, text string) {
	fields := strings.Fields(text)
	cmd := strings.ToLower(fields[0])
	// Group clients address commands as /cmd@BotName.
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}

	if cmd == "/start" || cmd == "/help" {
		if m.IsPrivate {
			a.reply(ctx, m, helpText)
		}
		return
	}

	if !a.isOwner(m.FromID) {
		// Unauthorized group chatter is ignored; in private, say why.
		if m.IsPrivate {
			a.reply(ctx, m, "You are not authorized to use admin commands.")
		}
		return
	}

	switch cmd {
	case "/admin":
		a.reply(ctx, m, adminText)

	case "/status":
		a.reply(ctx, m, a.statusText())

	case "/schedule":
		a.reply(ctx, m, a.scheduleText())

	case "/stop":
		if a.engine.Stop() {
			a.reply(ctx, m, "Quiz stopped.")
		} else {
			a.reply(ctx, m, "No quiz is running.")
		}

	case "/deleteschedule":
		if len(fields) < 2 {
			a.reply(ctx, m, "Usage: /deleteschedule <session_key>")
			return
		}
		a.deleteSchedule(ctx, m, fields[1])

	default:
		if m.IsPrivate {
			a.reply(ctx, m, "Unknown command. Try /help.")
		}
	}
}

func (a *App) statusText() string {
	snap := a.engine.Snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "State: %s\n", snap.State)
	if snap.SessionKey != "" {
		fmt.Fprintf(&b, "Session: %s (question %d/%d, %d participants)\n",
			snap.SessionKey, snap.QuestionIndex, snap.QuestionCount, snap.Participants)
	}
	fmt.Fprintf(&b, "Question sets: %d\n", a.catalog.Len())
	fmt.Fprintf(&b, "Pending schedules: %d\n", len(a.registry.ListPending()))
	scan := "off"
	if a.scanner.Enabled() {
		scan = "on"
	}
	fmt.Fprintf(&b, "Scanner: %s", scan)
	return b.String()
}

func (a *App) scheduleText() string {
	pending := a.registry.ListPending()
	if len(pending) == 0 {
		return "No quizzes scheduled."
	}
	loc := a.location()
	var b strings.Builder
	b.WriteString("Scheduled quizzes:\n")
	for _, d := range pending {
		flags := ""
		if d.DiscussionOpened {
			flags += " [discussion open]"
		}
		if d.NoticeSent {
			flags += " [notice sent]"
		}
		fmt.Fprintf(&b, "- %s at %s%s\n", d.SessionKey, d.TriggerAt.In(loc).Format("2006-01-02 15:04"), flags)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *App) deleteSchedule(ctx context.Context, m transport.Message, key string) {
	removedDesc := a.registry.Remove(key)
	removedSet := a.catalog.Delete(key)
	if !removedDesc && !removedSet {
		a.reply(ctx, m, fmt.Sprintf("No schedule found for %q.", key))
		return
	}

	a.persistBoth(ctx)
	a.log.Info("schedule cancelled",
		logx.String("session", key),
		logx.Int64("by", m.FromID))
	a.bus.Publish(eventbus.Event{Type: "schedule.cancelled", Data: map[string]any{"session": key}})
	a.reply(ctx, m, fmt.Sprintf("Schedule %s cancelled.", key))
}

func (a *App) handleSubmission(ctx context.Context, m transport.Message, text string) {
	subs, err := quiz.ParseSubmission(text, a.location(), a.parseOptions())
	if err != nil {
		a.reply(ctx, m, "Could not parse quiz: "+err.Error())
		return
	}

	var b strings.Builder
	loc := a.location()
	for _, sub := range subs {
		a.catalog.Put(sub.Key, sub.Questions)
		a.registry.Add(quiz.Descriptor{SessionKey: sub.Key, TriggerAt: sub.TriggerAt})
		fmt.Fprintf(&b, "Scheduled %s: %d questions at %s\n",
			sub.Key, len(sub.Questions), sub.TriggerAt.In(loc).Format("2006-01-02 15:04"))
		a.log.Info("submission accepted",
			logx.String("session", sub.Key),
			logx.Int("questions", len(sub.Questions)),
			logx.Time("trigger_at", sub.TriggerAt),
			logx.Int64("by", m.FromID))
		a.bus.Publish(eventbus.Event{Type: "schedule.created", Data: map[string]any{
			"session": sub.Key, "questions": len(sub.Questions),
		}})
	}

	a.persistBoth(ctx)
	a.reply(ctx, m, strings.TrimRight(b.String(), "\n"))
}

func (a *App) persistBoth(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := a.catalog.Persist(pctx); err != nil {
		a.log.Warn("catalog persist failed", logx.Err(err))
	}
	if err := a.registry.Persist(pctx); err != nil {
		a.log.Warn("registry persist failed", logx.Err(err))
	}
}

func (a *App) reply(ctx context.Context, m transport.Message, text string) {
	sctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := a.adapter.SendText(sctx, transport.ChatTarget{ChatID: m.ChatID}, text, nil); err != nil {
		a.log.Warn("reply failed", logx.Int64("chat", m.ChatID), logx.Err(err))
	}
}
