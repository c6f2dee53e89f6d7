// Package telegram adapts the transport contracts to the Telegram Bot API
// via telebot.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"quizbot/internal/quiz"
	"quizbot/internal/runtime/supervisor"
	"quizbot/internal/transport"
	logx "quizbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// RatePerSec caps outbound API calls; Telegram throttles bots that
	// exceed roughly 20 messages/minute per group.
	RatePerSec int
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	limiter *rate.Limiter

	out     atomic.Value // stores (chan<- transport.Update)
	runMu   sync.Mutex
	running bool

	// sup owns adapter internal goroutines (poll loop, drop logger).
	sup *supervisor.Supervisor

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the Telegram poll loop; reported periodically to avoid log spam.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 3
	}
	b, err := tele.NewBot(botSettings(cfg))
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{
		cfg:     cfg,
		log:     log,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

// botSettings builds the telebot settings. The shared HTTP client carries a
// hard timeout so sends cannot hang past the poll cycle, but it must exceed
// the long-poll window or getUpdates would be cut off mid-wait.
func botSettings(cfg Config) tele.Settings {
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		Client: &http.Client{Timeout: timeout + 10*time.Second},
	}
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		a.sendUpdate(transport.Update{
			Kind: transport.UpdateMessage,
			Message: &transport.Message{
				ID:           m.ID,
				ChatID:       m.Chat.ID,
				FromID:       m.Sender.ID,
				FromUsername: m.Sender.Username,
				Text:         m.Text,
				IsPrivate:    m.Chat.Type == tele.ChatPrivate,
			},
		})
		return nil
	})

	a.bot.Handle(tele.OnPollAnswer, func(c tele.Context) error {
		pa := c.PollAnswer()
		if pa == nil || pa.Sender == nil {
			return nil
		}
		// An empty option list means the voter retracted their answer.
		opt := -1
		if len(pa.Options) > 0 {
			opt = pa.Options[0]
		}
		a.sendUpdate(transport.Update{
			Kind: transport.UpdatePollAnswer,
			PollAnswer: &transport.PollAnswer{
				PollID:      pa.PollID,
				UserID:      pa.Sender.ID,
				DisplayName: pa.Sender.FirstName,
				Option:      opt,
			},
		})
		return nil
	})
}

func (a *Adapter) sendUpdate(up transport.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- transport.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		// Adapter errors should not take down the whole app.
		supervisor.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)",
					logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	// Stop telebot when the adapter context is cancelled.
	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		if a.bot != nil {
			a.bot.Stop()
		}
	})

	// Telebot's Start() is a long-running loop. In some failure modes it can
	// exit unexpectedly; run it under a restart loop so the adapter self-heals.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		if a.bot != nil {
			a.bot.Start() // blocks until Stop()
		}
		a.log.Info("polling stopped")
		return nil
	},
		supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		supervisor.WithPublishFirstError(true),
		// Restart if Start() returns while the context is still active.
		supervisor.WithStopOnCleanExit(false),
	)

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if sup != nil {
		sup.Cancel()
	}

	// telebot Stop is expected to be fast; run it async just in case.
	if a.bot != nil {
		go a.bot.Stop()
	}

	// Grace window: keep shutdown snappy even if getUpdates is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	if sup == nil {
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Warn("telegram stop error", logx.Err(err))
	}
	return nil
}

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	sendOpt := &tele.SendOptions{}
	if opt != nil {
		sendOpt.DisableWebPagePreview = opt.DisablePreview
	}
	_, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, text, sendOpt)
	return err
}

func (a *Adapter) SendQuizPoll(ctx context.Context, to transport.ChatTarget, q quiz.Question, open time.Duration) (string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", err
	}
	p := &tele.Poll{
		Type:          tele.PollQuiz,
		Question:      q.Text,
		CorrectOption: q.Correct,
		Anonymous:     false,
		OpenPeriod:    int(open / time.Second),
	}
	p.AddOptions(q.Options...)

	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, p)
	if err != nil {
		return "", err
	}
	if msg.Poll == nil {
		return "", errors.New("telegram: poll message without poll payload")
	}
	return msg.Poll.ID, nil
}

func (a *Adapter) SetChatMuted(ctx context.Context, chat transport.ChatTarget, muted bool) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	allow := !muted
	return a.bot.SetGroupPermissions(&tele.Chat{ID: chat.ChatID}, tele.Rights{
		CanSendMessages: allow,
		CanSendPhotos:   allow,
		CanSendVideos:   allow,
		CanSendPolls:    allow,
		CanSendOther:    allow,
		CanAddPreviews:  allow,
	})
}
