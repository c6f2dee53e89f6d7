package telegram

import (
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"
)

func TestBotSettingsClientTimeout(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  Config
		poll time.Duration
	}{
		{"default poll timeout", Config{Token: "t"}, 10 * time.Second},
		{"explicit poll timeout", Config{Token: "t", PollTimeout: 25 * time.Second}, 25 * time.Second},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := botSettings(tc.cfg)
			lp, ok := s.Poller.(*tele.LongPoller)
			if !ok {
				t.Fatalf("poller = %T, want *tele.LongPoller", s.Poller)
			}
			if lp.Timeout != tc.poll {
				t.Errorf("poll timeout = %v, want %v", lp.Timeout, tc.poll)
			}
			if s.Client == nil || s.Client.Timeout <= 0 {
				t.Fatal("shared client must carry a hard timeout")
			}
			// A client timeout at or below the long-poll window would abort
			// every getUpdates call.
			if s.Client.Timeout <= tc.poll {
				t.Errorf("client timeout %v does not clear the %v long-poll window", s.Client.Timeout, tc.poll)
			}
		})
	}
}
