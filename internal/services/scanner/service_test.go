package scanner_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"quizbot/internal/quiz"
	"quizbot/internal/services/scanner"
	logx "quizbot/pkg/logx"
)

type fakeSink struct {
	mu       sync.Mutex
	group    []string
	channel  []string
	mutes    []bool
	failMute bool
}

func (s *fakeSink) Announce(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.group = append(s.group, text)
	return nil
}

func (s *fakeSink) NotifyChannel(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channel = append(s.channel, text)
	return nil
}

func (s *fakeSink) SetAudienceMuted(ctx context.Context, muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMute {
		return errors.New("mute failed")
	}
	s.mutes = append(s.mutes, muted)
	return nil
}

type fakeStarter struct {
	mu      sync.Mutex
	started []string
	err     error
}

func (f *fakeStarter) Start(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.started = append(f.started, key)
	return nil
}

func testConfig() scanner.Config {
	return scanner.Config{
		Enabled:          true,
		Interval:         15 * time.Second,
		NoticeWindow:     5 * time.Minute,
		DiscussionWindow: 30 * time.Minute,
		StartGrace:       time.Minute,
	}
}

func newService(reg *quiz.Registry, st *fakeStarter, sink *fakeSink) *scanner.Service {
	return scanner.New(testConfig(), reg, st, sink, logx.Nop(), nil)
}

func TestScanOpensDiscussionWindow(t *testing.T) {
	t.Parallel()

	now := time.Now()
	reg := quiz.NewRegistry(nil)
	reg.Add(quiz.Descriptor{SessionKey: "k", TriggerAt: now.Add(10 * time.Minute)})

	sink := &fakeSink{}
	st := &fakeStarter{}
	svc := newService(reg, st, sink)

	svc.Scan(context.Background(), now)

	if len(sink.mutes) != 1 || sink.mutes[0] != false {
		t.Fatalf("mutes = %v, want one unmute", sink.mutes)
	}
	if len(sink.group) != 1 || !strings.Contains(sink.group[0], "Discussion is open") {
		t.Fatalf("group announcements = %q", sink.group)
	}
	if !reg.All()[0].DiscussionOpened {
		t.Error("DiscussionOpened flag not set")
	}

	// A second pass must not repeat the side effects.
	svc.Scan(context.Background(), now)
	if len(sink.mutes) != 1 || len(sink.group) != 1 {
		t.Errorf("discussion side effects repeated: mutes=%v group=%q", sink.mutes, sink.group)
	}
}

func TestScanSendsChannelNotice(t *testing.T) {
	t.Parallel()

	now := time.Now()
	reg := quiz.NewRegistry(nil)
	reg.Add(quiz.Descriptor{
		SessionKey:       "k",
		TriggerAt:        now.Add(3 * time.Minute),
		DiscussionOpened: true,
	})

	sink := &fakeSink{}
	svc := newService(reg, &fakeStarter{}, sink)

	svc.Scan(context.Background(), now)

	if len(sink.channel) != 1 || !strings.Contains(sink.channel[0], "starts in about") {
		t.Fatalf("channel notices = %q", sink.channel)
	}
	if !reg.All()[0].NoticeSent {
		t.Error("NoticeSent flag not set")
	}

	svc.Scan(context.Background(), now)
	if len(sink.channel) != 1 {
		t.Errorf("notice repeated: %q", sink.channel)
	}
}

func TestScanStartsDueSession(t *testing.T) {
	t.Parallel()

	now := time.Now()
	reg := quiz.NewRegistry(nil)
	reg.Add(quiz.Descriptor{
		SessionKey:       "k",
		TriggerAt:        now.Add(-10 * time.Second),
		NoticeSent:       true,
		DiscussionOpened: true,
	})

	st := &fakeStarter{}
	svc := newService(reg, st, &fakeSink{})

	svc.Scan(context.Background(), now)

	if len(st.started) != 1 || st.started[0] != "k" {
		t.Fatalf("started = %v", st.started)
	}
	if !reg.All()[0].Started {
		t.Error("Started flag not set after successful handoff")
	}
	if len(reg.ListPending()) != 0 {
		t.Error("started descriptor still listed as pending")
	}
}

func TestScanRetriesWhenEngineBusy(t *testing.T) {
	t.Parallel()

	now := time.Now()
	reg := quiz.NewRegistry(nil)
	reg.Add(quiz.Descriptor{
		SessionKey:       "k",
		TriggerAt:        now.Add(-10 * time.Second),
		NoticeSent:       true,
		DiscussionOpened: true,
	})

	st := &fakeStarter{err: quiz.ErrSessionActive}
	svc := newService(reg, st, &fakeSink{})

	svc.Scan(context.Background(), now)
	if reg.All()[0].Started {
		t.Fatal("Started flag set although the engine rejected the start")
	}

	// Engine frees up; the next tick picks the descriptor up again.
	st.mu.Lock()
	st.err = nil
	st.mu.Unlock()
	svc.Scan(context.Background(), now.Add(15*time.Second))
	if !reg.All()[0].Started {
		t.Error("descriptor not started after the engine became idle")
	}
}

func TestScanNoticeMinutesFromScanTime(t *testing.T) {
	t.Parallel()

	// A scan time far from the wall clock: the notice text must count from
	// the pass's own clock, not time.Now.
	now := time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC)
	reg := quiz.NewRegistry(nil)
	reg.Add(quiz.Descriptor{
		SessionKey:       "k",
		TriggerAt:        now.Add(3 * time.Minute),
		DiscussionOpened: true,
	})

	sink := &fakeSink{}
	svc := newService(reg, &fakeStarter{}, sink)

	svc.Scan(context.Background(), now)

	if len(sink.channel) != 1 || !strings.Contains(sink.channel[0], "in about 3 minute(s)") {
		t.Fatalf("channel notices = %q, want a 3 minute countdown", sink.channel)
	}
}

func TestScanStartsDeferredSessionPastGrace(t *testing.T) {
	t.Parallel()

	now := time.Now()
	reg := quiz.NewRegistry(nil)
	reg.Add(quiz.Descriptor{
		SessionKey:       "k",
		TriggerAt:        now,
		NoticeSent:       true,
		DiscussionOpened: true,
	})

	st := &fakeStarter{err: quiz.ErrSessionActive}
	svc := newService(reg, st, &fakeSink{})

	// The start is refused while another quiz runs long enough that the
	// descriptor ages past the grace window.
	svc.Scan(context.Background(), now)
	if reg.All()[0].Started {
		t.Fatal("Started flag set although the engine rejected the start")
	}

	st.mu.Lock()
	st.err = nil
	st.mu.Unlock()
	svc.Scan(context.Background(), now.Add(10*time.Minute))

	if len(st.started) != 1 || st.started[0] != "k" {
		t.Fatalf("started = %v, want the queued session despite being overdue", st.started)
	}
	if !reg.All()[0].Started {
		t.Error("Started flag not set after the engine freed up")
	}
}

func TestScanSkipsLongOverdue(t *testing.T) {
	t.Parallel()

	now := time.Now()
	reg := quiz.NewRegistry(nil)
	reg.Add(quiz.Descriptor{SessionKey: "stale", TriggerAt: now.Add(-2 * time.Hour)})

	st := &fakeStarter{}
	sink := &fakeSink{}
	svc := newService(reg, st, sink)

	svc.Scan(context.Background(), now)

	if len(st.started) != 0 {
		t.Errorf("stale descriptor was started: %v", st.started)
	}
	if reg.All()[0].Started {
		t.Error("stale descriptor flagged as started")
	}
	// No pre-start chatter either: the trigger is hours gone.
	if len(sink.channel) != 0 {
		t.Errorf("channel notices for stale descriptor: %q", sink.channel)
	}
}

func TestScanKeepsDiscussionFlagUnsetOnMuteFailure(t *testing.T) {
	t.Parallel()

	now := time.Now()
	reg := quiz.NewRegistry(nil)
	reg.Add(quiz.Descriptor{SessionKey: "k", TriggerAt: now.Add(10 * time.Minute)})

	sink := &fakeSink{failMute: true}
	svc := newService(reg, &fakeStarter{}, sink)

	svc.Scan(context.Background(), now)
	if reg.All()[0].DiscussionOpened {
		t.Fatal("DiscussionOpened set although the unmute failed")
	}

	// Once the send path recovers the window opens on the next tick.
	sink.mu.Lock()
	sink.failMute = false
	sink.mu.Unlock()
	svc.Scan(context.Background(), now)
	if !reg.All()[0].DiscussionOpened {
		t.Error("DiscussionOpened not set after recovery")
	}
}
