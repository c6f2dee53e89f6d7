package quiz_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"quizbot/internal/quiz"
)

type captureScheduleWriter struct {
	mu    sync.Mutex
	saved [][]quiz.Descriptor
}

func (w *captureScheduleWriter) SaveSchedules(ctx context.Context, descs []quiz.Descriptor) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.saved = append(w.saved, append([]quiz.Descriptor(nil), descs...))
	return nil
}

func desc(key string, at time.Time) quiz.Descriptor {
	return quiz.Descriptor{SessionKey: key, TriggerAt: at}
}

func TestRegistryAddReplacesSameKey(t *testing.T) {
	t.Parallel()

	r := quiz.NewRegistry(nil)
	at := time.Now()
	r.Add(desc("a", at))
	r.Add(desc("b", at))
	r.Add(desc("a", at.Add(time.Hour)))

	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}
	all := r.All()
	if all[0].SessionKey != "a" || !all[0].TriggerAt.Equal(at.Add(time.Hour)) {
		t.Errorf("replacement did not keep position/update time: %+v", all[0])
	}
}

func TestRegistryFlagsAreMonotonic(t *testing.T) {
	t.Parallel()

	r := quiz.NewRegistry(nil)
	r.Add(desc("a", time.Now()))

	if !r.MarkNoticeSent("a") {
		t.Fatal("first MarkNoticeSent = false, want true")
	}
	if r.MarkNoticeSent("a") {
		t.Fatal("second MarkNoticeSent = true, want false")
	}
	if r.MarkNoticeSent("missing") {
		t.Fatal("MarkNoticeSent on missing key = true")
	}

	if !r.MarkDiscussionOpened("a") || r.MarkDiscussionOpened("a") {
		t.Fatal("MarkDiscussionOpened not monotonic")
	}
	if !r.MarkStarted("a") || r.MarkStarted("a") {
		t.Fatal("MarkStarted not monotonic")
	}

	got := r.All()[0]
	if !got.NoticeSent || !got.DiscussionOpened || !got.Started {
		t.Errorf("flags not persisted: %+v", got)
	}
}

func TestRegistryListPendingExcludesStarted(t *testing.T) {
	t.Parallel()

	r := quiz.NewRegistry(nil)
	r.Add(desc("a", time.Now()))
	r.Add(desc("b", time.Now()))
	r.MarkStarted("a")

	pending := r.ListPending()
	if len(pending) != 1 || pending[0].SessionKey != "b" {
		t.Fatalf("pending = %+v, want only b", pending)
	}

	// Returned copies must not alias registry state.
	pending[0].NoticeSent = true
	if r.All()[1].NoticeSent {
		t.Error("mutating a ListPending copy leaked into the registry")
	}
}

func TestRegistryPersist(t *testing.T) {
	t.Parallel()

	w := &captureScheduleWriter{}
	r := quiz.NewRegistry(w)
	r.Add(desc("a", time.Now()))
	r.Add(desc("b", time.Now()))
	r.Remove("a")

	if err := r.Persist(context.Background()); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.saved) != 1 || len(w.saved[0]) != 1 || w.saved[0][0].SessionKey != "b" {
		t.Fatalf("saved = %+v", w.saved)
	}
}

func TestCatalogCopySemantics(t *testing.T) {
	t.Parallel()

	c := quiz.NewCatalog(nil)
	qs := []quiz.Question{{Text: "q", Options: []string{"a", "b"}, Correct: 0}}
	c.Put("k", qs)

	got, ok := c.GetQuestions("k")
	if !ok || len(got) != 1 {
		t.Fatalf("GetQuestions = %v, %v", got, ok)
	}
	got[0].Text = "mutated"
	again, _ := c.GetQuestions("k")
	if again[0].Text != "q" {
		t.Error("mutating a returned slice leaked into the catalog")
	}

	if _, ok := c.GetQuestions("missing"); ok {
		t.Error("GetQuestions on missing key = true")
	}
	c.Put("empty", nil)
	if _, ok := c.GetQuestions("empty"); ok {
		t.Error("GetQuestions on empty set = true")
	}

	if !c.Delete("k") || c.Delete("k") {
		t.Error("Delete not idempotent-false on second call")
	}
}
