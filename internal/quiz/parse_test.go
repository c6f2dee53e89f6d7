package quiz_test

import (
	"strings"
	"testing"
	"time"

	"quizbot/internal/quiz"
)

const sampleDoc = `DATE: 2026-09-01
SESSION: evening
TIME: 18:30

Q1. Which planet is known as the red planet?
A) Venus
B) Mars
C) Jupiter
D) Saturn
ANS: B

Q2. How many legs does a spider have?
A) Six
B) Eight
ANS: B
`

func TestParseSubmission(t *testing.T) {
	t.Parallel()

	loc := time.UTC
	subs, err := quiz.ParseSubmission(sampleDoc, loc, quiz.ParseOptions{})
	if err != nil {
		t.Fatalf("ParseSubmission: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("got %d submissions, want 1", len(subs))
	}

	sub := subs[0]
	if sub.Key != "2026-09-01_evening" {
		t.Errorf("Key = %q", sub.Key)
	}
	want := time.Date(2026, 9, 1, 18, 30, 0, 0, loc)
	if !sub.TriggerAt.Equal(want) {
		t.Errorf("TriggerAt = %v, want %v", sub.TriggerAt, want)
	}
	if len(sub.Questions) != 2 {
		t.Fatalf("got %d questions, want 2", len(sub.Questions))
	}
	q := sub.Questions[0]
	if q.Text != "Which planet is known as the red planet?" {
		t.Errorf("Text = %q", q.Text)
	}
	if len(q.Options) != 4 || q.Options[1] != "Mars" {
		t.Errorf("Options = %v", q.Options)
	}
	if q.Correct != 1 {
		t.Errorf("Correct = %d, want 1", q.Correct)
	}
	if sub.Questions[1].Correct != 1 || len(sub.Questions[1].Options) != 2 {
		t.Errorf("second question = %+v", sub.Questions[1])
	}
}

func TestParseSubmissionMultipleSets(t *testing.T) {
	t.Parallel()

	doc := sampleDoc + `
DATE: 2026-09-02
SESSION: morning
TIME: 09:00

Q. Capital of France?
A) Paris
B) Rome
ANS: A
`
	subs, err := quiz.ParseSubmission(doc, time.UTC, quiz.ParseOptions{})
	if err != nil {
		t.Fatalf("ParseSubmission: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("got %d submissions, want 2", len(subs))
	}
	if subs[1].Key != "2026-09-02_morning" {
		t.Errorf("second key = %q", subs[1].Key)
	}
	if len(subs[1].Questions) != 1 {
		t.Errorf("second set: %d questions, want 1", len(subs[1].Questions))
	}
}

func TestParseSubmissionDropsMalformedBlocks(t *testing.T) {
	t.Parallel()

	doc := `DATE: 2026-09-01
SESSION: x
TIME: 10:00

Q1. Valid?
A) yes
B) no
ANS: A

Q2. Answer out of range
A) only one option listed
ANS: D

Q3. Missing answer line
A) a
B) b
`
	subs, err := quiz.ParseSubmission(doc, time.UTC, quiz.ParseOptions{})
	if err != nil {
		t.Fatalf("ParseSubmission: %v", err)
	}
	if len(subs[0].Questions) != 1 {
		t.Fatalf("got %d questions, want only the valid one", len(subs[0].Questions))
	}
}

func TestParseSubmissionOptionBounds(t *testing.T) {
	t.Parallel()

	doc := `DATE: 2026-09-01
SESSION: x
TIME: 10:00

Q1. Two options?
A) a
B) b
ANS: A
`
	// MinOptions 3 rejects the only block, so the set fails as a whole.
	_, err := quiz.ParseSubmission(doc, time.UTC, quiz.ParseOptions{MinOptions: 3})
	if err == nil {
		t.Fatal("want error for set with no valid questions")
	}
	if !strings.Contains(err.Error(), "no valid questions") {
		t.Errorf("err = %v", err)
	}
}

func TestParseSubmissionErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		doc  string
	}{
		{"empty", ""},
		{"no headers", "Q1. a?\nA) x\nB) y\nANS: A"},
		{"bad time", "DATE: 2026-09-01\nSESSION: x\nTIME: 25:99\n\nQ1. a?\nA) x\nB) y\nANS: A"},
		{"bad date", "DATE: tomorrow\nSESSION: x\nTIME: 10:00\n\nQ1. a?\nA) x\nB) y\nANS: A"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := quiz.ParseSubmission(tc.doc, time.UTC, quiz.ParseOptions{}); err == nil {
				t.Fatal("want error")
			}
		})
	}
}

func TestParseSubmissionHeaderReplacesPreviousSet(t *testing.T) {
	t.Parallel()

	// A second DATE header without questions in between must not produce an
	// empty first set; the earlier buffered questions belong to the first key.
	doc := `DATE: 2026-09-01
SESSION: a
TIME: 10:00

Q1. one?
A) x
B) y
ANS: A

DATE: 2026-09-01
SESSION: b
TIME: 11:00

Q1. two?
A) x
B) y
ANS: B
`
	subs, err := quiz.ParseSubmission(doc, time.UTC, quiz.ParseOptions{})
	if err != nil {
		t.Fatalf("ParseSubmission: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("got %d submissions, want 2", len(subs))
	}
	if subs[0].Key != "2026-09-01_a" || subs[1].Key != "2026-09-01_b" {
		t.Errorf("keys = %q, %q", subs[0].Key, subs[1].Key)
	}
}
