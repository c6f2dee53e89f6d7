package quiz

import (
	"fmt"
	"strings"
	"time"
)

// Submission is one parsed question set plus its schedule slot.
type Submission struct {
	Key       string
	TriggerAt time.Time
	Questions []Question
}

// ParseOptions bounds the accepted answer-option count per question.
// The zero value means 2..4.
type ParseOptions struct {
	MinOptions int
	MaxOptions int
}

func (o ParseOptions) withDefaults() ParseOptions {
	if o.MinOptions <= 0 {
		o.MinOptions = 2
	}
	if o.MaxOptions <= 0 {
		o.MaxOptions = 4
	}
	if o.MaxOptions < o.MinOptions {
		o.MaxOptions = o.MinOptions
	}
	return o
}

// ParseSubmission parses an operator-submitted quiz document.
//
// Format (one or more sets per message):
//
//	DATE: 2026-09-01
//	SESSION: evening
//	TIME: 18:30
//
//	Q1. Which planet is known as the red planet?
//	A) Venus
//	B) Mars
//	C) Jupiter
//	D) Saturn
//	ANS: B
//
// A new DATE: or SESSION: line flushes the current set. The session key is
// "<date>_<session>". Question blocks are separated by blank lines; blocks
// with a malformed answer line or an out-of-bounds option count are skipped.
// Trigger times are interpreted in loc.
func ParseSubmission(text string, loc *time.Location, opt ParseOptions) ([]Submission, error) {
	if loc == nil {
		loc = time.Local
	}
	opt = opt.withDefaults()

	var (
		subs    []Submission
		date    string
		session string
		hhmm    string
		buf     []string
	)

	flush := func() error {
		if date == "" || session == "" || hhmm == "" || len(buf) == 0 {
			buf = nil
			return nil
		}
		at, err := parseTrigger(date, hhmm, loc)
		if err != nil {
			buf = nil
			return err
		}
		qs := parseQuestionBlocks(strings.Join(buf, "\n"), opt)
		buf = nil
		if len(qs) == 0 {
			return fmt.Errorf("set %s_%s: no valid questions", date, session)
		}
		subs = append(subs, Submission{
			Key:       date + "_" + session,
			TriggerAt: at,
			Questions: qs,
		})
		return nil
	}

	for _, line := range strings.Split(text, "\n") {
		l := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(l, "DATE:"):
			if err := flush(); err != nil {
				return nil, err
			}
			date = strings.TrimSpace(strings.TrimPrefix(l, "DATE:"))
		case strings.HasPrefix(l, "SESSION:"):
			if err := flush(); err != nil {
				return nil, err
			}
			session = strings.TrimSpace(strings.TrimPrefix(l, "SESSION:"))
		case strings.HasPrefix(l, "TIME:"):
			hhmm = strings.TrimSpace(strings.TrimPrefix(l, "TIME:"))
		default:
			buf = append(buf, line)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	if len(subs) == 0 {
		return nil, fmt.Errorf("no quiz sets found (need DATE:, SESSION:, TIME: and question blocks)")
	}
	return subs, nil
}

func parseTrigger(date, hhmm string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	var h, m int
	if _, err := fmt.Sscanf(hhmm, "%d:%d", &h, &m); err != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return time.Time{}, fmt.Errorf("invalid time %q, expected HH:MM", hhmm)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, loc), nil
}

// parseQuestionBlocks extracts questions from blank-line separated blocks.
// Invalid blocks are dropped silently, matching operator expectations that a
// typo loses one question, not the whole set.
func parseQuestionBlocks(body string, opt ParseOptions) []Question {
	var out []Question
	for _, block := range splitBlocks(body) {
		var (
			text    string
			options []string
			ans     = -1
		)
		for _, line := range strings.Split(block, "\n") {
			l := strings.TrimSpace(line)
			switch {
			case len(l) > 0 && l[0] == 'Q':
				text = stripQuestionPrefix(l)
			case len(l) >= 2 && l[0] >= 'A' && l[0] <= 'D' && l[1] == ')':
				options = append(options, strings.TrimSpace(l[2:]))
			case strings.HasPrefix(l, "ANS:"):
				a := strings.TrimSpace(strings.TrimPrefix(l, "ANS:"))
				if len(a) == 1 && a[0] >= 'A' && a[0] <= 'D' {
					ans = int(a[0] - 'A')
				}
			}
		}
		if text == "" || ans < 0 || ans >= len(options) {
			continue
		}
		if len(options) < opt.MinOptions || len(options) > opt.MaxOptions {
			continue
		}
		out = append(out, Question{Text: text, Options: options, Correct: ans})
	}
	return out
}

func splitBlocks(body string) []string {
	var blocks []string
	var cur []string
	for _, line := range strings.Split(body, "\n") {
		if strings.TrimSpace(line) == "" {
			if len(cur) > 0 {
				blocks = append(blocks, strings.Join(cur, "\n"))
				cur = nil
			}
			continue
		}
		cur = append(cur, line)
	}
	if len(cur) > 0 {
		blocks = append(blocks, strings.Join(cur, "\n"))
	}
	return blocks
}

// stripQuestionPrefix removes a leading "Q", optional number and dot:
// "Q1. text" / "Q. text" / "Q text" -> "text".
func stripQuestionPrefix(l string) string {
	s := strings.TrimPrefix(l, "Q")
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	s = s[i:]
	s = strings.TrimPrefix(s, ".")
	return strings.TrimSpace(s)
}
