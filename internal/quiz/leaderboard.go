package quiz

import (
	"fmt"
	"sort"
	"strings"
)

// LeaderboardEntry is one ranked row of a finished session.
type LeaderboardEntry struct {
	Rank        int
	UserID      int64
	DisplayName string
	Score       int
	Total       int
}

// CompileLeaderboard ranks the session ledger.
//
// Sorting is by score descending; ties keep first-seen order (the order in
// which users first answered), which makes the result deterministic for a
// given event sequence. top > 0 truncates the returned slice; top <= 0
// returns the full ledger.
//
// The second return value is false when nobody answered, so callers can
// render an explicit empty-result message instead of a blank list.
func CompileLeaderboard(scores map[int64]int, names map[int64]string, order []int64, total, top int) ([]LeaderboardEntry, bool) {
	if len(order) == 0 {
		return nil, false
	}

	entries := make([]LeaderboardEntry, 0, len(order))
	for _, uid := range order {
		entries = append(entries, LeaderboardEntry{
			UserID:      uid,
			DisplayName: names[uid],
			Score:       scores[uid],
			Total:       total,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}

	if top > 0 && len(entries) > top {
		entries = entries[:top]
	}
	return entries, true
}

// FormatLeaderboard renders the ranked list as plain announcement text.
func FormatLeaderboard(entries []LeaderboardEntry, answered bool, total int) string {
	if !answered {
		return "Quiz finished. Nobody answered this time."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Leaderboard (%d questions)\n\n", total)
	for _, e := range entries {
		name := e.DisplayName
		if name == "" {
			name = fmt.Sprintf("player %d", e.UserID)
		}
		fmt.Fprintf(&b, "%d. %s — %d/%d\n", e.Rank, name, e.Score, e.Total)
	}
	return strings.TrimRight(b.String(), "\n")
}
