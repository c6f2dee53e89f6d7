// Package storage persists quiz state: the question-set catalog, the
// schedule registry, and the append-only ledger of finished-session results.
//
// Writes are full-state replacements: in-memory state stays authoritative
// and the next successful write flushes everything.
package storage

import (
	"context"
	"errors"
	"strings"

	"quizbot/internal/quiz"
	logx "quizbot/pkg/logx"
)

// Store is the persistence API used by the catalog, registry and engine.
// It satisfies quiz.SetWriter, quiz.ScheduleWriter and quiz.ResultRecorder.
type Store interface {
	LoadQuestionSets(ctx context.Context) (map[string][]quiz.Question, error)
	SaveQuestionSets(ctx context.Context, sets map[string][]quiz.Question) error

	LoadSchedules(ctx context.Context) ([]quiz.Descriptor, error)
	SaveSchedules(ctx context.Context, descs []quiz.Descriptor) error

	AppendResult(ctx context.Context, r quiz.SessionResult) error

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
