package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"quizbot/internal/quiz"
	logx "quizbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite storage ready", logx.String("path", cfg.Path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadQuestionSets(ctx context.Context) (map[string][]quiz.Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_key, idx, text, options, correct FROM question_sets ORDER BY session_key, idx`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sets := map[string][]quiz.Question{}
	for rows.Next() {
		var (
			key     string
			idx     int
			text    string
			optsRaw string
			correct int
		)
		if err := rows.Scan(&key, &idx, &text, &optsRaw, &correct); err != nil {
			return nil, err
		}
		var opts []string
		if err := json.Unmarshal([]byte(optsRaw), &opts); err != nil {
			return nil, fmt.Errorf("question_sets %s[%d]: %w", key, idx, err)
		}
		sets[key] = append(sets[key], quiz.Question{Text: text, Options: opts, Correct: correct})
	}
	return sets, rows.Err()
}

func (s *sqliteStore) SaveQuestionSets(ctx context.Context, sets map[string][]quiz.Question) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM question_sets`); err != nil {
		return err
	}

	// Deterministic write order keeps diffs of the db file stable.
	keys := make([]string, 0, len(sets))
	for k := range sets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		for i, q := range sets[key] {
			opts, err := json.Marshal(q.Options)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO question_sets(session_key, idx, text, options, correct) VALUES(?,?,?,?,?)`,
				key, i, q.Text, string(opts), q.Correct); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadSchedules(ctx context.Context) ([]quiz.Descriptor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_key, trigger_at, notice_sent, discussion_opened, started FROM schedules ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var descs []quiz.Descriptor
	for rows.Next() {
		var (
			d  quiz.Descriptor
			at string
		)
		if err := rows.Scan(&d.SessionKey, &at, &d.NoticeSent, &d.DiscussionOpened, &d.Started); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("schedules %s: %w", d.SessionKey, err)
		}
		d.TriggerAt = t
		descs = append(descs, d)
	}
	return descs, rows.Err()
}

func (s *sqliteStore) SaveSchedules(ctx context.Context, descs []quiz.Descriptor) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM schedules`); err != nil {
		return err
	}
	for i, d := range descs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schedules(session_key, trigger_at, notice_sent, discussion_opened, started, position)
			 VALUES(?,?,?,?,?,?)`,
			d.SessionKey, d.TriggerAt.Format(time.RFC3339Nano),
			d.NoticeSent, d.DiscussionOpened, d.Started, i); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) AppendResult(ctx context.Context, r quiz.SessionResult) error {
	at := r.FinishedAt
	if at.IsZero() {
		at = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range r.Entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO results(at, session_key, user_id, display_name, score, total) VALUES(?,?,?,?,?,?)`,
			at.Format(time.RFC3339Nano), r.SessionKey, e.UserID, nullStr(e.DisplayName), e.Score, r.Total); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
