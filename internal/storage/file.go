package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"quizbot/internal/quiz"
	logx "quizbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files (relative to the configured path's prefix):
//   - <prefix>.sessions.json  (full question-set catalog)
//   - <prefix>.schedule.json  (full schedule registry)
//   - <prefix>.results.jsonl  (append-only result ledger)
//
// State files are replaced atomically (write temp + rename) so a crash
// mid-write never corrupts the previous snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	sessionsPath string
	schedulePath string

	resultsFile *os.File
}

type resultRow struct {
	At          time.Time `json:"at"`
	SessionKey  string    `json:"session_key"`
	UserID      int64     `json:"user_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Score       int       `json:"score"`
	Total       int       `json:"total"`
}

type scheduleRecord struct {
	SessionKey       string    `json:"session_key"`
	TriggerAt        time.Time `json:"trigger_at"`
	NoticeSent       bool      `json:"notice_sent"`
	DiscussionOpened bool      `json:"discussion_opened"`
	Started          bool      `json:"started"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	rf, err := os.OpenFile(prefix+".results.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	log.Debug("file storage ready", logx.String("prefix", prefix))
	return &fileStore{
		log:          log,
		sessionsPath: prefix + ".sessions.json",
		schedulePath: prefix + ".schedule.json",
		resultsFile:  rf,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resultsFile != nil {
		err := s.resultsFile.Close()
		s.resultsFile = nil
		return err
	}
	return nil
}

func (s *fileStore) LoadQuestionSets(ctx context.Context) (map[string][]quiz.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sets := map[string][]quiz.Question{}
	b, err := os.ReadFile(s.sessionsPath)
	if errors.Is(err, os.ErrNotExist) {
		return sets, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, &sets); err != nil {
		return nil, err
	}
	return sets, nil
}

func (s *fileStore) SaveQuestionSets(ctx context.Context, sets map[string][]quiz.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.sessionsPath, sets)
}

func (s *fileStore) LoadSchedules(ctx context.Context) ([]quiz.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var recs []scheduleRecord
	b, err := os.ReadFile(s.schedulePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, err
	}

	descs := make([]quiz.Descriptor, 0, len(recs))
	for _, r := range recs {
		descs = append(descs, quiz.Descriptor(r))
	}
	return descs, nil
}

func (s *fileStore) SaveSchedules(ctx context.Context, descs []quiz.Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := make([]scheduleRecord, 0, len(descs))
	for _, d := range descs {
		recs = append(recs, scheduleRecord(d))
	}
	return writeJSONAtomic(s.schedulePath, recs)
}

func (s *fileStore) AppendResult(ctx context.Context, r quiz.SessionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resultsFile == nil {
		return ErrDisabled
	}

	at := r.FinishedAt
	if at.IsZero() {
		at = time.Now()
	}
	for _, e := range r.Entries {
		row := resultRow{
			At:          at,
			SessionKey:  r.SessionKey,
			UserID:      e.UserID,
			DisplayName: e.DisplayName,
			Score:       e.Score,
			Total:       r.Total,
		}
		b, err := json.Marshal(row)
		if err != nil {
			return err
		}
		if _, err := s.resultsFile.Write(append(b, '\n')); err != nil {
			return err
		}
	}
	return nil
}

func writeJSONAtomic(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
