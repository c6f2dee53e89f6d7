package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"quizbot/internal/config"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const yamlDoc = `
telegram:
  token: "123:abc"
  group_id: -100123
  channel_id: -100456
  owner_user_ids: [42, 43]
  rate_per_sec: 3
logging:
  level: DEBUG
  console: true
quiz:
  open_period: 20s
  top_n: 5
scanner:
  enabled: true
  interval: 15s
  timezone: Asia/Kolkata
`

func TestManagerLoadYAML(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.yaml", yamlDoc)
	m := config.NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Telegram.Token != "123:abc" {
		t.Errorf("Token = %q", cfg.Telegram.Token)
	}
	if cfg.Telegram.GroupID != -100123 {
		t.Errorf("GroupID = %d", cfg.Telegram.GroupID)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 2 || cfg.Telegram.OwnerUserIDs[0] != 42 {
		t.Errorf("OwnerUserIDs = %v", cfg.Telegram.OwnerUserIDs)
	}
	if cfg.Logging.Level != "DEBUG" || !cfg.Logging.Console {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Quiz.OpenPeriod != "20s" || cfg.Quiz.TopN != 5 {
		t.Errorf("Quiz = %+v", cfg.Quiz)
	}
	if !cfg.Scanner.Enabled || cfg.Scanner.Timezone != "Asia/Kolkata" {
		t.Errorf("Scanner = %+v", cfg.Scanner)
	}

	if m.Get() != cfg {
		t.Error("Get() does not return the committed config")
	}
}

func TestManagerLoadJSON(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.json",
		`{"telegram":{"token":"t","group_id":1},"logging":{"console":true},"quiz":{},"scanner":{"enabled":false}}`)
	cfg, err := config.NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "t" || cfg.Telegram.GroupID != 1 {
		t.Errorf("cfg = %+v", cfg.Telegram)
	}
}

func TestManagerRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.json",
		`{"telegram":{"token":"t","group_id":1},"tipo":{}}`)
	if _, err := config.NewManager(path).Load(); err == nil {
		t.Fatal("want error for unknown top-level field")
	}

	path = writeFile(t, "config.yaml", "telegram:\n  token: t\n  grup_id: 5\n")
	if _, err := config.NewManager(path).Load(); err == nil {
		t.Fatal("want error for misspelled field")
	}
}

func TestManagerRejectsTrailingData(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.json", `{"telegram":{"token":"t","group_id":1}} {"extra":1}`)
	if _, err := config.NewManager(path).Load(); err == nil {
		t.Fatal("want error for trailing JSON document")
	}
}

func TestManagerSubscribeUnsubscribe(t *testing.T) {
	t.Parallel()

	m := config.NewManager("unused")
	ch := m.Subscribe(1)
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed after Unsubscribe")
	}
	// Double unsubscribe is a no-op.
	m.Unsubscribe(ch)
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"  ", 0, false},
		{"30s", 30 * time.Second, false},
		{"5m", 5 * time.Minute, false},
		{"1h30m", 90 * time.Minute, false},
		{"-5s", 0, true},
		{"5", 0, true},
		{"soon", 0, true},
	}
	for _, tc := range cases {
		got, err := config.ParseDurationField("f", tc.raw)
		if tc.wantErr != (err != nil) {
			t.Errorf("ParseDurationField(%q) err = %v, wantErr %v", tc.raw, err, tc.wantErr)
			continue
		}
		if !tc.wantErr && got != tc.want {
			t.Errorf("ParseDurationField(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()

	got, err := config.ParseDurationOrDefault("f", "", 15*time.Second)
	if err != nil || got != 15*time.Second {
		t.Errorf("empty = %v, %v", got, err)
	}
	got, err = config.ParseDurationOrDefault("f", "1m", 15*time.Second)
	if err != nil || got != time.Minute {
		t.Errorf("explicit = %v, %v", got, err)
	}
	if _, err := config.ParseDurationOrDefault("f", "nope", 15*time.Second); err == nil {
		t.Error("want error for invalid duration")
	}
}
