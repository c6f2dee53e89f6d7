package config

// Config is the root config document. Files may be JSON or YAML; both are
// decoded strictly (unknown fields rejected).
//
// Duration fields are strings ("30s", "5m") parsed via ParseDurationField.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage,omitempty"`
	Quiz     QuizConfig     `json:"quiz"`
	Scanner  ScannerConfig  `json:"scanner"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// GroupID is the quiz group: polls, announcements and mute/unmute go here.
	GroupID int64 `json:"group_id"`
	// ChannelID receives pre-start notices. 0 disables channel notices.
	ChannelID int64 `json:"channel_id,omitempty"`
	// InviteLink is attached to channel notices so readers can join the group.
	InviteLink string `json:"invite_link,omitempty"`

	// OwnerUserIDs may submit quizzes and run admin commands.
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`

	PollTimeout string `json:"poll_timeout,omitempty"` // long-poll timeout, default 10s
	// RatePerSec caps outbound sends (Telegram group flood limits). Default 3.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"` // TRACE..ERROR, default INFO
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig selects the persistence backend for question sets,
// schedules and the result ledger.
//
// Driver values: "file" (atomic JSON files), "sqlite", "" / "none" (disabled;
// quizzes then live only in memory).
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// QuizConfig tunes the live session engine.
type QuizConfig struct {
	OpenPeriod  string `json:"open_period,omitempty"`  // poll answer window, default 20s
	QuestionGap string `json:"question_gap,omitempty"` // buffer after a poll closes, default 5s
	SettleDelay string `json:"settle_delay,omitempty"` // trailing-answer grace before results, default 3s
	StartDelay  string `json:"start_delay,omitempty"`  // delay before the first question, default 2s
	RemuteDelay string `json:"remute_delay,omitempty"` // open-group window after results, default 15m
	SendTimeout string `json:"send_timeout,omitempty"` // bound on each outbound side effect, default 10s

	// MinOptions/MaxOptions bound accepted answer-option counts for
	// submitted questions. Defaults 2 and 4.
	MinOptions int `json:"min_options,omitempty"`
	MaxOptions int `json:"max_options,omitempty"`

	// TopN caps the displayed leaderboard. Default 10.
	TopN int `json:"top_n,omitempty"`
}

// ScannerConfig tunes the schedule scan loop.
type ScannerConfig struct {
	Enabled  bool   `json:"enabled"`
	Interval string `json:"interval,omitempty"` // scan tick, default 15s

	NoticeWindow     string `json:"notice_window,omitempty"`     // default 5m
	DiscussionWindow string `json:"discussion_window,omitempty"` // default 30m, empty string keeps default; "0s" disables
	StartGrace       string `json:"start_grace,omitempty"`       // default 1m

	Timezone string `json:"timezone,omitempty"` // IANA TZ, e.g. "Asia/Kolkata"

	// DigestSpec is an optional cron spec (5/6-field or @-descriptor) for a
	// periodic "upcoming sessions" announcement. Empty disables the digest.
	DigestSpec string `json:"digest_spec,omitempty"`
}
