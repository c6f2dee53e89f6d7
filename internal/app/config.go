package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"quizbot/internal/config"
	"quizbot/internal/quiz"
	"quizbot/internal/services/scanner"
	"quizbot/internal/storage"
	"quizbot/internal/transport/telegram"
	logx "quizbot/pkg/logx"
)

// Translators from the on-disk config document to per-component configs.
// Duration fields are strings in the document; invalid values surface as
// errors during validation, before anything is applied.

func logConfigFrom(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
	}
}

func engineConfigFrom(c config.QuizConfig) (quiz.EngineConfig, error) {
	var (
		out quiz.EngineConfig
		err error
	)
	if out.OpenPeriod, err = config.ParseDurationField("quiz.open_period", c.OpenPeriod); err != nil {
		return out, err
	}
	if out.QuestionGap, err = config.ParseDurationField("quiz.question_gap", c.QuestionGap); err != nil {
		return out, err
	}
	if out.SettleDelay, err = config.ParseDurationField("quiz.settle_delay", c.SettleDelay); err != nil {
		return out, err
	}
	if out.StartDelay, err = config.ParseDurationField("quiz.start_delay", c.StartDelay); err != nil {
		return out, err
	}
	if out.RemuteDelay, err = config.ParseDurationField("quiz.remute_delay", c.RemuteDelay); err != nil {
		return out, err
	}
	if out.SendTimeout, err = config.ParseDurationField("quiz.send_timeout", c.SendTimeout); err != nil {
		return out, err
	}
	out.TopN = c.TopN
	return out, nil
}

func parseOptionsFrom(c config.QuizConfig) quiz.ParseOptions {
	return quiz.ParseOptions{MinOptions: c.MinOptions, MaxOptions: c.MaxOptions}
}

func scannerConfigFrom(c config.ScannerConfig) (scanner.Config, error) {
	var (
		out = scanner.Config{
			Enabled:    c.Enabled,
			Timezone:   c.Timezone,
			DigestSpec: c.DigestSpec,
		}
		err error
	)
	if out.Interval, err = config.ParseDurationField("scanner.interval", c.Interval); err != nil {
		return out, err
	}
	if out.NoticeWindow, err = config.ParseDurationField("scanner.notice_window", c.NoticeWindow); err != nil {
		return out, err
	}
	if out.DiscussionWindow, err = config.ParseDurationField("scanner.discussion_window", c.DiscussionWindow); err != nil {
		return out, err
	}
	if out.StartGrace, err = config.ParseDurationField("scanner.start_grace", c.StartGrace); err != nil {
		return out, err
	}
	return out, nil
}

func storageConfigFrom(c config.StorageConfig) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", c.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: c.Driver, Path: c.Path, BusyTimeout: busy}, nil
}

func telegramConfigFrom(c config.TelegramConfig) (telegram.Config, error) {
	pollTimeout, err := config.ParseDurationField("telegram.poll_timeout", c.PollTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:       c.Token,
		PollTimeout: pollTimeout,
		RatePerSec:  c.RatePerSec,
	}, nil
}

// validate checks a full config document. Used both at boot and as the
// transactional gate for hot reloads.
func validate(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("empty config")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if cfg.Telegram.GroupID == 0 {
		return errors.New("telegram.group_id is required")
	}
	if _, err := telegramConfigFrom(cfg.Telegram); err != nil {
		return err
	}
	if _, err := engineConfigFrom(cfg.Quiz); err != nil {
		return err
	}
	if _, err := scannerConfigFrom(cfg.Scanner); err != nil {
		return err
	}
	if _, err := storageConfigFrom(cfg.Storage); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Scanner.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scanner.timezone: %w", err)
		}
	}
	if spec := strings.TrimSpace(cfg.Scanner.DigestSpec); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("scanner.digest_spec: %w", err)
		}
	}
	return nil
}
