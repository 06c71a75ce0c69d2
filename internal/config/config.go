package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. ALERTRELAY_QUEUE_DIR.
const EnvPrefix = "ALERTRELAY"

// DefaultPaths are searched for alertrelay.yaml when no file is given.
var DefaultPaths = []string{"/etc/alertrelay", "."}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file.enabled", false)
	v.SetDefault("logging.file.path", "./alertrelay.log")

	v.SetDefault("queue.dir", "/var/lib/alertrelay/queue")
	v.SetDefault("queue.max_attempts", 0)

	v.SetDefault("webhook.timeout", "10s")
	v.SetDefault("webhook.workers", 4)

	v.SetDefault("sources.document", "/etc/alertrelay/notifications.yaml")
	v.SetDefault("sources.fallback", "")
	v.SetDefault("sources.topics", "/etc/alertrelay/telegram-topics.yaml")
	v.SetDefault("sources.topic_cache", "/var/lib/alertrelay/topic-cache.json")

	v.SetDefault("telegram.disabled", false)
	v.SetDefault("telegram.rate_per_sec", 20)
	v.SetDefault("telegram.retry_max", 2)
	v.SetDefault("telegram.timeout", "15s")
	v.SetDefault("telegram.api_url", "")

	v.SetDefault("storage.driver", "file")
	v.SetDefault("storage.path", "/var/lib/alertrelay/journal.jsonl")
	v.SetDefault("storage.busy_timeout", "5s")

	v.SetDefault("metrics.listen", "127.0.0.1:9464")
	v.SetDefault("metrics.pprof", false)
	v.SetDefault("metrics.token", "")
	v.SetDefault("metrics.allow_insecure", false)

	v.SetDefault("drain.schedule", "@every 1m")
	v.SetDefault("drain.destinations", []string{})
	v.SetDefault("drain.max_records", 0)
	v.SetDefault("drain.alert_threshold", 0)
	v.SetDefault("drain.alert_tag", "")
	v.SetDefault("drain.alert_site", "")
}

// Load reads settings from defaults, an optional YAML/JSON file and
// ALERTRELAY_* environment variables, in increasing precedence. An explicit
// path must exist; without one a missing alertrelay.yaml is fine.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("alertrelay")
		v.SetConfigType("yaml")
		for _, p := range DefaultPaths {
			v.AddConfigPath(p)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &nf) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.resolve(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) resolve() error {
	var err error
	if s.Durations.WebhookTimeout, err = ParseDurationOrDefault("webhook.timeout", s.Webhook.Timeout, 10*time.Second); err != nil {
		return err
	}
	if s.Durations.TelegramTimeout, err = ParseDurationOrDefault("telegram.timeout", s.Telegram.Timeout, 15*time.Second); err != nil {
		return err
	}
	if s.Durations.StorageBusyTimeout, err = ParseDurationOrDefault("storage.busy_timeout", s.Storage.BusyTimeout, 5*time.Second); err != nil {
		return err
	}
	if s.Queue.MaxAttempts < 0 {
		return fmt.Errorf("queue.max_attempts: must be >= 0")
	}
	if s.Drain.AlertThreshold < 0 {
		return fmt.Errorf("drain.alert_threshold: must be >= 0")
	}
	if s.Webhook.Workers <= 0 {
		s.Webhook.Workers = 4
	}
	s.Logging.Level = strings.ToLower(strings.TrimSpace(s.Logging.Level))
	return nil
}
