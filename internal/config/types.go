package config

import "time"

// Settings are the process settings of alertrelay. Routing policy, webhook
// endpoints, Telegram profiles and topics live in the site documents named
// under Sources, not here.
type Settings struct {
	Logging  LoggingSettings  `mapstructure:"logging"`
	Queue    QueueSettings    `mapstructure:"queue"`
	Webhook  WebhookSettings  `mapstructure:"webhook"`
	Sources  SourceSettings   `mapstructure:"sources"`
	Telegram TelegramSettings `mapstructure:"telegram"`
	Storage  StorageSettings  `mapstructure:"storage"`
	Metrics  MetricsSettings  `mapstructure:"metrics"`
	Drain    DrainSettings    `mapstructure:"drain"`

	// Durations holds the parsed duration fields.
	Durations Durations `mapstructure:"-"`
}

type LoggingSettings struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
	File    struct {
		Enabled bool   `mapstructure:"enabled"`
		Path    string `mapstructure:"path"`
	} `mapstructure:"file"`
}

type QueueSettings struct {
	Dir string `mapstructure:"dir"`
	// MaxAttempts moves records to the dead-letter directory after this many
	// failed retries. 0 keeps them forever.
	MaxAttempts int `mapstructure:"max_attempts"`
}

// WebhookSettings tune delivery; endpoints come from the policy document.
type WebhookSettings struct {
	Timeout string `mapstructure:"timeout"`
	Workers int    `mapstructure:"workers"`
}

// SourceSettings name the site documents.
type SourceSettings struct {
	// Document is the primary policy/profile document (YAML or JSON).
	Document string `mapstructure:"document"`
	// Fallback is consulted for keys the primary document lacks.
	Fallback   string `mapstructure:"fallback"`
	Topics     string `mapstructure:"topics"`
	TopicCache string `mapstructure:"topic_cache"`
}

type TelegramSettings struct {
	Disabled   bool    `mapstructure:"disabled"`
	RatePerSec float64 `mapstructure:"rate_per_sec"`
	RetryMax   int     `mapstructure:"retry_max"`
	Timeout    string  `mapstructure:"timeout"`
	APIURL     string  `mapstructure:"api_url"`
}

type StorageSettings struct {
	// Driver is one of: none, file, sqlite.
	Driver      string `mapstructure:"driver"`
	Path        string `mapstructure:"path"`
	BusyTimeout string `mapstructure:"busy_timeout"`
}

type MetricsSettings struct {
	// Listen is the serve daemon's /metrics address; empty disables it.
	Listen        string `mapstructure:"listen"`
	Pprof         bool   `mapstructure:"pprof"`
	Token         string `mapstructure:"token"`
	AllowInsecure bool   `mapstructure:"allow_insecure"`
}

type DrainSettings struct {
	// Schedule is a cron spec for the serve daemon.
	Schedule       string   `mapstructure:"schedule"`
	Destinations   []string `mapstructure:"destinations"`
	MaxRecords     int      `mapstructure:"max_records"`
	AlertThreshold int      `mapstructure:"alert_threshold"`
	AlertTag       string   `mapstructure:"alert_tag"`
	AlertSite      string   `mapstructure:"alert_site"`
}

type Durations struct {
	WebhookTimeout     time.Duration
	TelegramTimeout    time.Duration
	StorageBusyTimeout time.Duration
}
