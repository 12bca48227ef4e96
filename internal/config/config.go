// Package config loads the vmrepo command configuration from the environment.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"

	"github.com/openslides/vmrepo/pkg/constants"
	"github.com/openslides/vmrepo/pkg/logger"
)

const Prefix = "VMREPO_"

const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
	// LogFormatText writes slog key=value lines.
	LogFormatText = "text"
)

const logFilePermission = 0o664

type Config struct {
	URL         string   `env:"URL"`
	Collections []string `env:"COLLECTIONS" envSeparator:"," envDefault:"motion,motion_state,motion_workflow,motion_submitter"`

	// StoragePath is the sqlite file holding sort settings. Empty keeps them
	// in memory.
	StoragePath string `env:"STORAGE_PATH"`
	Language    string `env:"LANGUAGE" envDefault:"en"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
	LogFile   string `env:"LOG_FILE"`

	ReconnectInterval time.Duration `env:"RECONNECT_INTERVAL" envDefault:"5s"`
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
}

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{Prefix: Prefix})
}

// LoadFrom parses the given environment instead of the process environment.
func LoadFrom(environ map[string]string) (Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings needed to connect.
func (c Config) Validate() error {
	if c.URL == "" {
		return constants.ErrNoURL
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid autoupdate url %q: %w", c.URL, err)
	}
	if u.Scheme != constants.WebsocketScheme && u.Scheme != constants.WebsocketSecureScheme {
		return fmt.Errorf("invalid autoupdate url %q: scheme must be %s or %s", c.URL, constants.WebsocketScheme, constants.WebsocketSecureScheme)
	}
	if len(c.Collections) == 0 {
		return fmt.Errorf("no collections configured")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch c.LogFormat {
	case LogFormatConsole, LogFormatJSON, LogFormatText:
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

func (c Config) Level() (zerolog.Level, error) {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// NewLogger builds the logger described by the config. Output goes to LogFile
// if set, w otherwise. The returned function closes the log file.
func (c Config) NewLogger(w io.Writer) (logger.Logger, func() error, error) {
	level, err := c.Level()
	if err != nil {
		return nil, nil, err
	}

	if c.LogFormat == LogFormatText {
		closeFn := func() error { return nil }
		if c.LogFile != "" {
			f, err := os.OpenFile(c.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, logFilePermission)
			if err != nil {
				return nil, nil, err
			}
			w, closeFn = f, f.Close
		}
		h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: slogLevel(level)})
		return logger.FromSlog(h), closeFn, nil
	}

	data, err := logger.New().
		FromBuffer(w).
		FromPath(c.LogFile).
		Level(level).
		Pretty(c.LogFormat == LogFormatConsole).
		Make()
	if err != nil {
		return nil, nil, err
	}
	return data, data.Close, nil
}

func slogLevel(level zerolog.Level) slog.Level {
	switch {
	case level <= zerolog.DebugLevel:
		return slog.LevelDebug
	case level == zerolog.InfoLevel:
		return slog.LevelInfo
	case level == zerolog.WarnLevel:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
