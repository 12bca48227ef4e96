// Package cli implements the vmrepo command line.
package cli

import (
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openslides/vmrepo/internal/config"
)

type options struct {
	url         string
	collections []string
	storage     string
	language    string
	logLevel    string
	logFormat   string
	reconnect   time.Duration
	timeout     time.Duration
}

// register binds the flags that override the environment configuration.
func (o *options) register(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&o.url, "url", "", "autoupdate websocket url (env "+config.Prefix+"URL)")
	f.StringSliceVar(&o.collections, "collections", nil, "collections to subscribe")
	f.StringVar(&o.storage, "storage", "", "sqlite file for sort settings, empty keeps them in memory")
	f.StringVar(&o.language, "language", "", "collation language")
	f.StringVar(&o.logLevel, "log-level", "", "log level")
	f.StringVar(&o.logFormat, "log-format", "", "log format: console, json or text")
	f.DurationVar(&o.reconnect, "reconnect-interval", 0, "interval of reconnect attempts")
	f.DurationVar(&o.timeout, "request-timeout", 0, "timeout of subscribe requests")
}

// load reads the environment and applies the flags set on cmd.
func (o *options) load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.URL = o.url
	}
	if flags.Changed("collections") {
		cfg.Collections = o.collections
	}
	if flags.Changed("storage") {
		cfg.StoragePath = o.storage
	}
	if flags.Changed("language") {
		cfg.Language = o.language
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = o.logFormat
	}
	if flags.Changed("reconnect-interval") {
		cfg.ReconnectInterval = o.reconnect
	}
	if flags.Changed("request-timeout") {
		cfg.RequestTimeout = o.timeout
	}
	return cfg, nil
}

// RootCmd returns the vmrepo command. Logs go to stderr.
func RootCmd() *cobra.Command {
	return rootCmd(os.Stderr)
}

func rootCmd(logOut io.Writer) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "vmrepo",
		Short: "Mirror and sort meeting records from the autoupdate service",
		Long: `vmrepo subscribes to the autoupdate service, keeps view models of the
motion collections in memory and maintains the sorted motion list.

Settings are read from ` + config.Prefix + `* environment variables; flags take
precedence.`,
		SilenceUsage: true,
	}
	opts.register(cmd)

	cmd.AddCommand(watchCmd(opts, logOut))
	cmd.AddCommand(sortCmd(opts, logOut))
	return cmd
}
