package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"alertrelay/internal/config"
	logx "alertrelay/pkg/logx"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// app is the state shared by all subcommands of one invocation.
type app struct {
	configPath string
	logLevel   string

	settings *config.Settings
	logSvc   *logx.Service
	log      logx.Logger
}

// NewRootCmd builds a fresh command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "alertrelay",
		Short: "Route, deliver and durably retry operational alerts",
		Long: `alertrelay delivers operational alerts to webhooks and Telegram forum
topics. Failed deliveries are written to a file-backed queue which
"alertrelay drain" (or the "serve" daemon) replays later.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.init,
		PersistentPostRun: func(*cobra.Command, []string) { a.close() },
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "settings file (default: /etc/alertrelay/alertrelay.yaml if present)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level (trace, debug, info, warn, error)")

	root.Version = Version
	root.AddCommand(
		newSendCmd(a),
		newDrainCmd(a),
		newStatusCmd(a),
		newServeCmd(a),
		newTopicsCmd(a),
	)
	return root
}

// Execute is the entry point called from main.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		var ex exitError
		if errors.As(err, &ex) {
			os.Exit(ex.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (a *app) init(*cobra.Command, []string) error {
	s, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if lvl := strings.TrimSpace(a.logLevel); lvl != "" {
		s.Logging.Level = strings.ToLower(lvl)
	}
	a.settings = s
	a.logSvc, a.log = logx.New(logx.Config{
		Level:   s.Logging.Level,
		Console: s.Logging.Console,
		File:    logx.FileConfig{Enabled: s.Logging.File.Enabled, Path: s.Logging.File.Path},
	})
	return nil
}

func (a *app) close() {
	if a.logSvc != nil {
		_ = a.logSvc.Close()
		a.logSvc = nil
	}
}
