package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

// rootFlags are shared by every subcommand
type rootFlags struct {
	configPath string
	url        string
	params     []string
	topics     []string
	heartbeat  time.Duration
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "phxcat: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "phxcat",
		Short: "Talk to a Phoenix Channels socket from the terminal",
		Long: `phxcat connects to a Phoenix socket endpoint, joins topics and prints
every envelope the server sends. It can also push a single event, or run a
local endpoint that answers joins and heartbeats.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags.bind(rootCmd)

	rootCmd.AddCommand(
		listenCmd(flags),
		sendCmd(flags),
		serveCmd(flags),
		versionCmd(),
	)

	return rootCmd
}

// bind registers the shared flags on cmd
func (f *rootFlags) bind(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "config file (.toml, .yaml)")
	pf.StringVar(&f.url, "url", "", "socket base URL, without /websocket")
	pf.StringArrayVarP(&f.params, "param", "p", nil, "connect param as key=value (repeatable, order kept)")
	pf.StringArrayVarP(&f.topics, "topic", "t", nil, "topic to join (repeatable)")
	pf.DurationVar(&f.heartbeat, "heartbeat", 0, "heartbeat interval")
	pf.StringVar(&f.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
}

// resolve loads the config file and applies flags the user set explicitly
func (f *rootFlags) resolve(cmd *cobra.Command) (config, error) {
	cfg, err := loadConfig(f.configPath)
	if err != nil {
		return config{}, err
	}

	changed := cmd.Flags().Changed
	if changed("url") {
		cfg.URL = f.url
	}
	if changed("param") {
		params, err := parseParams(f.params)
		if err != nil {
			return config{}, err
		}
		cfg.Params = params
	}
	if changed("topic") {
		cfg.Topics = normalizeTopics(f.topics)
	}
	if changed("heartbeat") {
		if f.heartbeat <= 0 {
			return config{}, fmt.Errorf("heartbeat must be positive, got %s", f.heartbeat)
		}
		cfg.HeartbeatInterval = f.heartbeat
	}
	if changed("log-level") {
		lvl, err := zerolog.ParseLevel(f.logLevel)
		if err != nil {
			return config{}, fmt.Errorf("parse log-level: %w", err)
		}
		cfg.LogLevel = lvl
	}
	if os.Getenv("PHX_DEBUG") != "" && cfg.LogLevel > zerolog.DebugLevel {
		cfg.LogLevel = zerolog.DebugLevel
	}
	return cfg, nil
}

// initLogger writes human readable logs to stderr
func initLogger(level zerolog.Level) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).Level(level).With().Timestamp().Str("app", "phxcat").Logger()
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "phxcat %s (%s)\n", version, commit)
		},
	}
}
