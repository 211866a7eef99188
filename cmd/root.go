package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"voice-relay/pkg/config"
	"voice-relay/pkg/errreport"
	"voice-relay/pkg/logger"
	"voice-relay/pkg/system"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagConfig   string
	flagLogLevel string
	flagPretty   bool

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "voice-relay",
	Short: "Relay a guest's voice call to a realtime speech model",
	Long: `voice-relay connects a guest to a speech model through a host.

The server runs signaling and owns the speech service connection. The host
creates a room and relays the guest's microphone to the model, and the guest
hears the synthesized answer over the same call.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := system.LoadEnv(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Msg("Failed to load .env file")
		}

		var err error
		cfg, err = config.Load(flagConfig)
		if err != nil {
			return err
		}
		level := flagLogLevel
		if level == "" {
			level = cfg.LogLevel
		}
		logger.InitLogger(level, flagPretty)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagPretty, "pretty", true, "human readable log output")

	rootCmd.AddCommand(serverCmd, hostCmd, guestCmd, roomsCmd, discoverCmd)
}

// Execute runs the root command until it returns or the process is interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// newReporter logs every report as it arrives.
func newReporter() *errreport.Reporter {
	r := errreport.New(errreport.DefaultCapacity)
	r.OnReport(func(rep errreport.Report) {
		log.Warn().
			Str("kind", rep.Kind.String()).
			Str("context", rep.Context).
			Msg(rep.Message)
	})
	return r
}

// recentMessages formats the latest reports for the console.
func recentMessages(r *errreport.Reporter, n int) []string {
	reports := r.Recent(n)
	out := make([]string, 0, len(reports))
	for _, rep := range reports {
		out = append(out, fmt.Sprintf("%s %s: %s", rep.Time.Format("15:04:05"), rep.Kind, rep.Message))
	}
	return out
}
