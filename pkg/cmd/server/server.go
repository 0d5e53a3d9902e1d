package server

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/TBoris/gorynych/log"
	"github.com/TBoris/gorynych/pkg/config"
)

func NewServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "starts backend services",
	}
	cmd.AddCommand(NewTrackCmd())
	cmd.AddCommand(NewReceiverCmd())
	return cmd
}

func parseLogLevel(l string, defaultVal log.Level) log.Level {
	level, err := log.ParseLevel(l)
	if err != nil {
		return defaultVal
	}
	return level
}

func setupLogger() *log.Logger {
	var logger *log.Logger
	switch config.LogFormat {
	case "json":
		if config.LogFilter != "" {
			filtered, err := log.NewWithFilters(
				os.Stderr,
				parseLogLevel(config.LogLevel, log.InfoLevel),
				config.LogFilter,
				log.WithCaller(true))
			if err == nil {
				logger = filtered
				break
			}
			log.Warn("invalid log filter", log.ErrorField(err))
		}
		logger = log.New(
			os.Stderr,
			parseLogLevel(config.LogLevel, log.InfoLevel),
			log.WithCaller(true))
	default:
		logger = log.DevLogger(
			os.Stderr,
			parseLogLevel(config.LogLevel, log.DebugLevel),
			log.WithCaller(true))
	}
	log.ResetDefault(logger)
	return logger
}
