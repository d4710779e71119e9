// Package main runs the interactive trade client.
package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"tradepost/internal/client"
	"tradepost/internal/config"
	"tradepost/internal/logging"
)

var (
	logger logrus.FieldLogger = logrus.StandardLogger()

	rootCmd = &cobra.Command{
		Use:          "tradepost [addr]",
		Short:        "Connects to a trade server and opens an interactive session.",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE:         run,
	}
)

func init() {
	flags := rootCmd.Flags()
	flags.String("env-file", ".env", "dotenv file loaded before reading the environment")
	flags.Duration("timeout", 0, "dial and request timeout (CLIENT_TIMEOUT)")
	flags.String("log-level", "", "log level (LOG_LEVEL)")
}

func run(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	envFile, _ := flags.GetString("env-file")
	if err := config.LoadDotEnv(envFile); err != nil {
		logger.WithError(err).Warn("failed to load env file")
	}
	cfg := config.Load()
	if len(args) == 1 {
		cfg.ServerAddr = args[0]
	}
	if flags.Changed("timeout") {
		cfg.ClientTimeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	} else if os.Getenv("LOG_LEVEL") == "" {
		// keep the console readable unless asked otherwise
		cfg.LogLevel = "warn"
	}
	if err := cfg.ValidateClient(); err != nil {
		return err
	}
	logging.SetLogger(cfg.LogLevel)

	proxy := client.NewProxy(client.NewConn(cfg.ServerAddr, cfg.ClientTimeout))
	session := client.NewSession(proxy, client.NewConsole(os.Stdin, os.Stdout))
	return session.Run(cmd.Context())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Fatal(errors.Wrap(err, "execute root command failed"))
	}
}
