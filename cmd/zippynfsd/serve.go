package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mark-i-m/zippynfs/internal/rpcsvc"
	"github.com/mark-i-m/zippynfs/internal/store"
)

// Exit codes (spec §6.4 / SPEC_FULL.md §6.4).
const (
	exitClean           = 0
	exitDataDirUnusable = 1
	exitCounterCorrupt  = 2
)

func exitCodeFor(err error) int {
	var storeErr *store.Error
	if errors.As(err, &storeErr) && storeErr.Code == store.CodeCorrupt {
		return exitCounterCorrupt
	}
	return exitDataDirUnusable
}

var rootCmd = &cobra.Command{
	Use:   "zippynfsd",
	Short: "Run the ZippyNFS storage engine server",
	RunE:  runServe,
}

func init() {
	flags := rootCmd.Flags()
	flags.String("bind", "127.0.0.1:7923", "address to listen on")
	flags.String("data-dir", "", "data directory root (required)")
	flags.String("log-level", "info", "logrus level: debug, info, warn, error")
	flags.String("log-format", "text", "log output format: text or json")
	flags.Int64("max-pending-bytes-per-fid", 64<<20, "per-FID unstable-write buffer cap (bytes); 0 disables the cap")
	flags.String("config", "", "optional config file overlaying these flags")

	cobra.CheckErr(viper.BindPFlags(flags))
}

func runServe(cmd *cobra.Command, args []string) error {
	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return err
		}
	}

	log := logrus.New()
	switch viper.GetString("log-format") {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{})
	}
	level, err := logrus.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	dataDir := viper.GetString("data-dir")
	if dataDir == "" {
		return errors.New("serve: --data-dir is required")
	}

	engine, err := store.New(dataDir, store.WithMaxPendingBytes(viper.GetInt64("max-pending-bytes-per-fid")))
	if err != nil {
		return err
	}

	svc := rpcsvc.New(engine, log)
	server, err := rpcsvc.NewServer(svc, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bind := viper.GetString("bind")
	log.WithField("data-dir", dataDir).Info("zippynfsd starting")
	if err := server.Listen(ctx, bind); err != nil {
		return err
	}
	log.Info("zippynfsd shut down cleanly")
	return nil
}
