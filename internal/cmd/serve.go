package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vibetree/vibetree/internal/app"
	"github.com/vibetree/vibetree/internal/config"
	"github.com/vibetree/vibetree/internal/logger"
)

var (
	servePort int
	serveDB   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the vibetree server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if servePort != 0 {
			cfg.Port = servePort
		}
		if serveDB != "" {
			cfg.DBPath = serveDB
		}

		logger.Configure(logger.LevelFromEnv(false), false)

		a, err := app.New(cfg)
		if err != nil {
			return err
		}

		errCh := make(chan error, 1)
		go func() { errCh <- a.Listen() }()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-sigCh:
			logger.Infof("received %s, shutting down", sig)
			return a.Shutdown()
		}
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "port to listen on (default from config)")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "path to the sqlite database (default from config)")
	rootCmd.AddCommand(serveCmd)
}
