package cmd

import (
	"fmt"
	"os"

	"github.com/behzadon/rulebook/internal/config"
	"github.com/behzadon/rulebook/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string
	cfg     *config.Config
	rootCmd = &cobra.Command{
		Use:   "rulebook",
		Short: "Poll driven group rulebook",
		Long: `Keeps a group chat's numbered rulebook in sync with the outcome of
the polls its members vote on. A closed poll is turned into an add, update
or remove of a single rule when an administrator asks for it.`,
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
}

func GetConfig() *config.Config {
	return cfg
}

func newZapLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewZap(cfg.Logging.Level, cfg.Server.Env)
}

func syncLogger(logger *zap.Logger) {
	// Sync returns EINVAL on terminals.
	_ = logger.Sync()
}
