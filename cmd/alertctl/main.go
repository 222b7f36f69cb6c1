package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mr1hm/go-emergency-alerts/internal/config"
	"github.com/mr1hm/go-emergency-alerts/internal/logging"
)

func main() {
	_ = godotenv.Load()

	var cfg *config.Config
	rootCmd := &cobra.Command{
		Use:   "alertctl",
		Short: "Operator tooling for the emergency alert service",
		Long: `Operator tooling for the emergency alert service.
	Reads the same environment (or .env file) as the server:
DB_DRIVER, DB_PATH, DB_DSN          // backend to write clients into
AUTH_SECRET, AUTH_ISSUER            // token signing
`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return err
			}
			logging.Setup(cfg.Logging.Level, cfg.Logging.File)
			return nil
		},
	}
	cfgFn := func() *config.Config { return cfg }

	rootCmd.AddCommand(tokenCMD(cfgFn), clientCMD(cfgFn))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
