// -- cmd/root.go --
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/grantflow/internal/config"
	"github.com/xkilldash9x/grantflow/internal/observability"
)

// NewRootCommand builds the base command with every subcommand attached. A
// fresh instance per invocation keeps flag state from leaking between runs.
func NewRootCommand() *cobra.Command {
	var cfgFile string
	cfg := config.Default()

	rootCmd := &cobra.Command{
		Use:   "grantflow",
		Short: "Grantflow delegates authorization grants to a trust provider.",
		Long: `Grantflow drives the request/response grant protocol against a trust
provider: it submits grant requests from an initiating page, through a popup
or a full-page redirect, and correlates the asynchronous response.`,
		// Version is dynamically set at build time. See cmd/version.go.
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Runs before any command, setting up config and logging.
			loaded, err := config.Load(cfgFile)
			if err != nil {
				// Fall back to a default logger so the error is visible.
				observability.InitializeLogger(config.Default().Logger)
				return err
			}
			if err := loaded.Validate(); err != nil {
				observability.InitializeLogger(config.Default().Logger)
				return err
			}
			cfg = loaded

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Starting grantflow", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newGrantCommand(&cfg))
	rootCmd.AddCommand(newExtractCommand(&cfg))
	return rootCmd
}

// Execute runs the root command under ctx and logs any failure.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return err
	}
	return nil
}
