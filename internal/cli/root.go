// Package cli implements the surge-qx command tree.
package cli

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/xxxbrian/surge-qx/internal/config"
	"github.com/xxxbrian/surge-qx/internal/logging"
)

// Build information, set via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type rootOptions struct {
	verbosity  int
	configPath string
	cfg        *config.Config
}

// NewRootCmd builds the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "surge-qx",
		Short: "Convert Surge rule lists to QuantumultX filters",
		Long: `surge-qx converts Surge rule lists (DOMAIN, DOMAIN-SUFFIX, IP-CIDR, ...)
and domain sets into QuantumultX filter lists, either one file at a time or
as an HTTP service that fetches remote lists on demand.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			logging.Setup(opts.verbosity, logging.FileConfig{
				Path:       cfg.Log.File,
				MaxSize:    cfg.Log.MaxSize,
				MaxBackups: cfg.Log.MaxBackups,
				MaxAge:     cfg.Log.MaxAge,
				Compress:   cfg.Log.Compress,
			})
			log.Debug().Str("command", cmd.Name()).Msg("Command started")
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().CountVarP(&opts.verbosity, "verbose", "v", "Increase verbosity (-v INFO, -vv DEBUG, -vvv TRACE)")
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML config file")

	cmd.AddCommand(
		newConvertCmd(opts),
		newServeCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "surge-qx version %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}
