package main

import (
	"github.com/spf13/cobra"

	"github.com/haukened/vanish/internal/config"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "vanish",
		Short:         "One-time file sharing with expiring links",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file (env "+config.EnvConfigFile+")")
	cmd.AddCommand(newServeCmd(opts), newSweepCmd(opts), newRevokeCmd(opts))
	return cmd
}

// load resolves configuration with the --config flag taking precedence
// over VANISH_CONFIG.
func (o *rootOptions) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadFile(o.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, exitWith(2, "configuration: %w", err)
	}
	return cfg, nil
}
