package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rjboer/netsdr/internal/config"
)

func newConfigCmd(c *cli) *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := c.cfg
			// Never echo secrets.
			if cfg.SSH.Password != "" {
				cfg.SSH.Password = "********"
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			if err := enc.Close(); err != nil {
				return err
			}
			if save {
				return config.Save(c.cfgPath, c.cfg)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "write the effective configuration back to the config file")
	return cmd
}
