package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/IvanBrykalov/refcache/config"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect pipeline configuration files",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "validate <file>...",
			Short: "Parse and validate configuration files",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				for _, path := range args {
					if _, err := config.Load(path); err != nil {
						return err
					}
					fmt.Fprintf(c.OutOrStdout(), "%s: ok\n", path)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "print <file>",
			Short: "Print a configuration file with defaults applied",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				cfg, err := config.Load(args[0])
				if err != nil {
					return err
				}
				out, err := cfg.Marshal()
				if err != nil {
					return err
				}
				_, err = c.OutOrStdout().Write(out)
				return err
			},
		},
	)
	return cmd
}
