package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cexll/aisdk-go/pkg/config"
)

func newConfigCmd(streams ioStreams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect project configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a config file and report every problem",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigFor(cmd, args)
			if err != nil {
				return err
			}
			if cfg.SourcePath == "" {
				_, err = fmt.Fprintln(streams.out, "no config file found; defaults are valid")
				return err
			}
			_, err = fmt.Fprintf(streams.out, "%s: ok (sha256 %s)\n", cfg.SourcePath, cfg.SourceHash[:12])
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show [path]",
		Short: "Print the effective configuration with defaults applied",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigFor(cmd, args)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(streams.out)
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	})
	return cmd
}

func loadConfigFor(cmd *cobra.Command, args []string) (*config.Config, error) {
	v, err := bindViper(cmd)
	if err != nil {
		return nil, err
	}
	path := v.GetString("config")
	if len(args) == 1 {
		path = args[0]
	}
	var opts []config.LoaderOption
	if path != "" {
		opts = append(opts, config.WithConfigPath(path))
	}
	loader, err := config.NewLoader(".", opts...)
	if err != nil {
		return nil, err
	}
	return loader.Load()
}
