package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "AISDK"

func newRootCmd(streams ioStreams) *cobra.Command {
	root := &cobra.Command{
		Use:           "aisdk",
		Short:         "Multi-step text generation with tool calling",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "config file path (default: search for aisdk.yaml upward)")
	flags.String("provider", "", "provider override: openai, anthropic or gemini")
	flags.String("model", "", "model id override")
	flags.String("log-level", "", "log level override")
	flags.String("log-format", "", "log format override: json, console or auto")

	root.AddCommand(newGenerateCmd(streams))
	root.AddCommand(newServeCmd(streams))
	root.AddCommand(newConfigCmd(streams))
	return root
}

// bindViper layers AISDK_* environment variables under the command flags.
func bindViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	return v, nil
}
