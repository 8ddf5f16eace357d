package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/qrcascade/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or generate configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [file]",
	Short: "Write a configuration file with every default value",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filename := config.ConfigFileName + ".yaml"
		if len(args) == 1 {
			filename = args[0]
		}
		if err := config.GenerateDefaultConfigFile(filename); err != nil {
			return fmt.Errorf("failed to write %s: %w", filename, err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", filename)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		used := GetConfigLoader().GetConfigFileUsed()
		if used == "" {
			used = "(none)"
		}
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "config file: %s\nsearch paths: %v\nenv prefix: %s_\n",
			used, config.GetConfigSearchPaths(), config.EnvPrefix)
		format, _ := cmd.Flags().GetString("format")
		return writeConfig(cmd.OutOrStdout(), cfg, format)
	},
}

// writeConfig renders cfg in the layout of a config file (yaml) or as JSON.
func writeConfig(w io.Writer, cfg *config.Config, format string) error {
	switch format {
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		return enc.Close()
	case outputFormatJSON:
		return writeJSONLine(w, cfg)
	default:
		return fmt.Errorf("unsupported format %q (want yaml or json)", format)
	}
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd)
	configShowCmd.Flags().String("format", "yaml", "Output format: yaml, json")
}
