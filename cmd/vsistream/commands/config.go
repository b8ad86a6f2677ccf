package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vsi-examples/vsistream/cmd/vsistream/internal/config"
	"github.com/vsi-examples/vsistream/pkg/cli"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
	Long: `Manage config.yaml in the configuration directory.

Examples:
  vsistream config init
  vsistream config view --format json
  vsistream config path`,
}

var configForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		if cfg.Exists() && !configForce {
			return fmt.Errorf("%s already exists; use --force to overwrite", cfg.Paths().ConfigFile())
		}
		def := config.Default()
		def.Dir = cfg.Dir
		if err := def.Save(); err != nil {
			return err
		}
		globalConfig = def
		cli.PrintSuccess(os.Stdout, "Wrote %s", def.Paths().ConfigFile())
		return nil
	},
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		return printResult(cfg)
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the configuration paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		p := cfg.Paths()
		fmt.Printf("config: %s\n", p.ConfigFile())
		fmt.Printf("runs:   %s\n", p.RunsDir())
		fmt.Printf("output: %s\n", p.OutputDir())
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd, configViewCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}
