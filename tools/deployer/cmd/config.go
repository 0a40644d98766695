package cmd

import (
	"github.com/TheStatisticalMind/site-deployer/pkg/config"
	"github.com/TheStatisticalMind/site-deployer/tools/deployer/pkg/deployer"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var exampleDir string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate the config file",
	Long: `Validate the config file, including environment overrides.

Exactly one target must be enabled and every remote path must stay
under the remote root.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := loadConfig()
		if err != nil {
			return err
		}
		pterm.Success.Println("Validation passed")
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write an example config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := exampleDir
		if dir == "" {
			var err error
			dir, err = config.DefaultDir()
			if err != nil {
				return err
			}
		}
		_, err := deployer.CreateExample(dir)
		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().StringVarP(&exampleDir, "output", "o", "", "directory to write config.example.yaml to (default is $HOME/.deployer)")
}
