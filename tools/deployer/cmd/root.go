package cmd

import (
	"github.com/TheStatisticalMind/site-deployer/pkg/config"
	"github.com/TheStatisticalMind/site-deployer/pkg/log"
	"github.com/TheStatisticalMind/site-deployer/tools/deployer/pkg/deployer"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "deployer",
	Short: "Upload a pre-built static site to a remote host",
	Long: `Upload a pre-built static site to a remote host.

The deployer connects to the configured FTP, SFTP or S3 target,
changes into the remote root and uploads every configured file
and directory, mirroring directories recursively.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger, err := log.New(verbose)
		if err != nil {
			return eris.Wrap(err, "failed to create logger")
		}
		log.SetDefault(logger)
		return nil
	},
}

// Execute runs the command selected by the process arguments.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.deployer/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	rootCmd.PersistentFlags().String("dir", "", "local root of the built site (overrides localRoot)")
	err := viper.BindPFlag("localRoot", rootCmd.PersistentFlags().Lookup("dir"))
	if err != nil {
		panic(err)
	}
}

// loadConfig reads the config file plus DEPLOYER_ environment overrides and
// validates the result.
func loadConfig() (deployer.Config, error) {
	err := config.Configure(viper.GetViper(), cfgFile, deployer.SecretKeys...)
	if err != nil {
		return deployer.Config{}, err
	}
	return deployer.LoadConfig(viper.GetViper())
}
