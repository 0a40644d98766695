package cmd

import (
	"context"
	"time"

	"github.com/TheStatisticalMind/site-deployer/pkg/log"
	"github.com/TheStatisticalMind/site-deployer/tools/deployer/pkg/deployer"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var askPassword bool

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Upload the site to the configured target",
	Long: `Upload the site to the configured target.

Every entry of the uploads list is copied from under localRoot to
under the remote root. The first error aborts the deployment; files
uploaded before it stay on the remote host.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		ctx = log.ToCtx(ctx, log.FromCtx(ctx))

		stop := startTelemetry(ctx)
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		err = resolvePassword(&cfg, askPassword)
		if err != nil {
			return err
		}

		d, err := deployer.NewDeployer(ctx, cfg, deployer.WithProgress(func(t deployer.Transfer) {
			pterm.Success.Printfln("Uploaded %s", t.Remote)
		}))
		if err != nil {
			return err
		}

		pterm.Info.Printfln("Deploying %s to %s", cfg.LocalRoot, cfg.Target.Description())
		report, err := d.Deploy(ctx)
		if err != nil {
			pterm.Warning.Printfln("Deployment %s stopped after %d files", report.DeploymentID, len(report.Files))
			return err
		}
		pterm.Success.Printfln("Deployment %s uploaded %d files (%d bytes) in %s",
			report.DeploymentID, len(report.Files), report.BytesUploaded(), report.Duration().Round(time.Millisecond))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deployCmd)
	deployCmd.Flags().BoolVar(&askPassword, "ask-password", false, "prompt for the target password")
}
