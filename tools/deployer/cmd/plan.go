package cmd

import (
	"context"
	"strconv"

	"github.com/TheStatisticalMind/site-deployer/pkg/log"
	"github.com/TheStatisticalMind/site-deployer/tools/deployer/pkg/deployer"
	"github.com/pterm/pterm"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "List the files a deployment would upload",
	Long: `List the files a deployment would upload, in upload order,
without connecting to the target.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		ctx = log.ToCtx(ctx, log.FromCtx(ctx))

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		// Planning never records anything.
		cfg.History.DynamoDB.Enabled = false

		d, err := deployer.NewDeployer(ctx, cfg)
		if err != nil {
			return err
		}
		transfers, err := d.Plan(ctx)
		if err != nil {
			return err
		}

		rows := lo.Map(transfers, func(t deployer.Transfer, _ int) []string {
			return []string{t.Local, t.Remote, t.Type().String(), strconv.FormatInt(t.Size, 10)}
		})
		data := append(pterm.TableData{{"Local", "Remote", "Type", "Bytes"}}, rows...)
		err = pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Render()
		if err != nil {
			return err
		}

		total := lo.SumBy(transfers, func(t deployer.Transfer) int64 {
			return t.Size
		})
		pterm.Info.Printfln("%d files, %d bytes to %s", len(transfers), total, cfg.Target.Description())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(planCmd)
}
