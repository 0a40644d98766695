package cmd

import (
	"context"
	"fmt"

	pkgerrors "github.com/TheStatisticalMind/site-deployer/pkg/errors"
	"github.com/TheStatisticalMind/site-deployer/pkg/log"
	"github.com/TheStatisticalMind/site-deployer/pkg/storage"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var historyCmd = &cobra.Command{
	Use:   "history <deployment-id>",
	Short: "Show a recorded deployment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		ctx = log.ToCtx(ctx, log.FromCtx(ctx))

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.History.DynamoDB.Enabled {
			return pkgerrors.HistoryDisabledError
		}

		client, err := storage.NewDynamoDBClient(ctx, cfg.History.DynamoDB)
		if err != nil {
			return err
		}
		record, err := client.GetDeployment(ctx, args[0])
		if err != nil {
			return err
		}
		if record == nil {
			return eris.Errorf("deployment %s not found", args[0])
		}

		b, err := yaml.Marshal(record)
		if err != nil {
			return err
		}
		fmt.Print(string(b))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
