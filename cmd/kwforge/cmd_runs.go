package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"keywordforge/internal/stage"
)

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List stored runs or show one run's checkpoint",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sink, err := stage.NewFileSink(cfg.Stage.CheckpointDir)
		if err != nil {
			return err
		}

		if len(args) == 1 {
			res, err := sink.Load(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}

		ids, err := sink.List()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no runs stored")
			return nil
		}
		for _, id := range ids {
			res, err := sink.Load(id)
			if err != nil {
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  seeds=%d accepted=%d\n",
				id, res.StartedAt.Format("2006-01-02 15:04:05"), len(res.Seeds), len(res.Keywords))
		}
		return nil
	},
}
