package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Aggregate success/failure/duration statistics for a workflow.",
	RunE: func(cmd *cobra.Command, args []string) error {
		workflowName, _ := cmd.Flags().GetString("workflow")
		if workflowName == "" {
			return fmt.Errorf("--workflow is required")
		}

		st, _, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.Statistics(workflowName)
		if err != nil {
			return err
		}
		fmt.Printf("workflow=%s total=%d success=%d failed=%d success_rate=%.2f avg=%s min=%s max=%s\n",
			stats.WorkflowName, stats.Total, stats.Success, stats.Failed, stats.SuccessRate,
			stats.AvgDuration, stats.MinDuration, stats.MaxDuration)
		for name, ts := range stats.PerTask {
			fmt.Printf("  task=%s total=%d success=%d failed=%d avg=%s\n", name, ts.Total, ts.Success, ts.Failed, ts.AvgDuration)
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().String("workflow", "", "workflow name (required)")
}
