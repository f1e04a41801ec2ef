package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zoza1982/picoflow-sub000/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List executions, optionally filtered by workflow and status.",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		workflowName, _ := cmd.Flags().GetString("workflow")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		rows, err := st.History(store.HistoryFilter{
			WorkflowName: workflowName,
			Status:       store.ExecutionStatus(status),
			Limit:        limit,
		})
		if err != nil {
			return err
		}
		for _, r := range rows {
			fmt.Printf("%s  %s  %s  total=%d success=%d failed=%d\n",
				r.ID, r.WorkflowName, r.Status, r.TotalTasks, r.SuccessfulTasks, r.FailedTasks)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().String("workflow", "", "filter by workflow name")
	historyCmd.Flags().String("status", "", "filter by execution status")
	historyCmd.Flags().Int("limit", 50, "maximum rows to return")
}
