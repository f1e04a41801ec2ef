package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zoza1982/picoflow-sub000/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summary of the most recent executions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		workflowName, _ := cmd.Flags().GetString("workflow")
		history, err := st.History(store.HistoryFilter{WorkflowName: workflowName, Limit: 10})
		if err != nil {
			return err
		}
		if len(history) == 0 {
			fmt.Println("no executions recorded")
			return nil
		}
		for _, h := range history {
			fmt.Printf("%s  %-10s  %-20s  %d/%d/%d (success/failed/total)\n",
				h.StartedAt.Format("2006-01-02T15:04:05"), h.Status, h.WorkflowName,
				h.SuccessfulTasks, h.FailedTasks, h.TotalTasks)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().String("workflow", "", "filter by workflow name")
}
