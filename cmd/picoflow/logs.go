package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zoza1982/picoflow-sub000/internal/store"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Retrieve captured stdout/stderr for the most recent execution of a workflow.",
	RunE: func(cmd *cobra.Command, args []string) error {
		workflowName, _ := cmd.Flags().GetString("workflow")
		if workflowName == "" {
			return fmt.Errorf("--workflow is required")
		}
		taskFilter, _ := cmd.Flags().GetString("task")

		st, _, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		history, err := st.History(store.HistoryFilter{WorkflowName: workflowName, Limit: 1})
		if err != nil {
			return err
		}
		if len(history) == 0 {
			fmt.Println("no executions recorded for this workflow")
			return nil
		}

		attempts, err := st.TaskAttempts(history[0].ID)
		if err != nil {
			return err
		}
		for _, a := range attempts {
			if taskFilter != "" && a.TaskName != taskFilter {
				continue
			}
			fmt.Printf("=== %s attempt=%d status=%s ===\n", a.TaskName, a.Attempt, a.Status)
			if a.Stdout != "" {
				fmt.Printf("--- stdout ---\n%s\n", a.Stdout)
			}
			if a.Stderr != "" {
				fmt.Printf("--- stderr ---\n%s\n", a.Stderr)
			}
			if a.ErrorMessage != "" {
				fmt.Printf("--- error ---\n%s\n", a.ErrorMessage)
			}
		}
		return nil
	},
}

func init() {
	logsCmd.Flags().String("workflow", "", "workflow name (required)")
	logsCmd.Flags().String("task", "", "filter to one task name")
}
