package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zoza1982/picoflow-sub000/internal/graph"
	"github.com/zoza1982/picoflow-sub000/internal/workflow"
)

var validateCmd = &cobra.Command{
	Use:   "validate <workflow_file>",
	Short: "Parse and check a workflow file's graph without executing it.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		wf, err := workflow.Parse(src)
		if err != nil {
			return err
		}
		g, err := graph.Build(wf)
		if err != nil {
			return err
		}
		fmt.Printf("workflow %q is valid: %d tasks, %d levels\n", wf.Name, len(wf.Tasks), len(g.Levels()))
		return nil
	},
}
