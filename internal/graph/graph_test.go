package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zoza1982/picoflow-sub000/internal/workflow"
	"github.com/zoza1982/picoflow-sub000/internal/xerrors"
)

func task(name string, deps ...string) *workflow.Task {
	t := &workflow.Task{Name: workflow.NameId(name), Kind: workflow.KindShell}
	for _, d := range deps {
		t.DependsOn = append(t.DependsOn, workflow.NameId(d))
	}
	return t
}

func TestBuildLinearChain(t *testing.T) {
	wf := &workflow.Workflow{Tasks: []*workflow.Task{
		task("a"), task("b", "a"), task("c", "b"),
	}}
	g, err := Build(wf)
	require.NoError(t, err)
	require.Len(t, g.Levels(), 3)
	require.Equal(t, workflow.NameId("a"), g.Levels()[0][0])
	require.Equal(t, workflow.NameId("b"), g.Levels()[1][0])
	require.Equal(t, workflow.NameId("c"), g.Levels()[2][0])
}

func TestBuildDiamond(t *testing.T) {
	wf := &workflow.Workflow{Tasks: []*workflow.Task{
		task("a"), task("b", "a"), task("c", "a"), task("d", "b", "c"),
	}}
	g, err := Build(wf)
	require.NoError(t, err)
	levels := g.Levels()
	require.Len(t, levels, 3)
	require.Len(t, levels[1], 2, "expected b,c in same level, got %v", levels[1])
}

func TestBuildCycleDetected(t *testing.T) {
	wf := &workflow.Workflow{Tasks: []*workflow.Task{
		task("a", "b"), task("b", "a"),
	}}
	_, err := Build(wf)
	require.Error(t, err)
	cd, ok := err.(*xerrors.CycleDetected)
	require.True(t, ok, "expected *xerrors.CycleDetected, got %T", err)
	require.Len(t, cd.Nodes, 2)
}
