package macro

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/autofixd/internal/evolution"
	"github.com/fyrsmithlabs/autofixd/internal/gamecfg"
	"github.com/fyrsmithlabs/autofixd/internal/memory"
	"github.com/fyrsmithlabs/autofixd/internal/patch/patchtest"
	"github.com/fyrsmithlabs/autofixd/internal/scene"
)

var brokenScene = scene.Snapshot{Nodes: []scene.Node{
	{ID: "hud", Name: "HUD", Position: scene.Vec3{Y: -5}, Scale: scene.One},
	{ID: "rock", Name: "Rock", Position: scene.Vec3{X: 1, Y: 250, Z: 2}, Scale: scene.One},
	{ID: "card", Name: "Card_01", Scale: scene.Vec3{X: 0.01, Y: 1, Z: 1}},
	{ID: "cam", Name: "Main Camera", Position: scene.Vec3{X: 3, Y: 3, Z: 3}, Scale: scene.One},
	{ID: "lost", Name: "Tree", Position: scene.Vec3{X: 80}, Scale: scene.One},
}}

type fixture struct {
	mem    *memory.Store
	rec    *patchtest.Recorder
	runner *Runner
}

func newFixture(t *testing.T, snap scene.Snapshot) fixture {
	t.Helper()
	mem := memory.New()
	rec := patchtest.New()
	ev, err := evolution.NewEvolver(mem, rec, rec, "", nil)
	require.NoError(t, err)
	r, err := NewRunner(Deps{
		Memory:      mem,
		Scene:       scene.Static(snap),
		Transformer: rec,
		Docs:        rec,
		Applier:     rec,
		Evolver:     ev,
	})
	require.NoError(t, err)
	return fixture{mem: mem, rec: rec, runner: r}
}

func TestRun_Unknown(t *testing.T) {
	f := newFixture(t, scene.Snapshot{})
	_, err := f.runner.Run(context.Background(), "launchRockets")
	assert.ErrorIs(t, err, ErrUnknownMacro)
}

func TestRun_EveryNameIsRegistered(t *testing.T) {
	f := newFixture(t, scene.Snapshot{})
	for _, name := range Names {
		_, err := f.runner.Run(context.Background(), name)
		assert.NoError(t, err, name)
		got, ok := Parse(string(name))
		assert.True(t, ok)
		assert.Equal(t, name, got)
	}
}

func TestRun_SceneMacros(t *testing.T) {
	tests := []struct {
		name    Name
		actions []string
		changed []string
	}{
		{AutofixUI, []string{"alignUI"}, []string{"hud"}},
		{FixScene, []string{"fixFloatingObjects", "fixCardAlignment", "fixOffScreenObjects"}, []string{"rock", "card", "rock", "lost"}},
		{RecenterView, []string{"recenterCamera"}, []string{"cam"}},
		{RepairBrokenUI, []string{"alignUI", "fixOffScreenObjects"}, []string{"hud", "rock", "lost"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.name), func(t *testing.T) {
			f := newFixture(t, brokenScene)
			res, err := f.runner.Run(context.Background(), tt.name)
			require.NoError(t, err)
			assert.True(t, res.Success)
			assert.Equal(t, tt.actions, res.Actions)
			assert.Empty(t, res.Errors)

			var ids []string
			for _, c := range f.rec.Transforms {
				ids = append(ids, c.NodeID)
			}
			assert.Equal(t, tt.changed, ids)
		})
	}
}

func TestRun_TransformFailureReported(t *testing.T) {
	f := newFixture(t, brokenScene)
	f.rec.Err = errors.New("runtime gone")

	res, err := f.runner.Run(context.Background(), AutofixUI)
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "runtime gone")

	last := f.mem.RecentHistory(1)
	require.Len(t, last, 1)
	assert.Equal(t, memory.EntryMacro, last[0].Type)
	assert.Equal(t, string(AutofixUI), last[0].Action)
	assert.False(t, last[0].Success)
}

func TestRun_RebalanceRules(t *testing.T) {
	f := newFixture(t, scene.Snapshot{})

	res, err := f.runner.Run(context.Background(), RebalanceRules)
	require.NoError(t, err)
	assert.False(t, res.Success, "nothing to evolve")

	f.mem.SetFlag(evolution.PatternTooManyTies, true, 0.8)
	res, err = f.runner.Run(context.Background(), RebalanceRules)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{string(evolution.KindLowerThreshold)}, res.Actions)
}

func TestRun_HealScoreLogic(t *testing.T) {
	f := newFixture(t, scene.Snapshot{})
	f.rec.Documents[gamecfg.DefaultPath] = gamecfg.Document{
		"captureRules": map[string]any{"threshold": 2.0},
	}

	res, err := f.runner.Run(context.Background(), HealScoreLogic)
	require.NoError(t, err)
	assert.True(t, res.Success)

	doc, ok := f.rec.Document(gamecfg.DefaultPath)
	require.True(t, ok)
	rules, ok := doc.Section("scoreRules")
	require.True(t, ok)
	assert.Equal(t, 10.0, rules["baseScore"])
	assert.Equal(t, 2.0, doc.CaptureThreshold())

	docs, _, _, _ := f.rec.Counts()
	_, err = f.runner.Run(context.Background(), HealScoreLogic)
	require.NoError(t, err)
	after, _, _, _ := f.rec.Counts()
	assert.Equal(t, docs, after, "healthy rules are left alone")
}

func TestRun_Markers(t *testing.T) {
	f := newFixture(t, scene.Snapshot{})
	_, err := f.runner.Run(context.Background(), FixAnimationTimings)
	require.NoError(t, err)
	_, err = f.runner.Run(context.Background(), WrapMissingColliders)
	require.NoError(t, err)
	assert.True(t, f.mem.Flag(PatternAnimationTimingFixed))
	assert.True(t, f.mem.Flag(PatternCollidersAdded))
}

func TestRun_FullAutoRepair(t *testing.T) {
	f := newFixture(t, brokenScene)
	f.mem.SetFlag(evolution.PatternCardOverpower, true, 0.7)

	res, err := f.runner.Run(context.Background(), FullAutoRepair)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Actions, "alignUI")
	assert.Contains(t, res.Actions, "fixFloatingObjects")
	assert.Contains(t, res.Actions, string(evolution.KindRebalanceFactor))
	assert.Contains(t, res.Actions, "healScoreLogic")

	f.rec.Err = errors.New("boom")
	res, err = f.runner.Run(context.Background(), FullAutoRepair)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Errors)
}

func TestNewRunner_Validation(t *testing.T) {
	_, err := NewRunner(Deps{})
	assert.Error(t, err)
}
