package scene

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleScene() Snapshot {
	return Snapshot{Nodes: []Node{
		{ID: "hud", Name: "HUD_Score", Position: Vec3{X: 3, Y: -4, Z: 1}, Scale: One},
		{ID: "card1", Name: "Card_Knight", Position: Vec3{Y: 1}, Scale: Vec3{X: 0.05, Y: 1, Z: 1}},
		{ID: "card2", Name: "Card_Queen", Position: Vec3{Y: 1}, Scale: One},
		{ID: "rock", Name: "Rock", Position: Vec3{X: 2, Y: 140, Z: 3}, Scale: One},
		{ID: "far", Name: "Tree", Position: Vec3{X: 60}, Scale: One},
		{ID: "cam", Name: "Main Camera", Position: Vec3{X: 4, Y: 4, Z: 4}, Scale: One},
		{ID: "spin", Name: "Spinner", Rotation: Vec3{X: -90, Y: 720}, Scale: Vec3{X: 20, Y: 1, Z: 1}},
	}}
}

func TestAlignUI(t *testing.T) {
	changes := AlignUI(sampleScene())
	require.Len(t, changes, 1)
	assert.Equal(t, Change{NodeID: "hud", Property: PropPosition, Value: Vec3{X: 3, Y: UIRestY, Z: 1}}, changes[0])
}

func TestFixFloatingObjects(t *testing.T) {
	changes := FixFloatingObjects(sampleScene())
	require.Len(t, changes, 1)
	assert.Equal(t, "rock", changes[0].NodeID)
	assert.Equal(t, Vec3{X: 2, Y: 0, Z: 3}, changes[0].Value)
}

func TestFixCardAlignment(t *testing.T) {
	changes := FixCardAlignment(sampleScene())
	require.Len(t, changes, 1)
	assert.Equal(t, Change{NodeID: "card1", Property: PropScale, Value: One}, changes[0])
}

func TestRecenterCamera(t *testing.T) {
	changes := RecenterCamera(sampleScene())
	require.Len(t, changes, 1)
	assert.Equal(t, "cam", changes[0].NodeID)
	assert.Equal(t, CameraHome, changes[0].Value)

	assert.Nil(t, RecenterCamera(Snapshot{}))
}

func TestFixOffScreenObjects(t *testing.T) {
	changes := FixOffScreenObjects(sampleScene())
	ids := make([]string, 0, len(changes))
	for _, c := range changes {
		ids = append(ids, c.NodeID)
		assert.Equal(t, Vec3{}, c.Value)
	}
	assert.ElementsMatch(t, []string{"rock", "far"}, ids)
}

func TestNormalizeTransforms(t *testing.T) {
	changes := NormalizeTransforms(sampleScene())
	require.Len(t, changes, 2, "only the spinner is out of range")

	byKey := map[string]Vec3{}
	for _, c := range changes {
		byKey[c.NodeID+"/"+string(c.Property)] = c.Value
	}
	assert.Equal(t, Vec3{X: 270, Y: 0, Z: 0}, byKey["spin/rotation"])
	assert.Equal(t, One, byKey["spin/scale"])
}

type fakeTransformer struct {
	calls []Change
	fail  string
}

func (f *fakeTransformer) SetTransform(_ context.Context, id string, prop Property, v Vec3) error {
	if id == f.fail {
		return errors.New("node locked")
	}
	f.calls = append(f.calls, Change{NodeID: id, Property: prop, Value: v})
	return nil
}

func TestApply_ContinuesPastFailures(t *testing.T) {
	ft := &fakeTransformer{fail: "rock"}
	changes := FixOffScreenObjects(sampleScene())

	n, err := Apply(context.Background(), ft, changes)
	assert.Equal(t, 1, n)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rock")
	require.Len(t, ft.calls, 1)
	assert.Equal(t, "far", ft.calls[0].NodeID)
}

func TestSnapshot_Node(t *testing.T) {
	n, ok := sampleScene().Node("cam")
	require.True(t, ok)
	assert.Equal(t, "Main Camera", n.Name)

	_, ok = sampleScene().Node("nope")
	assert.False(t, ok)
}
