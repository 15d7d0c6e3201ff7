// Package scene models the connected application's scene graph as seen by
// the engine and computes layout corrections for it.
//
// The correction functions are pure: each takes a Snapshot and returns the
// transform Changes it would make. Apply pushes changes through a
// Transformer, which is implemented by the runtime transport.
package scene

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Vec3 is a position, rotation or scale.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Length returns the Euclidean norm.
func (v Vec3) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// One is the identity scale.
var One = Vec3{X: 1, Y: 1, Z: 1}

// Node is one object in the scene.
type Node struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Position   Vec3     `json:"position"`
	Rotation   Vec3     `json:"rotation"`
	Scale      Vec3     `json:"scale"`
	Components []string `json:"components,omitempty"`
}

func (n Node) nameHas(subs ...string) bool {
	name := strings.ToLower(n.Name)
	for _, s := range subs {
		if strings.Contains(name, s) {
			return true
		}
	}
	return false
}

// IsCard reports whether the node is a card.
func (n Node) IsCard() bool { return n.nameHas("card") }

// IsUI reports whether the node is a HUD or UI element.
func (n Node) IsUI() bool { return n.nameHas("hud", "ui") }

// Snapshot is the scene at one point in time.
type Snapshot struct {
	Nodes     []Node    `json:"nodes"`
	Timestamp time.Time `json:"timestamp"`
}

// Node returns the node with the given ID.
func (s Snapshot) Node(id string) (Node, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Source provides the latest scene snapshot. A source with no scene yet
// returns an empty Snapshot.
type Source interface {
	Scene() Snapshot
}

// Static is a Source that always returns the same snapshot.
type Static Snapshot

// Scene implements Source.
func (s Static) Scene() Snapshot { return Snapshot(s) }

// Property names a transform component.
type Property string

const (
	PropPosition Property = "position"
	PropRotation Property = "rotation"
	PropScale    Property = "scale"
)

// Change sets one transform property of one node.
type Change struct {
	NodeID   string   `json:"nodeId"`
	Property Property `json:"property"`
	Value    Vec3     `json:"value"`
}

// Transformer applies transform changes to the live scene.
type Transformer interface {
	SetTransform(ctx context.Context, nodeID string, prop Property, value Vec3) error
}

// Apply sends every change through t and returns how many succeeded. All
// changes are attempted; failures are joined into the returned error.
func Apply(ctx context.Context, t Transformer, changes []Change) (int, error) {
	var (
		applied int
		errs    []error
	)
	for _, c := range changes {
		if err := t.SetTransform(ctx, c.NodeID, c.Property, c.Value); err != nil {
			errs = append(errs, fmt.Errorf("set %s of %s: %w", c.Property, c.NodeID, err))
			continue
		}
		applied++
	}
	return applied, errors.Join(errs...)
}
