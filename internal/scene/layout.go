package scene

import "math"

// Layout limits.
const (
	// FloatLimit bounds |y| for any object.
	FloatLimit = 100.0
	// OffScreenRadius bounds the distance of any object from the origin.
	OffScreenRadius = 50.0
	// MinCardScale is the smallest sane card scale on any axis.
	MinCardScale = 0.1
	// MaxScale is the largest sane scale on any axis.
	MaxScale = 10.0
	// MinScale is the smallest sane scale on any axis for non-card nodes.
	MinScale = 0.01
	// UIRestY is where misplaced UI elements are moved.
	UIRestY = 20.0
)

// CameraHome is where RecenterCamera puts the camera.
var CameraHome = Vec3{X: 0, Y: 5, Z: -10}

// OutOfBounds reports whether the node sits outside the vertical envelope.
func OutOfBounds(n Node) bool {
	return math.Abs(n.Position.Y) > FloatLimit
}

// AlignUI lifts HUD, UI and canvas nodes that sit below the screen.
func AlignUI(s Snapshot) []Change {
	var out []Change
	for _, n := range s.Nodes {
		if n.nameHas("hud", "ui", "canvas") && n.Position.Y < 0 {
			out = append(out, Change{
				NodeID:   n.ID,
				Property: PropPosition,
				Value:    Vec3{X: n.Position.X, Y: UIRestY, Z: n.Position.Z},
			})
		}
	}
	return out
}

// FixFloatingObjects grounds nodes outside the vertical envelope.
func FixFloatingObjects(s Snapshot) []Change {
	var out []Change
	for _, n := range s.Nodes {
		if OutOfBounds(n) {
			out = append(out, Change{
				NodeID:   n.ID,
				Property: PropPosition,
				Value:    Vec3{X: n.Position.X, Y: 0, Z: n.Position.Z},
			})
		}
	}
	return out
}

// FixCardAlignment resets card scales outside [MinCardScale, MaxScale].
func FixCardAlignment(s Snapshot) []Change {
	var out []Change
	for _, n := range s.Nodes {
		if !n.IsCard() {
			continue
		}
		if outside(n.Scale, MinCardScale, MaxScale) {
			out = append(out, Change{NodeID: n.ID, Property: PropScale, Value: One})
		}
	}
	return out
}

func outside(v Vec3, lo, hi float64) bool {
	for _, c := range []float64{v.X, v.Y, v.Z} {
		if c < lo || c > hi {
			return true
		}
	}
	return false
}

// RecenterCamera moves the first camera node to CameraHome.
func RecenterCamera(s Snapshot) []Change {
	for _, n := range s.Nodes {
		if n.nameHas("camera", "main") {
			return []Change{{NodeID: n.ID, Property: PropPosition, Value: CameraHome}}
		}
	}
	return nil
}

// FixOffScreenObjects moves nodes farther than OffScreenRadius back to the
// origin.
func FixOffScreenObjects(s Snapshot) []Change {
	var out []Change
	for _, n := range s.Nodes {
		if n.Position.Length() > OffScreenRadius {
			out = append(out, Change{NodeID: n.ID, Property: PropPosition, Value: Vec3{}})
		}
	}
	return out
}

// NormalizeTransforms wraps rotations into [0, 360) and resets scale axes
// outside [MinScale, MaxScale] to 1.
func NormalizeTransforms(s Snapshot) []Change {
	var out []Change
	for _, n := range s.Nodes {
		rot, rotChanged := normalizeRotation(n.Rotation)
		scale, scaleChanged := normalizeScale(n.Scale)
		if !rotChanged && !scaleChanged {
			continue
		}
		out = append(out,
			Change{NodeID: n.ID, Property: PropRotation, Value: rot},
			Change{NodeID: n.ID, Property: PropScale, Value: scale},
		)
	}
	return out
}

func normalizeRotation(v Vec3) (Vec3, bool) {
	changed := false
	wrap := func(a float64) float64 {
		if a >= 0 && a < 360 {
			return a
		}
		changed = true
		a = math.Mod(a, 360)
		if a < 0 {
			a += 360
		}
		return a
	}
	return Vec3{X: wrap(v.X), Y: wrap(v.Y), Z: wrap(v.Z)}, changed
}

func normalizeScale(v Vec3) (Vec3, bool) {
	changed := false
	fix := func(c float64) float64 {
		if c < MinScale || c > MaxScale {
			changed = true
			return 1
		}
		return c
	}
	return Vec3{X: fix(v.X), Y: fix(v.Y), Z: fix(v.Z)}, changed
}
