// Package fix defines the concrete changes the engine can apply. A Fix is
// computed, then applied or discarded; it is never persisted.
package fix

import (
	"github.com/fyrsmithlabs/autofixd/internal/gamecfg"
)

// Kind names the variant-specific sort of change. Fix outcomes are recorded
// in memory under this name.
type Kind string

// RuleFix kinds.
const (
	KindConfig    Kind = "config"
	KindRule      Kind = "rule"
	KindThreshold Kind = "threshold"
)

// AssetFix kinds.
const (
	KindRebuild Kind = "rebuild"
	KindUpdate  Kind = "update"
	KindRefresh Kind = "refresh"
)

// CodeFix kinds.
const (
	KindAddGuard     Kind = "addGuard"
	KindFixNullCheck Kind = "fixNullCheck"
	KindPatchMethod  Kind = "patchMethod"
)

// ProjectAssetID addresses the whole project. A rebuild of it is a full
// rebuild rather than a single asset action.
const ProjectAssetID = "project"

// Fix is one of RuleFix, AssetFix or CodeFix.
type Fix interface {
	Kind() Kind
	isFix()
}

// RuleFix replaces a configuration resource with a proposed document.
type RuleFix struct {
	TargetFile string
	Document   gamecfg.Document
	FixKind    Kind
}

// AssetFix revalidates a single asset or, for ProjectAssetID, the project.
type AssetFix struct {
	FixKind Kind
	AssetID string
	Path    string
}

// IsFullRebuild reports whether the fix asks for a project rebuild.
func (f AssetFix) IsFullRebuild() bool {
	return f.FixKind == KindRebuild && f.AssetID == ProjectAssetID
}

// CodeFix inserts or replaces code in one method.
type CodeFix struct {
	FixKind      Kind
	TargetMethod string
	TargetFile   string
	PatchBody    string
}

func (f RuleFix) Kind() Kind  { return f.FixKind }
func (f AssetFix) Kind() Kind { return f.FixKind }
func (f CodeFix) Kind() Kind  { return f.FixKind }

func (RuleFix) isFix()  {}
func (AssetFix) isFix() {}
func (CodeFix) isFix()  {}
