// Package patch applies fixes to the outside world.
//
// The engine talks to an Applier with one entry point per Fix variant plus
// a rebuild trigger. DocStore persists configuration documents on disk,
// Remote forwards actions to the connected application over NATS, and
// Combined routes between the two.
package patch

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/autofixd/internal/fix"
	"github.com/fyrsmithlabs/autofixd/internal/gamecfg"
)

var (
	// ErrNotConnected is returned when the runtime transport is down.
	ErrNotConnected = errors.New("runtime not connected")

	// ErrInvalidTarget is returned for document targets outside the store root.
	ErrInvalidTarget = errors.New("invalid document target")

	// ErrUnsupportedFix is returned by Apply for fixes it cannot route.
	ErrUnsupportedFix = errors.New("unsupported fix")
)

// Applier applies fixes. Every method except TriggerRebuild is
// fire-and-forget from the engine's point of view: a nil error only means
// the request was accepted.
type Applier interface {
	ApplyDocumentPatch(ctx context.Context, target string, doc gamecfg.Document) error
	ApplyAssetAction(ctx context.Context, kind fix.Kind, assetID, path string) error
	ApplyCodePatch(ctx context.Context, targetFile, targetMethod, patchBody string) error
	// TriggerRebuild blocks until the rebuild finishes and reports whether
	// it succeeded.
	TriggerRebuild(ctx context.Context) (bool, error)
}

// DocumentLoader reads configuration documents.
type DocumentLoader interface {
	// LoadDocument returns the document at target. A missing document
	// yields the built-in default with a nil error; a malformed one yields
	// the default together with an error wrapping
	// gamecfg.ErrInvalidDocument.
	LoadDocument(ctx context.Context, target string) (gamecfg.Document, error)
}

// Apply routes f to the matching Applier entry point. Full project
// rebuilds are not routed here; callers run TriggerRebuild themselves so
// they can decide whether to wait.
func Apply(ctx context.Context, a Applier, f fix.Fix) error {
	switch v := f.(type) {
	case fix.RuleFix:
		return a.ApplyDocumentPatch(ctx, v.TargetFile, v.Document)
	case fix.AssetFix:
		if v.IsFullRebuild() {
			return fmt.Errorf("%w: project rebuild must use TriggerRebuild", ErrUnsupportedFix)
		}
		return a.ApplyAssetAction(ctx, v.FixKind, v.AssetID, v.Path)
	case fix.CodeFix:
		return a.ApplyCodePatch(ctx, v.TargetFile, v.TargetMethod, v.PatchBody)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedFix, f)
	}
}
