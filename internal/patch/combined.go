package patch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autofixd/internal/fix"
	"github.com/fyrsmithlabs/autofixd/internal/gamecfg"
)

// Combined writes documents locally and forwards everything else to a
// runtime Applier. Document writes are also announced to the runtime so it
// can reload them; that notification is best effort.
type Combined struct {
	Docs    *DocStore
	Runtime Applier
	Logger  *zap.Logger
}

var (
	_ Applier        = (*Combined)(nil)
	_ DocumentLoader = (*Combined)(nil)
)

func (c *Combined) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// LoadDocument implements DocumentLoader.
func (c *Combined) LoadDocument(ctx context.Context, target string) (gamecfg.Document, error) {
	return c.Docs.LoadDocument(ctx, target)
}

// ApplyDocumentPatch implements Applier. The runtime replaces whole
// documents, so it is sent the merged result rather than the patch.
func (c *Combined) ApplyDocumentPatch(ctx context.Context, target string, doc gamecfg.Document) error {
	merged, err := c.Docs.PatchDocument(ctx, target, doc)
	if err != nil {
		return err
	}
	if c.Runtime == nil {
		return nil
	}
	if err := c.Runtime.ApplyDocumentPatch(ctx, target, merged); err != nil && !errors.Is(err, ErrNotConnected) {
		c.logger().Warn("runtime reload notification failed",
			zap.String("target", target),
			zap.Error(err))
	}
	return nil
}

// ApplyAssetAction implements Applier.
func (c *Combined) ApplyAssetAction(ctx context.Context, kind fix.Kind, assetID, path string) error {
	if c.Runtime == nil {
		return fmt.Errorf("asset %s: %w", assetID, ErrNotConnected)
	}
	return c.Runtime.ApplyAssetAction(ctx, kind, assetID, path)
}

// ApplyCodePatch implements Applier.
func (c *Combined) ApplyCodePatch(ctx context.Context, targetFile, targetMethod, patchBody string) error {
	if c.Runtime == nil {
		return fmt.Errorf("code patch: %w", ErrNotConnected)
	}
	return c.Runtime.ApplyCodePatch(ctx, targetFile, targetMethod, patchBody)
}

// TriggerRebuild implements Applier.
func (c *Combined) TriggerRebuild(ctx context.Context) (bool, error) {
	if c.Runtime == nil {
		return false, ErrNotConnected
	}
	return c.Runtime.TriggerRebuild(ctx)
}
