package patch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autofixd/internal/fix"
	"github.com/fyrsmithlabs/autofixd/internal/gamecfg"
	"github.com/fyrsmithlabs/autofixd/internal/scene"
)

// Command subjects, relative to the configured prefix.
const (
	SubjectDocument  = "document"
	SubjectAsset     = "asset"
	SubjectCode      = "code"
	SubjectTransform = "transform"
	SubjectRebuild   = "rebuild"
)

// DefaultRebuildTimeout bounds a rebuild request when none is configured.
const DefaultRebuildTimeout = 2 * time.Minute

// DocumentCommand is published on <prefix>.document.
type DocumentCommand struct {
	Target   string           `json:"target"`
	Document gamecfg.Document `json:"document"`
}

// AssetCommand is published on <prefix>.asset.
type AssetCommand struct {
	Action  fix.Kind `json:"action"`
	AssetID string   `json:"assetId"`
	Path    string   `json:"path,omitempty"`
}

// CodeCommand is published on <prefix>.code.
type CodeCommand struct {
	TargetFile   string `json:"targetFile,omitempty"`
	TargetMethod string `json:"targetMethod,omitempty"`
	PatchBody    string `json:"patchBody"`
}

// RebuildReply is the expected reply to a <prefix>.rebuild request.
type RebuildReply struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Remote forwards fixes to the connected application as NATS commands.
type Remote struct {
	nc             *nats.Conn
	prefix         string
	rebuildTimeout time.Duration
	logger         *zap.Logger
}

var (
	_ Applier           = (*Remote)(nil)
	_ scene.Transformer = (*Remote)(nil)
)

// NewRemote creates a Remote publishing under prefix.
func NewRemote(nc *nats.Conn, prefix string, rebuildTimeout time.Duration, logger *zap.Logger) *Remote {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rebuildTimeout <= 0 {
		rebuildTimeout = DefaultRebuildTimeout
	}
	return &Remote{nc: nc, prefix: prefix, rebuildTimeout: rebuildTimeout, logger: logger}
}

// IsConnected reports whether the underlying connection is up.
func (r *Remote) IsConnected() bool {
	return r.nc != nil && r.nc.IsConnected()
}

func (r *Remote) subject(name string) string {
	if r.prefix == "" {
		return name
	}
	return r.prefix + "." + name
}

func (r *Remote) publish(name string, v any) error {
	if !r.IsConnected() {
		return ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s command: %w", name, err)
	}
	if err := r.nc.Publish(r.subject(name), data); err != nil {
		return fmt.Errorf("publish %s command: %w", name, err)
	}
	return nil
}

// ApplyDocumentPatch implements Applier.
func (r *Remote) ApplyDocumentPatch(_ context.Context, target string, doc gamecfg.Document) error {
	return r.publish(SubjectDocument, DocumentCommand{Target: target, Document: doc})
}

// ApplyAssetAction implements Applier.
func (r *Remote) ApplyAssetAction(_ context.Context, kind fix.Kind, assetID, path string) error {
	return r.publish(SubjectAsset, AssetCommand{Action: kind, AssetID: assetID, Path: path})
}

// ApplyCodePatch implements Applier.
func (r *Remote) ApplyCodePatch(_ context.Context, targetFile, targetMethod, patchBody string) error {
	return r.publish(SubjectCode, CodeCommand{TargetFile: targetFile, TargetMethod: targetMethod, PatchBody: patchBody})
}

// SetTransform implements scene.Transformer.
func (r *Remote) SetTransform(_ context.Context, nodeID string, prop scene.Property, value scene.Vec3) error {
	return r.publish(SubjectTransform, scene.Change{NodeID: nodeID, Property: prop, Value: value})
}

// TriggerRebuild sends a rebuild request and waits for the reply.
func (r *Remote) TriggerRebuild(ctx context.Context) (bool, error) {
	if !r.IsConnected() {
		return false, ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, r.rebuildTimeout)
	defer cancel()

	msg, err := r.nc.RequestWithContext(ctx, r.subject(SubjectRebuild), []byte(`{}`))
	if err != nil {
		return false, fmt.Errorf("request rebuild: %w", err)
	}

	var reply RebuildReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return false, fmt.Errorf("decode rebuild reply: %w", err)
	}
	if !reply.Success {
		r.logger.Warn("rebuild failed", zap.String("error", reply.Error))
	}
	return reply.Success, nil
}
