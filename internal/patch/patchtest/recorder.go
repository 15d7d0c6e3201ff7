// Package patchtest provides an in-memory Applier for tests.
package patchtest

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/autofixd/internal/fix"
	"github.com/fyrsmithlabs/autofixd/internal/gamecfg"
	"github.com/fyrsmithlabs/autofixd/internal/scene"
)

// DocumentPatch records one ApplyDocumentPatch call.
type DocumentPatch struct {
	Target   string
	Document gamecfg.Document
}

// AssetAction records one ApplyAssetAction call.
type AssetAction struct {
	Kind    fix.Kind
	AssetID string
	Path    string
}

// CodePatch records one ApplyCodePatch call.
type CodePatch struct {
	TargetFile   string
	TargetMethod string
	PatchBody    string
}

// Recorder records every call and keeps documents in memory. Set the
// exported error fields to make calls fail.
type Recorder struct {
	mu sync.Mutex

	Documents  map[string]gamecfg.Document
	DocPatches []DocumentPatch
	Assets     []AssetAction
	Code       []CodePatch
	Transforms []scene.Change
	Rebuilds   int

	RebuildResult bool
	Err           error
	RebuildErr    error
}

// New returns a Recorder whose rebuilds succeed.
func New() *Recorder {
	return &Recorder{Documents: make(map[string]gamecfg.Document), RebuildResult: true}
}

// LoadDocument returns the stored document or the default.
func (r *Recorder) LoadDocument(_ context.Context, target string) (gamecfg.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if doc, ok := r.Documents[target]; ok {
		return doc.Clone(), nil
	}
	return gamecfg.Default(), nil
}

func (r *Recorder) ApplyDocumentPatch(_ context.Context, target string, doc gamecfg.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.DocPatches = append(r.DocPatches, DocumentPatch{Target: target, Document: doc.Clone()})
	base, ok := r.Documents[target]
	if !ok {
		base = gamecfg.Default()
	}
	if r.Documents == nil {
		r.Documents = make(map[string]gamecfg.Document)
	}
	r.Documents[target] = gamecfg.Merge(base, doc)
	return nil
}

func (r *Recorder) ApplyAssetAction(_ context.Context, kind fix.Kind, assetID, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Assets = append(r.Assets, AssetAction{Kind: kind, AssetID: assetID, Path: path})
	return nil
}

func (r *Recorder) ApplyCodePatch(_ context.Context, targetFile, targetMethod, patchBody string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Code = append(r.Code, CodePatch{TargetFile: targetFile, TargetMethod: targetMethod, PatchBody: patchBody})
	return nil
}

func (r *Recorder) TriggerRebuild(context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Rebuilds++
	if r.RebuildErr != nil {
		return false, r.RebuildErr
	}
	return r.RebuildResult, nil
}

// SetTransform implements scene.Transformer.
func (r *Recorder) SetTransform(_ context.Context, nodeID string, prop scene.Property, value scene.Vec3) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Transforms = append(r.Transforms, scene.Change{NodeID: nodeID, Property: prop, Value: value})
	return nil
}

// Counts returns the number of recorded document, asset, code and
// transform calls.
func (r *Recorder) Counts() (docs, assets, code, transforms int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.DocPatches), len(r.Assets), len(r.Code), len(r.Transforms)
}

// RebuildCount returns the number of TriggerRebuild calls.
func (r *Recorder) RebuildCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Rebuilds
}

// Document returns the merged document stored for target.
func (r *Recorder) Document(target string) (gamecfg.Document, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.Documents[target]
	if !ok {
		return nil, false
	}
	return doc.Clone(), true
}
