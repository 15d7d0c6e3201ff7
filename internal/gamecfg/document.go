// Package gamecfg models the gameplay configuration resource that the
// engine reads and patches.
//
// A Document is an untyped JSON object. Fields the engine does not reason
// about pass through untouched; the typed accessors and setters only touch
// the sub-keys they name, and setters return a new Document rather than
// mutating the receiver.
package gamecfg

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultPath is the resource path of the card rules document.
const DefaultPath = "GameConfig/card_rules.json"

// ErrInvalidDocument is returned when a document is not a JSON object.
var ErrInvalidDocument = errors.New("invalid configuration document")

// Document is a JSON configuration object.
type Document map[string]any

// Default returns the built-in document used when the resource is missing
// or cannot be parsed.
func Default() Document {
	return Document{
		"captureRules": map[string]any{
			"threshold": 1.0,
		},
		"balance": map[string]any{
			"factor":     1.0,
			"difficulty": 1.0,
		},
		"scoreRules": DefaultScoreRules(),
	}
}

// DefaultScoreRules returns the built-in scoreRules section.
func DefaultScoreRules() map[string]any {
	return map[string]any{
		"baseScore":       10.0,
		"comboMultiplier": 1.0,
		"minScore":        0.0,
		"allowNegative":   false,
	}
}

// Parse decodes a JSON object.
func Parse(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: not an object", ErrInvalidDocument)
	}
	return doc, nil
}

// ParseOrDefault decodes data, falling back to Default when data is empty
// or malformed. The error reports why the fallback was used.
func ParseOrDefault(data []byte) (Document, error) {
	if len(data) == 0 {
		return Default(), nil
	}
	doc, err := Parse(data)
	if err != nil {
		return Default(), err
	}
	return doc, nil
}

// Marshal encodes the document as indented JSON.
func (d Document) Marshal() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// Clone returns a deep copy.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(cloneMap(d))
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case Document:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Section returns the object stored under key.
func (d Document) Section(key string) (map[string]any, bool) {
	switch s := d[key].(type) {
	case map[string]any:
		return s, true
	case Document:
		return s, true
	}
	return nil, false
}

// Number returns the numeric value at section.key.
func (d Document) Number(section, key string) (float64, bool) {
	s, ok := d.Section(section)
	if !ok {
		return 0, false
	}
	return toFloat(s[key])
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func (d Document) numberOr(section, key string, def float64) float64 {
	if v, ok := d.Number(section, key); ok {
		return v
	}
	return def
}

// CaptureThreshold returns captureRules.threshold, 1 when missing.
func (d Document) CaptureThreshold() float64 { return d.numberOr("captureRules", "threshold", 1) }

// BalanceFactor returns balance.factor, 1 when missing.
func (d Document) BalanceFactor() float64 { return d.numberOr("balance", "factor", 1) }

// Difficulty returns balance.difficulty, 1 when missing.
func (d Document) Difficulty() float64 { return d.numberOr("balance", "difficulty", 1) }

// ComboMultiplier returns scoreRules.comboMultiplier, 1 when missing.
func (d Document) ComboMultiplier() float64 { return d.numberOr("scoreRules", "comboMultiplier", 1) }

// With returns a copy of d with section.key set to value. Sibling keys in
// the section are preserved.
func (d Document) With(section, key string, value any) Document {
	return Merge(d, Document{section: map[string]any{key: value}})
}

// WithCaptureThreshold returns a copy with captureRules.threshold set.
func (d Document) WithCaptureThreshold(v float64) Document {
	return d.With("captureRules", "threshold", v)
}

// WithBalanceFactor returns a copy with balance.factor set.
func (d Document) WithBalanceFactor(v float64) Document { return d.With("balance", "factor", v) }

// WithDifficulty returns a copy with balance.difficulty set.
func (d Document) WithDifficulty(v float64) Document { return d.With("balance", "difficulty", v) }

// WithComboMultiplier returns a copy with scoreRules.comboMultiplier set.
func (d Document) WithComboMultiplier(v float64) Document {
	return d.With("scoreRules", "comboMultiplier", v)
}

// Merge returns a deep copy of base with patch applied on top. Nested
// objects are merged key by key; any other value in patch replaces the one
// in base.
func Merge(base, patch Document) Document {
	out := base.Clone()
	if out == nil {
		out = Document{}
	}
	mergeInto(out, patch)
	return out
}

func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		srcMap, srcIsMap := asMap(v)
		dstMap, dstIsMap := asMap(dst[k])
		if srcIsMap && dstIsMap {
			mergeInto(dstMap, srcMap)
			dst[k] = dstMap
			continue
		}
		dst[k] = cloneValue(v)
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return m, true
	}
	return nil, false
}
