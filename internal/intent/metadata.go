package intent

// Metadata is the typed detail attached to an intent. A nil Metadata is
// valid for intents that carry nothing beyond their action.
type Metadata interface {
	metadata()
}

// RuntimeErrorMeta describes a runtime exception.
type RuntimeErrorMeta struct {
	ErrorType    ErrorType
	StackTrace   string
	File         string
	Line         int
	TargetMethod string
}

// CaptureMeta describes a suspicious capture outcome.
type CaptureMeta struct {
	Rule          string
	AttackerValue float64
	DefenderValue float64
}

// ScoreMeta describes a suspicious score.
type ScoreMeta struct {
	Score    float64
	PlayerID string
}

// AssetType groups asset files by how they are revalidated.
type AssetType string

const (
	AssetPrefab   AssetType = "prefab"
	AssetMaterial AssetType = "material"
)

// AssetMeta describes a changed asset.
type AssetMeta struct {
	AssetPath string
	AssetType AssetType
}

// BuildMeta carries the raw build error message.
type BuildMeta struct {
	BuildError string
}

// OpaqueMeta is the fallback for metadata without a typed variant.
type OpaqueMeta map[string]any

func (RuntimeErrorMeta) metadata() {}
func (CaptureMeta) metadata()      {}
func (ScoreMeta) metadata()        {}
func (AssetMeta) metadata()        {}
func (BuildMeta) metadata()        {}
func (OpaqueMeta) metadata()       {}

// RuleCaptureThreshold identifies the capture threshold rule.
const RuleCaptureThreshold = "capture.threshold"
