package event

import (
	"encoding/json"
	"strings"
)

// Payload is the typed body of an event. The concrete type depends on the
// event Type; OpaquePayload carries anything the engine does not model.
type Payload interface {
	payload()
}

// CapturePayload describes a capture attempt between two cards.
type CapturePayload struct {
	AttackerValue float64 `json:"attackerValue"`
	DefenderValue float64 `json:"defenderValue"`
	// Result is nil when the application did not report an outcome.
	Result *bool `json:"result,omitempty"`
}

// Failed reports whether the capture was reported as unsuccessful.
func (p CapturePayload) Failed() bool { return p.Result != nil && !*p.Result }

// Succeeded reports whether the capture was reported as successful.
func (p CapturePayload) Succeeded() bool { return p.Result != nil && *p.Result }

// ScorePayload reports a score change for a player.
type ScorePayload struct {
	Score         float64 `json:"score"`
	OpponentScore float64 `json:"opponentScore,omitempty"`
	PlayerID      string  `json:"playerId,omitempty"`
}

// MatchPayload reports the outcome of a finished match.
type MatchPayload struct {
	Won bool `json:"won"`
}

// AssetDiffPayload reports a changed asset on disk.
type AssetDiffPayload struct {
	Path string `json:"path"`
}

// OpaquePayload is the fallback for event types without a typed variant.
type OpaquePayload map[string]any

func (CapturePayload) payload()   {}
func (ScorePayload) payload()     {}
func (MatchPayload) payload()     {}
func (AssetDiffPayload) payload() {}
func (OpaquePayload) payload()    {}

// Ptr returns a pointer to b. Handy for building capture payloads.
func Ptr(b bool) *bool { return &b }

type captureWire struct {
	AttackerValue *float64 `json:"attackerValue"`
	DefenderValue *float64 `json:"defenderValue"`
	Attacker      *struct {
		Value float64 `json:"value"`
	} `json:"attacker"`
	Defender *struct {
		Value float64 `json:"value"`
	} `json:"defender"`
	Result  *bool `json:"result"`
	Success *bool `json:"success"`
}

// UnmarshalJSON accepts both flat and nested card values and treats
// "success" as a synonym of "result".
func (p *CapturePayload) UnmarshalJSON(data []byte) error {
	var w captureWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*p = CapturePayload{Result: w.Result}
	if p.Result == nil {
		p.Result = w.Success
	}
	switch {
	case w.AttackerValue != nil:
		p.AttackerValue = *w.AttackerValue
	case w.Attacker != nil:
		p.AttackerValue = w.Attacker.Value
	}
	switch {
	case w.DefenderValue != nil:
		p.DefenderValue = *w.DefenderValue
	case w.Defender != nil:
		p.DefenderValue = w.Defender.Value
	}
	return nil
}

type scoreWire struct {
	Score         *float64 `json:"score"`
	Delta         *float64 `json:"delta"`
	OpponentScore float64  `json:"opponentScore"`
	PlayerID      string   `json:"playerId"`
}

// UnmarshalJSON accepts "delta" when "score" is absent.
func (p *ScorePayload) UnmarshalJSON(data []byte) error {
	var w scoreWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*p = ScorePayload{OpponentScore: w.OpponentScore, PlayerID: w.PlayerID}
	switch {
	case w.Score != nil:
		p.Score = *w.Score
	case w.Delta != nil:
		p.Score = *w.Delta
	}
	return nil
}

type matchWire struct {
	Won    *bool  `json:"won"`
	Result string `json:"result"`
}

// UnmarshalJSON accepts either {"won": true} or {"result": "win"}.
func (p *MatchPayload) UnmarshalJSON(data []byte) error {
	var w matchWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Won != nil {
		p.Won = *w.Won
		return nil
	}
	r := strings.ToLower(w.Result)
	p.Won = r == "win" || r == "won"
	return nil
}

// DecodePayload decodes raw JSON into the payload variant for typ.
// Empty input yields the zero value of that variant.
func DecodePayload(typ Type, raw json.RawMessage) (Payload, error) {
	empty := len(raw) == 0 || string(raw) == "null"
	switch typ {
	case TypeCapture:
		var p CapturePayload
		if !empty {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, err
			}
		}
		return p, nil
	case TypeScore:
		var p ScorePayload
		if !empty {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, err
			}
		}
		return p, nil
	case TypeMatch:
		var p MatchPayload
		if !empty {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, err
			}
		}
		return p, nil
	case TypeAssetDiff:
		var p AssetDiffPayload
		if !empty {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, err
			}
		}
		return p, nil
	default:
		p := OpaquePayload{}
		if !empty {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, err
			}
		}
		return p, nil
	}
}
