package orchestrator

import (
	"errors"
	"fmt"
)

// Band is the confidence class of a final transcript.
type Band string

const (
	BandHigh   Band = "high"
	BandMedium Band = "medium"
	BandLow    Band = "low"
)

// Action is what the gate decided to do with a transcript.
type Action string

const (
	ActionExecute Action = "execute"
	ActionConfirm Action = "confirm"
)

// Decision is the gate's verdict for one confidence value.
type Decision struct {
	Band    Band   `json:"band"`
	Outcome Action `json:"outcome"`

	// RespeakRecommended is set for low-confidence transcripts.
	RespeakRecommended bool `json:"respeak_recommended,omitempty"`
}

// Policy is the confidence gate. The zero value is not valid; start from
// [DefaultPolicy].
type Policy struct {
	// Threshold is the minimum confidence for the high band.
	Threshold float64 `json:"threshold"`

	// MediumBand is the width of the medium band below Threshold.
	MediumBand float64 `json:"medium_band"`

	// AutoExecute runs high-band transcripts without confirmation.
	AutoExecute bool `json:"auto_execute"`
}

// DefaultPolicy returns threshold 0.7, a 0.2 medium band and auto-execute.
func DefaultPolicy() Policy {
	return Policy{Threshold: 0.7, MediumBand: 0.2, AutoExecute: true}
}

// Validate reports every problem with p.
func (p Policy) Validate() error {
	var errs []error
	if !(p.Threshold > 0 && p.Threshold <= 1) {
		errs = append(errs, fmt.Errorf("orchestrator: threshold %v must be in (0, 1]", p.Threshold))
	}
	if !(p.MediumBand >= 0 && p.MediumBand <= p.Threshold) {
		errs = append(errs, fmt.Errorf("orchestrator: medium band %v must be in [0, threshold]", p.MediumBand))
	}
	return errors.Join(errs...)
}

// Decide classifies confidence c. The three bands partition [0, 1]:
// high is c >= Threshold, medium is Threshold-MediumBand <= c < Threshold,
// and low is everything below.
func (p Policy) Decide(c float64) Decision {
	switch {
	case c >= p.Threshold:
		if p.AutoExecute {
			return Decision{Band: BandHigh, Outcome: ActionExecute}
		}
		return Decision{Band: BandHigh, Outcome: ActionConfirm}
	case c >= p.Threshold-p.MediumBand:
		return Decision{Band: BandMedium, Outcome: ActionConfirm}
	default:
		return Decision{Band: BandLow, Outcome: ActionConfirm, RespeakRecommended: true}
	}
}
