package screening

import "math"

// Reasoning strings returned by Combine. Exported so callers and tests can
// match on which rule fired without string literals.
const (
	ReasonVoicePriority  = "voice analysis detected Parkinson's disease (priority)"
	ReasonMRIDetected    = "MRI analysis detected Parkinson's disease"
	ReasonBothNegative   = "both voice and MRI analysis indicate healthy status"
	ReasonVoiceOnly      = "voice analysis indicates healthy status; MRI was not analyzed"
	ReasonMRIOnly        = "MRI analysis indicates healthy status; voice was not analyzed"
	ReasonNoUsableResult = "no modality produced a usable result"
)

// Combine merges two independent, possibly absent modality results into one
// decision. Voice has strict priority over imaging. The function is pure and
// total: it never fails and holds no state across calls.
//
// Rules, first match wins:
//  1. voice says parkinsons            -> parkinsons
//  2. mri says parkinsons              -> parkinsons
//  3. both modalities negative         -> healthy
//  4. one modality negative, the other absent or unusable -> healthy
//  5. no usable evidence at all        -> incomplete
//
// Combined confidence is the arithmetic mean of both confidences with an
// absent or malformed confidence contributing 0. It is not a calibrated
// fusion.
func Combine(voice, mri *ModalityResult) CombinedDecision {
	confidence := (usableConfidence(voice) + usableConfidence(mri)) / 2

	var label Label
	var reason string
	switch {
	case detected(voice):
		label, reason = LabelParkinsons, ReasonVoicePriority
	case detected(mri):
		label, reason = LabelParkinsons, ReasonMRIDetected
	case negative(voice) && negative(mri):
		label, reason = LabelHealthy, ReasonBothNegative
	case negative(voice):
		label, reason = LabelHealthy, ReasonVoiceOnly
	case negative(mri):
		label, reason = LabelHealthy, ReasonMRIOnly
	default:
		label, reason = LabelIncomplete, ReasonNoUsableResult
	}

	return CombinedDecision{
		FinalLabel:         label,
		Reasoning:          reason,
		CombinedConfidence: confidence,
	}
}

func detected(m *ModalityResult) bool {
	return m != nil && m.Label == LabelParkinsons
}

func negative(m *ModalityResult) bool {
	return m != nil && (m.Label == LabelHealthy || m.Label == LabelNormal)
}

// usableConfidence treats missing or malformed confidences as 0. Range
// checking is otherwise the upstream classifier's job.
func usableConfidence(m *ModalityResult) float64 {
	if m == nil {
		return 0
	}
	c := m.Confidence
	if math.IsNaN(c) || math.IsInf(c, 0) || c < 0 || c > 1 {
		return 0
	}
	return c
}
