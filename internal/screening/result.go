package screening

// Label is a classification outcome reported by a modality classifier or by
// the combiner.
type Label string

const (
	// LabelHealthy is the negative class of the voice classifier.
	LabelHealthy Label = "healthy"
	// LabelNormal is the negative class of the MRI classifier.
	LabelNormal Label = "normal"
	// LabelParkinsons is the positive class of both classifiers.
	LabelParkinsons Label = "parkinsons"
	// LabelUnknown marks a modality that was not run or returned an
	// unrecognized class.
	LabelUnknown Label = "unknown"
	// LabelIncomplete is the combiner's outcome when neither modality
	// produced usable evidence.
	LabelIncomplete Label = "incomplete"
)

// ModalityResult is one classifier's output, mapped from the inference
// server's response body. Immutable once built; one instance per request.
type ModalityResult struct {
	Label       Label              `json:"label"`
	Confidence  float64            `json:"confidence"`
	Probability map[string]float64 `json:"probability,omitempty"`
}

// CombinedDecision is the merged outcome for a screening request.
type CombinedDecision struct {
	FinalLabel         Label   `json:"finalDecision"`
	Reasoning          string  `json:"reasoning"`
	CombinedConfidence float64 `json:"combinedConfidence"`
}
