package classifier

import (
	"context"
	"fmt"
)

// VoicePrediction is the voice classifier's response for one feature vector.
type VoicePrediction struct {
	Label            string
	Confidence       float64
	Probability      map[string]float64
	InferenceSeconds float64
}

// MRIPrediction is the image classifier's response for one scan.
type MRIPrediction struct {
	Label            string
	Confidence       float64
	InferenceSeconds float64
}

// Image is an uploaded scan ready to be relayed upstream.
type Image struct {
	Data        []byte
	Filename    string
	ContentType string
}

// Client exposes the subset of the inference server used by the screening
// flow.
type Client interface {
	PredictVoice(ctx context.Context, features []float64) (*VoicePrediction, error)
	PredictMRI(ctx context.Context, image Image) (*MRIPrediction, error)
	Health(ctx context.Context) error
}

// UpstreamError reports a failed call to the inference server. The upstream
// detail message is preserved verbatim so callers can surface it.
type UpstreamError struct {
	Endpoint   string
	StatusCode int
	Detail     string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("inference service %s returned %d: %s", e.Endpoint, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("inference service %s unreachable: %v", e.Endpoint, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
