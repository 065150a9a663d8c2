package usecase

import "context"

// MetricsSummary represents aggregated screening insights.
type MetricsSummary struct {
	TotalScreenings           int64   `json:"total_screenings"`
	ParkinsonsDetected        int64   `json:"parkinsons_detected"`
	DetectionRate             float64 `json:"detection_rate"`
	AverageCombinedConfidence float64 `json:"average_combined_confidence"`
	AverageInferenceLatencyMs float64 `json:"average_inference_latency_ms"`
}

// GetMetricsSummary aggregates screening metrics from persisted logs.
func (uc *ScreeningUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalScreenings:           aggregation.TotalCount,
		ParkinsonsDetected:        aggregation.ParkinsonsCount,
		AverageCombinedConfidence: aggregation.AverageConfidence,
		AverageInferenceLatencyMs: aggregation.AverageInferenceMs,
	}

	if aggregation.TotalCount > 0 {
		summary.DetectionRate = float64(aggregation.ParkinsonsCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
