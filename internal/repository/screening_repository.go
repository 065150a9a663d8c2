package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/parkinson-screen/internal/logging"
)

// ScreeningLog is one persisted screening request with both modality results
// and the combined decision.
type ScreeningLog struct {
	ID                 uint      `gorm:"primaryKey"`
	RequestID          string    `gorm:"column:request_id;uniqueIndex;size:64"`
	UserID             string    `gorm:"column:user_id;index;size:64"`
	VoiceLabel         string    `gorm:"column:voice_label;size:32"`
	VoiceConfidence    float64   `gorm:"column:voice_confidence"`
	MRILabel           string    `gorm:"column:mri_label;size:32"`
	MRIConfidence      float64   `gorm:"column:mri_confidence"`
	FinalLabel         string    `gorm:"column:final_label;size:32"`
	CombinedConfidence float64   `gorm:"column:combined_confidence"`
	Reasoning          string    `gorm:"column:reasoning;type:text"`
	InferenceMs        float64   `gorm:"column:inference_ms"`
	CreatedAt          time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (ScreeningLog) TableName() string {
	return "screening_logs"
}

// MetricsAggregation carries the raw aggregates computed in SQL.
type MetricsAggregation struct {
	TotalCount         int64
	ParkinsonsCount    int64
	AverageConfidence  float64
	AverageInferenceMs float64
}

// ScreeningRepository provides persistence APIs for screening logs. Writes
// retry on transient database errors with exponential backoff.
type ScreeningRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewScreeningRepository creates a new repository instance.
func NewScreeningRepository(db *gorm.DB, logger *zap.Logger) *ScreeningRepository {
	return &ScreeningRepository{
		db:             db,
		logger:         logger.Named("screening_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *ScreeningRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&ScreeningLog{})
}

// SaveLog persists a screening log entry.
func (r *ScreeningRepository) SaveLog(ctx context.Context, log *ScreeningLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestIDAndUser retrieves a screening log matching the request and
// its owner.
func (r *ScreeningRepository) FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*ScreeningLog, error) {
	var log ScreeningLog
	if err := r.db.WithContext(ctx).First(&log, "request_id = ? AND user_id = ?", requestID, userID).Error; err != nil {
		return nil, err
	}
	return &log, nil
}

// AggregateMetrics computes summary aggregates over all screening logs.
func (r *ScreeningRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.db.WithContext(ctx).
		Model(&ScreeningLog{}).
		Select("COUNT(*) AS total_count, " +
			"COALESCE(SUM(CASE WHEN final_label = 'parkinsons' THEN 1 ELSE 0 END), 0) AS parkinsons_count, " +
			"COALESCE(AVG(combined_confidence), 0) AS average_confidence, " +
			"COALESCE(AVG(inference_ms), 0) AS average_inference_ms").
		Scan(&agg).Error
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *ScreeningRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	if r.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !logging.IsTransient(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}
