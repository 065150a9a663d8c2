package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/parkinson-screen/internal/classifier"
	"github.com/example/parkinson-screen/internal/logging"
	"github.com/example/parkinson-screen/internal/repository"
	"github.com/example/parkinson-screen/internal/screening"
)

// ScreeningRepository defines the persistence operations needed by the use
// case.
type ScreeningRepository interface {
	SaveLog(ctx context.Context, log *repository.ScreeningLog) error
	FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.ScreeningLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// ScreeningUseCase encapsulates the screening flow: validate, relay to the
// inference server, combine, persist, cache.
type ScreeningUseCase struct {
	repo           ScreeningRepository
	cache          Cache
	classifier     classifier.Client
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// ScreeningOutcome is the response payload produced for one screening
// request.
type ScreeningOutcome struct {
	RequestID        string
	Voice            *screening.ModalityResult
	MRI              *screening.ModalityResult
	Decision         screening.CombinedDecision
	InferenceSeconds float64
}

type cachedScreening struct {
	RequestID          string    `json:"request_id"`
	UserID             string    `json:"user_id"`
	VoiceLabel         string    `json:"voice_label"`
	VoiceConfidence    float64   `json:"voice_confidence"`
	MRILabel           string    `json:"mri_label"`
	MRIConfidence      float64   `json:"mri_confidence"`
	FinalLabel         string    `json:"final_label"`
	CombinedConfidence float64   `json:"combined_confidence"`
	Reasoning          string    `json:"reasoning"`
	InferenceMs        float64   `json:"inference_ms"`
	CreatedAt          time.Time `json:"created_at"`
}

// NewScreeningUseCase constructs a new use case instance.
func NewScreeningUseCase(repo ScreeningRepository, cache Cache, clf classifier.Client, logger *zap.Logger) *ScreeningUseCase {
	return &ScreeningUseCase{
		repo:           repo,
		cache:          cache,
		classifier:     clf,
		logger:         logger.Named("screening_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// ScreenVoice classifies a validated voice feature vector and records the
// single-modality decision.
func (uc *ScreeningUseCase) ScreenVoice(ctx context.Context, userID string, features []float64) (*ScreeningOutcome, error) {
	if err := screening.ValidateFeatureVector(features); err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.screen_voice", requestID)
	if err := uc.markProcessing(ctx, requestID, opLogger); err != nil {
		return nil, err
	}

	pred, err := uc.classifier.PredictVoice(ctx, features)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.predict_voice", requestID, err)
		opLogger.Error("voice classification failed", zap.Error(wrapped))
		return nil, wrapped
	}

	return uc.finalize(ctx, opLogger, requestID, userID, voiceResult(pred), nil, pred.InferenceSeconds)
}

// ScreenMRI classifies an MRI upload and records the single-modality
// decision.
func (uc *ScreeningUseCase) ScreenMRI(ctx context.Context, userID string, image classifier.Image) (*ScreeningOutcome, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.screen_mri", requestID)
	if err := uc.markProcessing(ctx, requestID, opLogger); err != nil {
		return nil, err
	}

	pred, err := uc.classifier.PredictMRI(ctx, image)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.predict_mri", requestID, err)
		opLogger.Error("MRI classification failed", zap.Error(wrapped))
		return nil, wrapped
	}

	return uc.finalize(ctx, opLogger, requestID, userID, nil, mriResult(pred), pred.InferenceSeconds)
}

// ScreenCombined runs both classifiers concurrently and merges their results.
// The two calls are independent; the first failure cancels the sibling.
func (uc *ScreeningUseCase) ScreenCombined(ctx context.Context, userID string, features []float64, image classifier.Image) (*ScreeningOutcome, error) {
	if err := screening.ValidateFeatureVector(features); err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.screen_combined", requestID)
	if err := uc.markProcessing(ctx, requestID, opLogger); err != nil {
		return nil, err
	}

	var (
		voicePred *classifier.VoicePrediction
		mriPred   *classifier.MRIPrediction
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pred, err := uc.classifier.PredictVoice(gctx, features)
		if err != nil {
			return logging.NewOperationError("usecase.predict_voice", requestID, err)
		}
		voicePred = pred
		return nil
	})
	g.Go(func() error {
		pred, err := uc.classifier.PredictMRI(gctx, image)
		if err != nil {
			return logging.NewOperationError("usecase.predict_mri", requestID, err)
		}
		mriPred = pred
		return nil
	})
	if err := g.Wait(); err != nil {
		opLogger.Error("combined classification failed", zap.Error(err))
		return nil, err
	}

	inference := voicePred.InferenceSeconds + mriPred.InferenceSeconds
	return uc.finalize(ctx, opLogger, requestID, userID, voiceResult(voicePred), mriResult(mriPred), inference)
}

// GetResult retrieves a cached screening outcome or loads it from
// persistence.
func (uc *ScreeningUseCase) GetResult(ctx context.Context, userID, requestID string) (*repository.ScreeningLog, error) {
	cacheKey := screeningCacheKey(requestID)
	if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", cacheKey); err == nil {
		var payload cachedScreening
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to decode cached result", zap.Error(err))
		} else if payload.RequestID != "" && payload.UserID == userID {
			return &repository.ScreeningLog{
				RequestID:          payload.RequestID,
				UserID:             payload.UserID,
				VoiceLabel:         payload.VoiceLabel,
				VoiceConfidence:    payload.VoiceConfidence,
				MRILabel:           payload.MRILabel,
				MRIConfidence:      payload.MRIConfidence,
				FinalLabel:         payload.FinalLabel,
				CombinedConfidence: payload.CombinedConfidence,
				Reasoning:          payload.Reasoning,
				InferenceMs:        payload.InferenceMs,
				CreatedAt:          payload.CreatedAt,
			}, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to read cache", zap.Error(err))
	}

	return uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
}

// CheckInferenceService probes the upstream inference server.
func (uc *ScreeningUseCase) CheckInferenceService(ctx context.Context) error {
	return uc.classifier.Health(ctx)
}

func (uc *ScreeningUseCase) finalize(ctx context.Context, opLogger *zap.Logger, requestID, userID string, voice, mri *screening.ModalityResult, inferenceSeconds float64) (*ScreeningOutcome, error) {
	decision := screening.Combine(voice, mri)

	log := &repository.ScreeningLog{
		RequestID:          requestID,
		UserID:             userID,
		FinalLabel:         string(decision.FinalLabel),
		CombinedConfidence: decision.CombinedConfidence,
		Reasoning:          decision.Reasoning,
		InferenceMs:        inferenceSeconds * 1000,
		CreatedAt:          time.Now().UTC(),
	}
	if voice != nil {
		log.VoiceLabel = string(voice.Label)
		log.VoiceConfidence = voice.Confidence
	}
	if mri != nil {
		log.MRILabel = string(mri.Label)
		log.MRIConfidence = mri.Confidence
	}

	if err := uc.repo.SaveLog(ctx, log); err != nil {
		opLogger.Error("failed to persist screening log", zap.Error(err))
		return nil, err
	}

	cached := cachedScreening{
		RequestID:          log.RequestID,
		UserID:             log.UserID,
		VoiceLabel:         log.VoiceLabel,
		VoiceConfidence:    log.VoiceConfidence,
		MRILabel:           log.MRILabel,
		MRIConfidence:      log.MRIConfidence,
		FinalLabel:         log.FinalLabel,
		CombinedConfidence: log.CombinedConfidence,
		Reasoning:          log.Reasoning,
		InferenceMs:        log.InferenceMs,
		CreatedAt:          log.CreatedAt,
	}
	serialized, err := json.Marshal(cached)
	if err != nil {
		opLogger.Error("failed to serialize screening outcome", zap.Error(err))
		return nil, err
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, screeningCacheKey(requestID), string(serialized), 5*time.Minute)
	}); err != nil {
		opLogger.Error("failed to cache screening outcome", zap.Error(err))
		return nil, err
	}

	opLogger.Info("screening complete",
		zap.String("final_label", string(decision.FinalLabel)),
		zap.Float64("combined_confidence", decision.CombinedConfidence))

	return &ScreeningOutcome{
		RequestID:        requestID,
		Voice:            voice,
		MRI:              mri,
		Decision:         decision,
		InferenceSeconds: inferenceSeconds,
	}, nil
}

func (uc *ScreeningUseCase) markProcessing(ctx context.Context, requestID string, opLogger *zap.Logger) error {
	err := uc.withRedisRetry(ctx, requestID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, screeningCacheKey(requestID), "processing", time.Minute)
	})
	if err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
	}
	return err
}

func voiceResult(pred *classifier.VoicePrediction) *screening.ModalityResult {
	return &screening.ModalityResult{
		Label:       screening.Label(pred.Label),
		Confidence:  pred.Confidence,
		Probability: pred.Probability,
	}
}

func mriResult(pred *classifier.MRIPrediction) *screening.ModalityResult {
	return &screening.ModalityResult{
		Label:      screening.Label(pred.Label),
		Confidence: pred.Confidence,
	}
}

func screeningCacheKey(requestID string) string {
	return fmt.Sprintf("screening:%s", requestID)
}

func (uc *ScreeningUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !logging.IsTransient(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *ScreeningUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}
