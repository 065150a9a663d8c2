package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/parkinson-screen/internal/auth"
	"github.com/example/parkinson-screen/internal/classifier"
	"github.com/example/parkinson-screen/internal/screening"
	"github.com/example/parkinson-screen/internal/usecase"
)

// Upload ceilings enforced before any bytes are relayed upstream.
const (
	MaxImageUploadSize = 10 << 20 // 10 MiB
	MaxCSVUploadSize   = 5 << 20  // 5 MiB
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".webp": true,
}

// RegisterRoutes wires the HTTP handlers to the Gin router. Everything but
// /health sits behind the auth middleware.
func RegisterRoutes(router *gin.Engine, uc *usecase.ScreeningUseCase, authMiddleware gin.HandlerFunc) {
	router.GET("/health", healthHandler(uc))

	api := router.Group("/", authMiddleware)
	api.POST("/screen/voice", screenVoiceHandler(uc))
	api.POST("/screen/mri", screenMRIHandler(uc))
	api.POST("/screen/combined", screenCombinedHandler(uc))
	api.GET("/result/:id", resultHandler(uc))
	api.GET("/metrics/summary", metricsHandler(uc))
}

func healthHandler(uc *usecase.ScreeningUseCase) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		status, inference := "healthy", "available"
		if err := uc.CheckInferenceService(ctx); err != nil {
			status, inference = "degraded", "unreachable"
		}
		c.JSON(http.StatusOK, gin.H{
			"status":            status,
			"inference_service": inference,
		})
	}
}

type voiceRequest struct {
	Features []float64 `json:"features"`
}

func screenVoiceHandler(uc *usecase.ScreeningUseCase) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		features, err := readVoiceInput(c)
		if err != nil {
			respondError(c, err)
			return
		}

		out, err := uc.ScreenVoice(c.Request.Context(), userID, features)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, outcomeResponse(out))
	}
}

func screenMRIHandler(uc *usecase.ScreeningUseCase) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		file, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file field 'file' is required"})
			return
		}
		image, err := readImageUpload(file)
		if err != nil {
			respondError(c, err)
			return
		}

		out, err := uc.ScreenMRI(c.Request.Context(), userID, image)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, outcomeResponse(out))
	}
}

func screenCombinedHandler(uc *usecase.ScreeningUseCase) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		csvFile, err := c.FormFile("features")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "CSV file field 'features' is required"})
			return
		}
		features, err := readFeatureCSV(csvFile)
		if err != nil {
			respondError(c, err)
			return
		}

		mriFile, err := c.FormFile("mri")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file field 'mri' is required"})
			return
		}
		image, err := readImageUpload(mriFile)
		if err != nil {
			respondError(c, err)
			return
		}

		out, err := uc.ScreenCombined(c.Request.Context(), userID, features, image)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, outcomeResponse(out))
	}
}

func resultHandler(uc *usecase.ScreeningUseCase) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		requestID := c.Param("id")
		if requestID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
			return
		}

		log, err := uc.GetResult(c.Request.Context(), userID, requestID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}

		resp := gin.H{
			"requestId":          log.RequestID,
			"userId":             log.UserID,
			"finalDecision":      log.FinalLabel,
			"reasoning":          log.Reasoning,
			"combinedConfidence": log.CombinedConfidence,
			"createdAt":          log.CreatedAt,
		}
		if log.VoiceLabel != "" {
			resp["voice"] = gin.H{"label": log.VoiceLabel, "confidence": log.VoiceConfidence}
		}
		if log.MRILabel != "" {
			resp["mri"] = gin.H{"label": log.MRILabel, "confidence": log.MRIConfidence}
		}
		c.JSON(http.StatusOK, resp)
	}
}

func metricsHandler(uc *usecase.ScreeningUseCase) gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := uc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

// readVoiceInput accepts either a JSON body {"features": [...]} or an
// uploaded CSV file in multipart field "file".
func readVoiceInput(c *gin.Context) ([]float64, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		file, err := c.FormFile("file")
		if err != nil {
			return nil, screening.NewValidationError(screening.EmptyInput, "CSV file field 'file' is required")
		}
		return readFeatureCSV(file)
	}

	var req voiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, screening.NewValidationError(screening.EmptyInput, "request body must be JSON with a 'features' array")
	}
	if err := screening.ValidateFeatureVector(req.Features); err != nil {
		return nil, err
	}
	return req.Features, nil
}

func readFeatureCSV(file *multipart.FileHeader) ([]float64, error) {
	if file.Size > MaxCSVUploadSize {
		return nil, screening.NewValidationError(screening.FileTooLarge, "CSV upload exceeds %d bytes", MaxCSVUploadSize)
	}
	if ext := strings.ToLower(filepath.Ext(file.Filename)); ext != ".csv" {
		return nil, screening.NewValidationError(screening.UnsupportedFileType, "expected a .csv file, got %q", file.Filename)
	}

	data, err := readUpload(file)
	if err != nil {
		return nil, err
	}
	return screening.ParseFeatureCSV(bytes.NewReader(data))
}

func readImageUpload(file *multipart.FileHeader) (classifier.Image, error) {
	if file.Size > MaxImageUploadSize {
		return classifier.Image{}, screening.NewValidationError(screening.FileTooLarge, "image upload exceeds %d bytes", MaxImageUploadSize)
	}
	contentType := file.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return classifier.Image{}, screening.NewValidationError(screening.UnsupportedFileType, "expected an image upload, got content type %q", contentType)
	}
	if ext := strings.ToLower(filepath.Ext(file.Filename)); !imageExtensions[ext] {
		return classifier.Image{}, screening.NewValidationError(screening.UnsupportedFileType, "unsupported image extension %q", ext)
	}

	data, err := readUpload(file)
	if err != nil {
		return classifier.Image{}, err
	}
	return classifier.Image{
		Data:        data,
		Filename:    file.Filename,
		ContentType: contentType,
	}, nil
}

// readUpload spools the upload through a per-request temp file. The file is
// removed on every exit path.
func readUpload(file *multipart.FileHeader) ([]byte, error) {
	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "screening-upload-*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, src); err != nil {
		return nil, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(tmp)
}

func outcomeResponse(out *usecase.ScreeningOutcome) gin.H {
	resp := gin.H{
		"requestId":            out.RequestID,
		"finalDecision":        out.Decision.FinalLabel,
		"reasoning":            out.Decision.Reasoning,
		"combinedConfidence":   out.Decision.CombinedConfidence,
		"inferenceTimeSeconds": out.InferenceSeconds,
	}
	if out.Voice != nil {
		resp["voice"] = out.Voice
	}
	if out.MRI != nil {
		resp["mri"] = out.MRI
	}
	return resp
}

// respondError maps the error taxonomy to HTTP statuses: validation failures
// are client errors, upstream failures surface as 502 with the upstream
// detail preserved.
func respondError(c *gin.Context, err error) {
	var vErr *screening.ValidationError
	if errors.As(err, &vErr) {
		status := http.StatusBadRequest
		switch vErr.Kind {
		case screening.FileTooLarge:
			status = http.StatusRequestEntityTooLarge
		case screening.UnsupportedFileType:
			status = http.StatusUnsupportedMediaType
		}
		c.JSON(status, gin.H{"error": vErr.Message, "kind": string(vErr.Kind)})
		return
	}

	var upErr *classifier.UpstreamError
	if errors.As(err, &upErr) {
		c.JSON(http.StatusBadGateway, gin.H{"error": "inference service error", "detail": upErr.Detail})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
