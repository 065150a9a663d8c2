// Package mlhttp talks to the Python FastAPI inference server over its
// HTTP/JSON surface: JSON feature vectors to /predict/voice and multipart
// image uploads to /predict/mri.
package mlhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/parkinson-screen/internal/classifier"
)

// Client relays prediction requests to the inference server. No retries are
// performed; upstream failures surface to the caller with their detail text.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a client for the inference server at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("mlhttp"),
	}
}

type voiceRequest struct {
	Features []float64 `json:"features"`
}

type voiceResponse struct {
	Prediction       string             `json:"prediction"`
	Confidence       float64            `json:"confidence"`
	Probability      map[string]float64 `json:"probability"`
	InferenceSeconds float64            `json:"inference_time_seconds"`
}

type mriResponse struct {
	Prediction       string  `json:"prediction"`
	Confidence       float64 `json:"confidence"`
	InferenceSeconds float64 `json:"inference_time_seconds"`
}

// PredictVoice sends a validated 22-value feature vector for classification.
func (c *Client) PredictVoice(ctx context.Context, features []float64) (*classifier.VoicePrediction, error) {
	payload, err := json.Marshal(voiceRequest{Features: features})
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/predict/voice"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var decoded voiceResponse
	if err := c.do(req, "/predict/voice", &decoded); err != nil {
		return nil, err
	}
	return &classifier.VoicePrediction{
		Label:            decoded.Prediction,
		Confidence:       decoded.Confidence,
		Probability:      decoded.Probability,
		InferenceSeconds: decoded.InferenceSeconds,
	}, nil
}

// PredictMRI relays an image upload as a multipart form with field "file".
func (c *Client) PredictMRI(ctx context.Context, image classifier.Image) (*classifier.MRIPrediction, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, image.Filename))
	if image.ContentType != "" {
		header.Set("Content-Type", image.ContentType)
	}
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(image.Data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/predict/mri"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var decoded mriResponse
	if err := c.do(req, "/predict/mri", &decoded); err != nil {
		return nil, err
	}
	return &classifier.MRIPrediction{
		Label:            decoded.Prediction,
		Confidence:       decoded.Confidence,
		InferenceSeconds: decoded.InferenceSeconds,
	}, nil
}

// Health probes the inference server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &classifier.UpstreamError{Endpoint: "/health", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return &classifier.UpstreamError{Endpoint: "/health", StatusCode: resp.StatusCode, Detail: resp.Status}
	}
	return nil
}

func (c *Client) do(req *http.Request, endpoint string, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		wrapped := &classifier.UpstreamError{Endpoint: endpoint, Err: err}
		c.logger.Error("inference request failed", zap.String("endpoint", endpoint), zap.Error(err))
		return wrapped
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		detail := readUpstreamDetail(resp.Body)
		if detail == "" {
			detail = resp.Status
		}
		c.logger.Warn("inference request rejected",
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode),
			zap.String("detail", detail))
		return &classifier.UpstreamError{Endpoint: endpoint, StatusCode: resp.StatusCode, Detail: detail}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &classifier.UpstreamError{Endpoint: endpoint, StatusCode: resp.StatusCode, Detail: "undecodable response body", Err: err}
	}
	return nil
}

// readUpstreamDetail extracts FastAPI's {"detail": "..."} error body, falling
// back to the raw text.
func readUpstreamDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Detail != "" {
		return body.Detail
	}
	return strings.TrimSpace(string(raw))
}
