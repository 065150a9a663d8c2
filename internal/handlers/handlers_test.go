package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/example/parkinson-screen/internal/auth"
	"github.com/example/parkinson-screen/internal/classifier"
	"github.com/example/parkinson-screen/internal/repository"
	"github.com/example/parkinson-screen/internal/usecase"
)

const testJWTSecret = "test-secret"

type testRepo struct {
	saved []*repository.ScreeningLog
}

func (r *testRepo) SaveLog(ctx context.Context, log *repository.ScreeningLog) error {
	r.saved = append(r.saved, log)
	return nil
}

func (r *testRepo) FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.ScreeningLog, error) {
	for _, log := range r.saved {
		if log.RequestID == requestID && log.UserID == userID {
			return log, nil
		}
	}
	return nil, errors.New("not found")
}

func (r *testRepo) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	return &repository.MetricsAggregation{}, nil
}

type testCache struct{}

func (testCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return nil
}

func (testCache) Get(ctx context.Context, key string) (string, error) {
	return "", context.DeadlineExceeded
}

type testClassifier struct {
	voicePred *classifier.VoicePrediction
	voiceErr  error
	mriPred   *classifier.MRIPrediction
	mriErr    error
}

func (c *testClassifier) PredictVoice(ctx context.Context, features []float64) (*classifier.VoicePrediction, error) {
	if c.voiceErr != nil {
		return nil, c.voiceErr
	}
	return c.voicePred, nil
}

func (c *testClassifier) PredictMRI(ctx context.Context, image classifier.Image) (*classifier.MRIPrediction, error) {
	if c.mriErr != nil {
		return nil, c.mriErr
	}
	return c.mriPred, nil
}

func (c *testClassifier) Health(ctx context.Context) error { return nil }

func newTestRouter(t *testing.T, clf classifier.Client) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.MaxMultipartMemory = MaxImageUploadSize

	uc := usecase.NewScreeningUseCase(&testRepo{}, testCache{}, clf, zap.NewNop())
	RegisterRoutes(router, uc, auth.JWTMiddleware(testJWTSecret, ""))
	return router
}

var voiceFixture = []float64{
	119.992, 157.302, 74.997, 0.00784, 0.00007, 0.00370, 0.00554, 0.01109,
	0.04374, 0.426, 0.02182, 0.03130, 0.02971, 0.06545, 0.02211, 21.033,
	0.414783, 0.815285, -4.813031, 0.266482, 2.301442, 0.284654,
}

func TestScreenMRIRejectsLargeUpload(t *testing.T) {
	router := newTestRouter(t, &testClassifier{})

	body, contentType := buildMultipartBody(t, "file", "scan.png", "image/png", bytes.Repeat([]byte("a"), MaxImageUploadSize+1))
	resp := doRequest(t, router, http.MethodPost, "/screen/mri", body, contentType)

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestScreenMRIRejectsUnsupportedContentType(t *testing.T) {
	router := newTestRouter(t, &testClassifier{})

	body, contentType := buildMultipartBody(t, "file", "notes.txt", "text/plain", []byte("hello"))
	resp := doRequest(t, router, http.MethodPost, "/screen/mri", body, contentType)

	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
}

func TestScreenVoiceRejectsWrongFeatureCount(t *testing.T) {
	router := newTestRouter(t, &testClassifier{})

	payload, _ := json.Marshal(map[string]interface{}{"features": voiceFixture[:21]})
	resp := doRequest(t, router, http.MethodPost, "/screen/voice", bytes.NewReader(payload), "application/json")

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["kind"] != "invalid_feature_count" {
		t.Fatalf("expected invalid_feature_count, got %q", body["kind"])
	}
	if !strings.Contains(body["error"], "got 21") {
		t.Fatalf("error should name the received count: %q", body["error"])
	}
}

func TestScreenVoiceAloneReturnsCombinedDecision(t *testing.T) {
	router := newTestRouter(t, &testClassifier{
		voicePred: &classifier.VoicePrediction{Label: "parkinsons", Confidence: 0.85},
	})

	payload, _ := json.Marshal(map[string]interface{}{"features": voiceFixture})
	resp := doRequest(t, router, http.MethodPost, "/screen/voice", bytes.NewReader(payload), "application/json")

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var body struct {
		FinalDecision      string  `json:"finalDecision"`
		CombinedConfidence float64 `json:"combinedConfidence"`
		Reasoning          string  `json:"reasoning"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.FinalDecision != "parkinsons" {
		t.Fatalf("expected parkinsons, got %q", body.FinalDecision)
	}
	if body.CombinedConfidence != 0.425 {
		t.Fatalf("expected combined confidence 0.425, got %f", body.CombinedConfidence)
	}
	if !strings.Contains(body.Reasoning, "priority") {
		t.Fatalf("reasoning should cite voice priority: %q", body.Reasoning)
	}
}

func TestScreenVoiceAcceptsCSVUpload(t *testing.T) {
	router := newTestRouter(t, &testClassifier{
		voicePred: &classifier.VoicePrediction{Label: "healthy", Confidence: 0.9},
	})

	body, contentType := buildMultipartBody(t, "file", "features.csv", "text/csv", []byte(csvFixture()))
	resp := doRequest(t, router, http.MethodPost, "/screen/voice", body, contentType)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var decoded struct {
		FinalDecision string `json:"finalDecision"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if decoded.FinalDecision != "healthy" {
		t.Fatalf("expected healthy, got %q", decoded.FinalDecision)
	}
}

func TestScreenVoiceMapsUpstreamErrorTo502(t *testing.T) {
	router := newTestRouter(t, &testClassifier{
		voiceErr: &classifier.UpstreamError{Endpoint: "/predict/voice", StatusCode: 500, Detail: "Voice prediction failed"},
	})

	payload, _ := json.Marshal(map[string]interface{}{"features": voiceFixture})
	resp := doRequest(t, router, http.MethodPost, "/screen/voice", bytes.NewReader(payload), "application/json")

	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected status %d, got %d", http.StatusBadGateway, resp.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["detail"] != "Voice prediction failed" {
		t.Fatalf("upstream detail not surfaced: %q", body["detail"])
	}
}

func TestScreenRoutesRequireAuth(t *testing.T) {
	router := newTestRouter(t, &testClassifier{})

	payload, _ := json.Marshal(map[string]interface{}{"features": voiceFixture})
	req := httptest.NewRequest(http.MethodPost, "/screen/voice", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.Code)
	}
}

func TestScreenCombinedMergesBothModalities(t *testing.T) {
	router := newTestRouter(t, &testClassifier{
		voicePred: &classifier.VoicePrediction{Label: "healthy", Confidence: 0.9},
		mriPred:   &classifier.MRIPrediction{Label: "normal", Confidence: 0.3},
	})

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	writeMultipartFile(t, writer, "features", "features.csv", "text/csv", []byte(csvFixture()))
	writeMultipartFile(t, writer, "mri", "scan.png", "image/png", []byte("png-bytes"))
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	resp := doRequest(t, router, http.MethodPost, "/screen/combined", body, writer.FormDataContentType())

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var decoded struct {
		FinalDecision      string  `json:"finalDecision"`
		CombinedConfidence float64 `json:"combinedConfidence"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if decoded.FinalDecision != "healthy" {
		t.Fatalf("expected healthy, got %q", decoded.FinalDecision)
	}
	if decoded.CombinedConfidence < 0.59 || decoded.CombinedConfidence > 0.61 {
		t.Fatalf("expected combined confidence near 0.6, got %f", decoded.CombinedConfidence)
	}
}

func csvFixture() string {
	fields := []string{
		"119.992", "157.302", "74.997", "0.00784", "0.00007", "0.00370", "0.00554",
		"0.01109", "0.04374", "0.426", "0.02182", "0.03130", "0.02971", "0.06545",
		"0.02211", "21.033", "0.414783", "0.815285", "-4.813031", "0.266482",
		"2.301442", "0.284654",
	}
	return strings.Join(fields, ",")
}

// doRequest issues an authenticated request against the test router.
func doRequest(t *testing.T, router *gin.Engine, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "user-123"))

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func buildMultipartBody(t *testing.T, field, filename, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	writeMultipartFile(t, writer, field, filename, contentType, payload)
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func writeMultipartFile(t *testing.T, writer *multipart.Writer, field, filename, contentType string, payload []byte) {
	t.Helper()

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}
}

func buildTestToken(t *testing.T, subject string) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
