package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/types"
)

// HTTPRecognizer delegates capture and OCR to a recognition sidecar on the
// same host. The sidecar owns the camera and the OCR pipeline:
//
//	POST {endpoint} {"position":"entry","lane_id":"lane_1"}
//	200 {"plate":"29A-123.45","confidence":0.87,"image":"/images/entry_....jpg"}
type HTTPRecognizer struct {
	endpoint  string
	laneID    string
	minConf   float64
	validator *PlateValidator
	http      *http.Client
	log       zerolog.Logger
}

type RecognizerConfig struct {
	Endpoint string
	LaneID   string
	Timeout  time.Duration
	// MinConfidence below which a result is logged as low confidence. It
	// is still returned; the backend has the final say.
	MinConfidence float64
}

type recognizeRequest struct {
	Position types.Position `json:"position"`
	LaneID   string         `json:"lane_id,omitempty"`
}

type recognizeResponse struct {
	Plate      string  `json:"plate"`
	Confidence float64 `json:"confidence"`
	Image      string  `json:"image"`
}

func NewHTTPRecognizer(cfg RecognizerConfig, v *PlateValidator, log zerolog.Logger) *HTTPRecognizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.6
	}
	return &HTTPRecognizer{
		endpoint:  cfg.Endpoint,
		laneID:    cfg.LaneID,
		minConf:   cfg.MinConfidence,
		validator: v,
		http:      &http.Client{Timeout: cfg.Timeout},
		log:       log.With().Str("driver", "http_recognizer").Logger(),
	}
}

func (r *HTTPRecognizer) CaptureAndRecognize(ctx context.Context, pos types.Position) (string, string, error) {
	body, err := json.Marshal(recognizeRequest{Position: pos, LaneID: r.laneID})
	if err != nil {
		return "", "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("build recognize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		return "", "", fmt.Errorf("%w: recognizer: %v", ErrHardwareUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", "", fmt.Errorf("read recognizer response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("recognizer status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var out recognizeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", "", fmt.Errorf("decode recognizer response: %w", err)
	}

	plate := CleanOCR(out.Plate)
	r.log.Info().Str("raw", out.Plate).Str("plate", plate).Float64("confidence", out.Confidence).Msg("OCR result")

	if !r.validator.Valid(plate) {
		r.log.Warn().Str("plate", plate).Msg("invalid license plate format")
		return "", out.Image, ErrNoPlate
	}
	if out.Confidence < r.minConf {
		r.log.Warn().Str("plate", plate).Float64("confidence", out.Confidence).Msg("low confidence OCR result")
	}
	return plate, out.Image, nil
}

func (r *HTTPRecognizer) Close() error {
	r.http.CloseIdleConnections()
	return nil
}
