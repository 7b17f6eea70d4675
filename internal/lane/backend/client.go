// Package backend is the lane's resilient client for the parking-log
// service. Every call is retried a bounded number of times with a fixed
// backoff; business answers (not found, conflict, bad request) are
// returned immediately as typed results and never retried. Mutating calls
// that fail because the backend cannot be reached are handed to the
// offline queue for later replay.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/clock"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/queue"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/types"
)

var (
	ErrInvalidPlate  = errors.New("license plate is required")
	ErrInvalidCardID = errors.New("card id is required")
	ErrInvalidLogID  = errors.New("log id is required")
	ErrUnreachable   = errors.New("backend unreachable")
	ErrRejected      = errors.New("backend rejected request")
	ErrQueueDisabled = errors.New("offline queue disabled")
)

// maxResponseBody caps how much of a response is read. Parking-log
// documents are a few hundred bytes.
const maxResponseBody = 1 << 20

type Config struct {
	BaseURL    string
	HealthPath string

	// Timeout bounds a single HTTP attempt.
	Timeout       time.Duration
	HealthTimeout time.Duration

	// MaxAttempts is the number of immediate tries per call.
	MaxAttempts int

	ConnectBackoff time.Duration
	ErrorBackoff   time.Duration

	// QueueOnTimeout also queues mutating calls whose last attempt timed
	// out. Off by default: a timeout may mean the backend is slow and the
	// write already landed.
	QueueOnTimeout bool
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:3001/api/parking/logs"
	}
	if c.HealthPath == "" {
		c.HealthPath = "/api/health"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = 3 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.ConnectBackoff < 0 {
		c.ConnectBackoff = 0
	}
	if c.ErrorBackoff < 0 {
		c.ErrorBackoff = 0
	}
	return c
}

// OfflineQueue is the subset of the offline queue the client needs.
type OfflineQueue interface {
	Enqueue(ctx context.Context, req types.QueuedRequest) error
	Drain(ctx context.Context, replay queue.ReplayFunc) (queue.DrainReport, error)
	Size() int
}

type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client
	queue   OfflineQueue
	backoff fixedBackoff
	log     zerolog.Logger
}

// New builds a client. q may be nil, in which case nothing is ever queued.
func New(cfg Config, q OfflineQueue, log zerolog.Logger) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		queue:   q,
		backoff: fixedBackoff{
			attempts: cfg.MaxAttempts,
			connect:  cfg.ConnectBackoff,
			other:    cfg.ErrorBackoff,
		},
		log: log.With().Str("component", "backend").Logger(),
	}
}

// ── Operations ───────────────────────────────────────────────────────────────

// RecordEntry creates the parking session for a vehicle entering. The
// returned error is non-nil only for invalid arguments or a cancelled ctx;
// every backend answer is expressed in the Decision.
func (c *Client) RecordEntry(ctx context.Context, plate, cardID, imagePath string) (types.Decision, error) {
	plate = strings.TrimSpace(plate)
	cardID = strings.TrimSpace(cardID)
	if plate == "" {
		return types.Decision{}, ErrInvalidPlate
	}
	if cardID == "" {
		return types.Decision{}, ErrInvalidCardID
	}

	body, err := json.Marshal(types.EntryRequest{
		LicensePlate: plate,
		CardID:       cardID,
		Image:        imagePath,
		EntryTime:    time.Now().UnixMilli(),
	})
	if err != nil {
		return types.Decision{}, fmt.Errorf("encode entry: %w", err)
	}

	var files []string
	if imagePath != "" {
		files = []string{imagePath}
	}

	c.log.Info().Str("plate", plate).Str("card_id", cardID).Msg("recording entry")

	res := c.call(ctx, request{method: http.MethodPost, body: body, files: files}, true)
	if res.err != nil {
		return types.Unreachable(false), res.err
	}

	switch res.kind {
	case resultSuccess:
		if !res.env.Success && res.env.Error != nil {
			code, reason := res.env.rejection("entry refused")
			return types.Rejected(code, reason), nil
		}
		s, _ := res.env.session()
		return types.Accepted(s), nil
	case resultRejected:
		code, reason := res.env.rejection(http.StatusText(res.status))
		return types.Rejected(code, reason), nil
	case resultNotFound:
		return types.Rejected("NOT_FOUND", "entry endpoint not found"), nil
	default:
		return types.Unreachable(res.queued), nil
	}
}

// FindActiveSessionByCard looks up the session currently held by cardID.
// Absence is (zero, false, nil). Lookups are never queued; an unreachable
// backend is reported as an error wrapping ErrUnreachable.
func (c *Client) FindActiveSessionByCard(ctx context.Context, cardID string) (types.ParkingSession, bool, error) {
	cardID = strings.TrimSpace(cardID)
	if cardID == "" {
		return types.ParkingSession{}, false, ErrInvalidCardID
	}

	c.log.Info().Str("card_id", cardID).Msg("finding parking log for card")

	res := c.call(ctx, request{method: http.MethodGet, query: url.Values{"cardId": {cardID}}}, false)
	if res.err != nil {
		return types.ParkingSession{}, false, res.err
	}

	switch res.kind {
	case resultSuccess:
		sessions, err := res.env.sessions()
		if err != nil {
			return types.ParkingSession{}, false, fmt.Errorf("decode parking logs: %w", err)
		}
		for _, s := range sessions {
			if s.CardID == "" || s.CardID == cardID {
				c.log.Info().Str("card_id", cardID).Str("plate", s.LicensePlate).Msg("found parking log")
				return s, true, nil
			}
		}
		c.log.Warn().Str("card_id", cardID).Msg("no parking log found for card")
		return types.ParkingSession{}, false, nil
	case resultNotFound:
		return types.ParkingSession{}, false, nil
	case resultRejected:
		_, reason := res.env.rejection(http.StatusText(res.status))
		return types.ParkingSession{}, false, fmt.Errorf("%w: %s", ErrRejected, reason)
	default:
		return types.ParkingSession{}, false, fmt.Errorf("%w: lookup card %s", ErrUnreachable, cardID)
	}
}

// DeleteSession ends the session logID (vehicle exit).
func (c *Client) DeleteSession(ctx context.Context, logID string) (types.Decision, error) {
	logID = strings.TrimSpace(logID)
	if logID == "" {
		return types.Decision{}, ErrInvalidLogID
	}

	c.log.Info().Str("log_id", logID).Msg("deleting parking log")

	res := c.call(ctx, request{method: http.MethodDelete, endpoint: logID}, true)
	if res.err != nil {
		return types.Unreachable(false), res.err
	}

	switch res.kind {
	case resultSuccess:
		if !res.env.Success && res.env.Error != nil {
			code, reason := res.env.rejection("delete refused")
			return types.Rejected(code, reason), nil
		}
		return types.Deleted(), nil
	case resultNotFound:
		return types.NotFound(), nil
	case resultRejected:
		code, reason := res.env.rejection(http.StatusText(res.status))
		return types.Rejected(code, reason), nil
	default:
		return types.Unreachable(res.queued), nil
	}
}

// DrainQueue replays every queued request through the live call path.
// Replays never enqueue; a request that still cannot be delivered stays
// in the queue with its retry count incremented.
func (c *Client) DrainQueue(ctx context.Context) (queue.DrainReport, error) {
	if c.queue == nil {
		return queue.DrainReport{}, ErrQueueDisabled
	}
	return c.queue.Drain(ctx, c.Replay)
}

// Replay re-issues one queued request. Success, not-found and business
// rejections all count as landed: the backend has answered and asking
// again cannot change the answer.
func (c *Client) Replay(ctx context.Context, req types.QueuedRequest) error {
	res := c.call(ctx, request{
		method:   req.Method,
		endpoint: req.Endpoint,
		body:     req.Payload,
		files:    req.AttachedFiles,
	}, false)
	if res.err != nil {
		return res.err
	}
	switch res.kind {
	case resultSuccess, resultNotFound:
		return nil
	case resultRejected:
		code, reason := res.env.rejection(http.StatusText(res.status))
		c.log.Warn().Str("request_id", req.ID).Str("code", code).Str("reason", reason).
			Msg("queued request rejected by backend, discarding")
		return nil
	default:
		// Backend gone again: end the pass here.
		return fmt.Errorf("%w: %w: replay %s %s (%s)", ErrUnreachable, queue.ErrStopDrain, req.Method, req.Endpoint, res.lastFailure)
	}
}

// QueueSize reports the number of queued requests (0 when disabled).
func (c *Client) QueueSize() int {
	if c.queue == nil {
		return 0
	}
	return c.queue.Size()
}

// HealthCheck reports whether the backend answers its health endpoint.
func (c *Client) HealthCheck(ctx context.Context) bool {
	u, err := c.healthURL()
	if err != nil {
		c.log.Error().Err(err).Msg("bad health url")
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("url", u).Msg("health check failed")
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
	return resp.StatusCode == http.StatusOK
}

func (c *Client) healthURL() (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(c.cfg.HealthPath)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if !strings.HasPrefix(ref.Path, "/") {
		ref.Path = "/" + ref.Path
	}
	return base.ResolveReference(ref).String(), nil
}

// ── Call path ────────────────────────────────────────────────────────────────

type resultKind int

const (
	resultSuccess resultKind = iota
	resultNotFound
	resultRejected
	resultUnreachable
)

type request struct {
	method   string
	endpoint string
	query    url.Values
	body     []byte
	files    []string
}

type callResult struct {
	kind        resultKind
	status      int
	env         envelope
	lastFailure failureClass
	queued      bool
	err         error
}

func (c *Client) url(r request) string {
	u := c.baseURL
	if r.endpoint != "" {
		u += "/" + url.PathEscape(r.endpoint)
	}
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}
	return u
}

// call runs the bounded retry loop for r. When enqueue is set and the
// backend stayed unreachable, the request is handed to the offline queue.
func (c *Client) call(ctx context.Context, r request, enqueue bool) callResult {
	target := c.url(r)

	var last failureClass
	for attempt := 1; ; attempt++ {
		c.log.Debug().Str("method", r.method).Str("url", target).Int("attempt", attempt).Msg("backend request")

		res, class, err := c.attempt(ctx, r, target)
		if class == failNone {
			return res
		}
		if ctx.Err() != nil {
			return callResult{kind: resultUnreachable, lastFailure: class, err: ctx.Err()}
		}
		last = class

		c.log.Error().Err(err).
			Str("method", r.method).
			Str("url", target).
			Str("class", class.String()).
			Int("attempt", attempt).
			Int("max_attempts", c.cfg.MaxAttempts).
			Msg("backend request failed")

		delay, again := c.backoff.next(attempt, class)
		if !again {
			break
		}
		if err := clock.Sleep(ctx, delay); err != nil {
			return callResult{kind: resultUnreachable, lastFailure: last, err: err}
		}
	}

	c.log.Error().Str("method", r.method).Str("url", target).Int("attempts", c.cfg.MaxAttempts).
		Msg("failed to complete request after retries")

	out := callResult{kind: resultUnreachable, lastFailure: last}
	if enqueue && c.shouldQueue(last) {
		out.queued = c.enqueue(ctx, r)
	}
	return out
}

func (c *Client) shouldQueue(last failureClass) bool {
	if c.queue == nil {
		return false
	}
	return last == failConnect || (last == failTimeout && c.cfg.QueueOnTimeout)
}

func (c *Client) enqueue(ctx context.Context, r request) bool {
	err := c.queue.Enqueue(context.WithoutCancel(ctx), types.QueuedRequest{
		Method:        r.method,
		Endpoint:      r.endpoint,
		Payload:       json.RawMessage(r.body),
		AttachedFiles: r.files,
	})
	if err != nil {
		// Still held in memory; the next successful save will persist it.
		c.log.Error().Err(err).Str("method", r.method).Msg("queued request not persisted")
	}
	return true
}

// attempt performs one HTTP exchange and classifies it.
func (c *Client) attempt(ctx context.Context, r request, target string) (callResult, failureClass, error) {
	var body io.Reader
	if len(r.body) > 0 {
		body = bytes.NewReader(r.body)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return callResult{}, failOther, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return callResult{}, classifyTransportError(err), err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return callResult{}, classifyTransportError(err), fmt.Errorf("read response: %w", err)
	}
	env, _ := decodeEnvelope(raw)

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated ||
		resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusAccepted:
		if resp.StatusCode == http.StatusNoContent {
			env.Success = true
		}
		c.log.Info().Int("status", resp.StatusCode).Str("method", r.method).Msg("backend request successful")
		return callResult{kind: resultSuccess, status: resp.StatusCode, env: env}, failNone, nil

	case resp.StatusCode == http.StatusNotFound:
		c.log.Warn().Str("url", target).Msg("resource not found")
		return callResult{kind: resultNotFound, status: resp.StatusCode, env: env}, failNone, nil

	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusBadRequest:
		code, reason := env.rejection(http.StatusText(resp.StatusCode))
		c.log.Warn().Int("status", resp.StatusCode).Str("code", code).Str("reason", reason).Msg("backend rejected request")
		return callResult{kind: resultRejected, status: resp.StatusCode, env: env}, failNone, nil

	default:
		return callResult{}, failOther, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
}
