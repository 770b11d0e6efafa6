package recommend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"mangashelf/internal/apperr"
	"mangashelf/internal/logging"
)

// RemoteConfig points at an external engine speaking the same Input/Result
// JSON contract.
type RemoteConfig struct {
	URL       string
	Timeout   time.Duration
	Failures  uint32
	OpenDelay time.Duration
}

// RemoteEngine posts to an external engine through a circuit breaker. Every
// failure, including a rejected call while the breaker is open, surfaces as
// an upstream error.
type RemoteEngine struct {
	url    string
	client *http.Client
	cb     *gobreaker.CircuitBreaker[Result]
}

func NewRemoteEngine(cfg RemoteConfig) *RemoteEngine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Failures == 0 {
		cfg.Failures = 3
	}
	if cfg.OpenDelay <= 0 {
		cfg.OpenDelay = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker[Result](gobreaker.Settings{
		Name:        "recommend-engine",
		MaxRequests: 1,
		Timeout:     cfg.OpenDelay,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})

	return &RemoteEngine{
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout},
		cb:     cb,
	}
}

func (e *RemoteEngine) Recommend(ctx context.Context, in Input) (Result, error) {
	res, err := e.cb.Execute(func() (Result, error) {
		return e.post(ctx, in)
	})
	if err != nil {
		logging.Warn().Err(err).Str("url", e.url).Msg("remote engine failed")
		return Result{}, apperr.Upstream(err)
	}
	return res, nil
}

// State reports the breaker state for readiness checks.
func (e *RemoteEngine) State() gobreaker.State {
	return e.cb.State()
}

func (e *RemoteEngine) post(ctx context.Context, in Input) (Result, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return Result{}, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("post engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("engine status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("decode engine response: %w", err)
	}
	return out, nil
}
