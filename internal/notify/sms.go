// internal/notify/sms.go
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// GatewayError is a non-2xx answer from the SMS gateway.
type GatewayError struct {
	Status int
	Body   string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("sms gateway returned %d: %s", e.Status, e.Body)
}

type SMSConfig struct {
	URL           string
	APIKey        string
	RatePerSecond float64
	HTTPTimeout   time.Duration
}

// SMSGateway delivers messages through an HTTP SMS provider. Calls are rate
// limited and pass through a circuit breaker.
type SMSGateway struct {
	cfg     SMSConfig
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

func NewSMSGateway(cfg SMSConfig, logger *slog.Logger) *SMSGateway {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sms")
	return &SMSGateway{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.HTTPTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "sms-gateway",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
		logger: logger,
	}
}

type smsPayload struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

func (g *SMSGateway) Send(ctx context.Context, phone, message string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		// Wait refuses up front when the next slot lies past the deadline.
		if _, ok := ctx.Deadline(); ok && ctx.Err() == nil {
			err = context.DeadlineExceeded
		}
		return fmt.Errorf("failed to wait for send slot: %w", err)
	}
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, g.post(ctx, phone, message)
	})
	return err
}

func (g *SMSGateway) post(ctx context.Context, phone, message string) error {
	body, err := json.Marshal(smsPayload{To: phone, Message: message})
	if err != nil {
		return fmt.Errorf("failed to marshal sms: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send sms: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &GatewayError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(text))}
	}
	return nil
}

// LogNotifier writes messages to the log instead of sending them.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "sms")}
}

func (n *LogNotifier) Send(_ context.Context, phone, message string) error {
	n.logger.Info("sms (not sent)", "to", phone, "message", message)
	return nil
}
