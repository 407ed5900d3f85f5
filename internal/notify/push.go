package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vecino-labs/backend-vecino/internal/obs"
	"github.com/vecino-labs/backend-vecino/internal/queue"
)

// TaskKind identifies push notification jobs on the task queue.
const TaskKind = "push-notification"

type pushTask struct {
	DeviceToken string `json:"deviceToken"`
	Title       string `json:"title"`
	Body        string `json:"body"`
}

// Dispatcher hands push notifications off to the background queue. Delivery is
// best effort: a full queue or unreachable Redis surfaces as an error to the
// caller, which decides whether that matters.
type Dispatcher struct {
	Enqueuer queue.Enqueuer
	// MaxAttempts bounds delivery retries per notification; zero means the
	// queue's own default.
	MaxAttempts int
	Logger      zerolog.Logger
}

func (d Dispatcher) Send(ctx context.Context, deviceToken, title, body string) error {
	if deviceToken == "" {
		return errors.New("notify: device token is empty")
	}
	payload, err := json.Marshal(pushTask{DeviceToken: deviceToken, Title: title, Body: body})
	if err != nil {
		return err
	}
	err = d.Enqueuer.Enqueue(ctx, queue.Task{
		Kind:        TaskKind,
		Payload:     payload,
		MaxAttempts: d.MaxAttempts,
	})
	if err != nil {
		countDispatch("enqueue_error")
		return err
	}
	countDispatch("enqueued")
	return nil
}

// Sender delivers queued notifications to the push gateway.
type Sender struct {
	GatewayURL string
	Token      string
	Client     *http.Client
	Logger     zerolog.Logger
}

// NewSender builds a Sender with a traced HTTP client.
func NewSender(gatewayURL, token string, timeout time.Duration, logger zerolog.Logger) *Sender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sender{
		GatewayURL: gatewayURL,
		Token:      token,
		Client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Logger: logger,
	}
}

type gatewayRequest struct {
	To           string `json:"to"`
	Title        string `json:"title"`
	Body         string `json:"body"`
	CollapseKey  string `json:"collapseKey,omitempty"`
	TimeToLiveMS int64  `json:"ttlMs,omitempty"`
}

// Deliver is the queue handler for push tasks. Gateway 5xx responses return an
// error so the queue retries; 4xx responses drop the task since retrying a
// rejected token will never succeed.
func (s *Sender) Deliver(ctx context.Context, t queue.Task) error {
	var task pushTask
	if err := json.Unmarshal(t.Payload, &task); err != nil {
		s.Logger.Warn().Err(err).Msg("push task payload is not valid JSON, dropping")
		return nil
	}
	if task.DeviceToken == "" {
		s.Logger.Warn().Msg("push task has no device token, dropping")
		return nil
	}

	body, err := json.Marshal(gatewayRequest{To: task.DeviceToken, Title: task.Title, Body: task.Body})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.GatewayURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		countDispatch("gateway_unreachable")
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		countDispatch("delivered")
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		countDispatch("rejected")
		s.Logger.Warn().Int("status", resp.StatusCode).Msg("push gateway rejected notification, dropping")
		return nil
	default:
		countDispatch("gateway_error")
		return fmt.Errorf("push gateway returned status %d", resp.StatusCode)
	}
}

func countDispatch(result string) {
	if obs.PushDispatchTotal != nil {
		obs.PushDispatchTotal.WithLabelValues(result).Inc()
	}
}
