// Package gatewayclient is the external gateway worker (spec §1, §2): a
// process that polls the scheduler's HTTP surface for claimed work,
// simulates delivery with a deterministic mock outcome (no real
// platform send is made), and reports the outcome back. The scheduler core never imports this package — it is
// exercised only through the HTTP contract in spec §6.
package gatewayclient

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Message mirrors the payload returned by POST /gateway/claim.
type Message struct {
	ID           uuid.UUID `json:"id"`
	ToHandle     string    `json:"to_handle"`
	Body         string    `json:"body"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// Client polls the scheduler API and simulates delivery over a mock side
// channel, adapted from the teacher's deterministic mock provider so the
// same message id always produces the same outcome across test runs.
type Client struct {
	baseURL      string
	gatewayID    string
	sharedSecret string
	pollInterval time.Duration
	httpClient   *http.Client
	logger       *zap.Logger

	successRate  float64
	tempFailRate float64
	latencyMs    int
}

func New(baseURL, gatewayID, sharedSecret string, pollInterval time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:      baseURL,
		gatewayID:    gatewayID,
		sharedSecret: sharedSecret,
		pollInterval: pollInterval,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		logger:       logger,
		successRate:  0.9,
		tempFailRate: 0.08,
		latencyMs:    50,
	}
}

// Run polls /gateway/claim on pollInterval until ctx is canceled.
func (c *Client) Run(ctx context.Context) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	c.logger.Info("gateway client started",
		zap.String("gateway_id", c.gatewayID), zap.Duration("poll_interval", c.pollInterval))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("gateway client stopped")
			return
		case <-ticker.C:
			c.pollOnce(ctx)
		}
	}
}

func (c *Client) pollOnce(ctx context.Context) {
	msg, ok, err := c.claim(ctx)
	if err != nil {
		c.logger.Error("claim failed", zap.Error(err))
		return
	}
	if !ok {
		return
	}

	c.logger.Info("claimed message", zap.String("message_id", msg.ID.String()), zap.String("to_handle", msg.ToHandle))

	outcome, sendErr := c.deliver(msg)
	if sendErr != nil {
		if err := c.report(ctx, msg.ID, "FAILED", sendErr.Error()); err != nil {
			c.logger.Error("report failed", zap.Error(err))
		}
		return
	}

	if err := c.report(ctx, msg.ID, outcome, ""); err != nil {
		c.logger.Error("report failed", zap.Error(err))
	}
}

// deliver simulates a platform send, returning the reported status and,
// on failure, an error whose message becomes the report's error field.
func (c *Client) deliver(msg Message) (string, error) {
	time.Sleep(time.Duration(c.latencyMs) * time.Millisecond)

	hash := md5.Sum(msg.ID[:])
	value := float64(hash[0]) / 255.0

	switch {
	case value < c.successRate:
		return "SENT", nil
	case value < c.successRate+c.tempFailRate:
		return "", fmt.Errorf("temporary delivery failure: side-channel timeout (%s)", providerRef(msg.ID))
	default:
		return "", fmt.Errorf("permanent delivery failure: recipient unreachable (%s)", providerRef(msg.ID))
	}
}

func providerRef(id uuid.UUID) string {
	hash := md5.Sum(id[:])
	return "ref_" + hex.EncodeToString(hash[:])[:12]
}

func (c *Client) claim(ctx context.Context) (Message, bool, error) {
	body, _ := json.Marshal(map[string]string{"gateway_id": c.gatewayID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/gateway/claim", bytes.NewReader(body))
	if err != nil {
		return Message{}, false, err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Message{}, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return Message{}, false, nil
	case http.StatusOK:
		var msg Message
		if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
			return Message{}, false, err
		}
		return msg, true, nil
	default:
		return Message{}, false, fmt.Errorf("claim returned unexpected status %d", resp.StatusCode)
	}
}

func (c *Client) report(ctx context.Context, messageID uuid.UUID, status, errMsg string) error {
	payload := map[string]any{
		"message_id": messageID,
		"status":     status,
	}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/gateway/report", bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("report returned unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gateway-Secret", c.sharedSecret)
}

