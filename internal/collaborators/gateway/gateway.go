// Package gateway is the HTTP client for the WhatsApp Business messaging
// provider. Nothing in the example pack talks HTTP to a third party the way
// this system needs to, so this leans on net/http directly rather than
// reaching for a client library the pack never demonstrates — see
// DESIGN.md's collaborator entries.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/arvind-mehta/orderflow-core/internal/platform/backoffx"
)

// Client sends rendered messages to the configured WhatsApp Business
// number and satisfies notifier.Sender.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type sendRequest struct {
	ChannelID string `json:"channel_id"`
	Message   string `json:"message"`
}

// Send delivers one message, retrying transient (5xx or network) failures
// with exponential backoff for up to three attempts in total before
// surfacing an error to
// the notifier consumer's own retry loop.
func (c *Client) Send(ctx context.Context, channelID, message string) error {
	_, err := backoffx.Retry(ctx, 200*time.Millisecond, 3, func() (struct{}, error) {
		return struct{}{}, c.sendOnce(ctx, channelID, message)
	})
	return err
}

func (c *Client) sendOnce(ctx context.Context, channelID, message string) error {
	body, err := json.Marshal(sendRequest{ChannelID: channelID, Message: message})
	if err != nil {
		return fmt.Errorf("gateway: encode send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: send message to %s: %w", channelID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("gateway: transient failure sending to %s: status %d", channelID, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return backoffx.Permanent(fmt.Errorf("gateway: rejected message to %s: status %d", channelID, resp.StatusCode))
	}
	return nil
}
