package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/disgoorg/snowflake/v2"

	"github.com/shi-gg/linkdave-go/client/protocol"
)

// Client pushes player-state mutations to the node and returns the
// resulting authoritative snapshots.
type Client interface {
	UpdatePlayer(ctx context.Context, sessionID string, guildID snowflake.ID, properties protocol.PlayerUpdateProperties) (protocol.Player, error)
	DestroyPlayer(ctx context.Context, sessionID string, guildID snowflake.ID) error
	UpdateSession(ctx context.Context, sessionID string, update protocol.SessionUpdate) error
}

// Error is a non-2xx node response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("node returned status %d: %s", e.Status, e.Message)
}

type Config struct {
	BaseURL    string
	Passphrase string
	HTTPClient *http.Client
}

type client struct {
	logger     *slog.Logger
	baseURL    string
	passphrase string
	httpClient *http.Client
}

func NewClient(logger *slog.Logger, config Config) Client {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &client{
		logger:     logger,
		baseURL:    config.BaseURL,
		passphrase: config.Passphrase,
		httpClient: httpClient,
	}
}

func (c *client) UpdatePlayer(ctx context.Context, sessionID string, guildID snowflake.ID, properties protocol.PlayerUpdateProperties) (protocol.Player, error) {
	path := fmt.Sprintf("/v1/sessions/%s/players/%s", sessionID, guildID)

	var player protocol.Player
	if err := c.do(ctx, http.MethodPatch, path, properties, &player); err != nil {
		return protocol.Player{}, fmt.Errorf("failed to update player: %w", err)
	}
	return player, nil
}

func (c *client) DestroyPlayer(ctx context.Context, sessionID string, guildID snowflake.ID) error {
	path := fmt.Sprintf("/v1/sessions/%s/players/%s", sessionID, guildID)

	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("failed to destroy player: %w", err)
	}
	return nil
}

func (c *client) UpdateSession(ctx context.Context, sessionID string, update protocol.SessionUpdate) error {
	path := fmt.Sprintf("/v1/sessions/%s", sessionID)

	if err := c.do(ctx, http.MethodPatch, path, update, nil); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.passphrase)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.readError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *client) readError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxMessageSize))

	var nodeErr protocol.Error
	if err := json.Unmarshal(data, &nodeErr); err == nil && nodeErr.Message != "" {
		return &Error{Status: resp.StatusCode, Message: nodeErr.Message}
	}
	return &Error{Status: resp.StatusCode, Message: string(data)}
}

const maxMessageSize = 64 * 1024
