package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// StreamEvent is one change relayed by the API's stream endpoint.
type StreamEvent struct {
	Topic   string          `json:"topic"`
	Key     string          `json:"key"`
	Version int64           `json:"version"`
	Value   json.RawMessage `json:"value,omitempty"`
	Deleted bool            `json:"deleted,omitempty"`
}

func (c *Client) streamURL(topic string) (string, error) {
	u, err := url.Parse(c.BaseURL + "/v1/stream")
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"topic": {topic}}.Encode()
	return u.String(), nil
}

// Watch streams changes for topic into fn until ctx is done, the server
// closes the stream or fn returns an error.
func (c *Client) Watch(ctx context.Context, accessToken, topic string, fn func(StreamEvent) error) error {
	target, err := c.streamURL(topic)
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+accessToken)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			var env struct {
				Error string `json:"error"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&env)
			return &APIError{Status: resp.StatusCode, Message: env.Error}
		}
		return fmt.Errorf("open stream: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	for {
		var ev StreamEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}
