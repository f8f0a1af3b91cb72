package relay

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
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/duet/core/dialogue"
	"github.com/koscakluka/duet/core/store"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var _ store.Backend = (*Client)(nil)

// Client is a store.Backend backed by a remote relay server.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	dialer     *websocket.Dialer
}

type ClientOption func(*Client)

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

func WithDialer(dialer *websocket.Dialer) ClientOption {
	return func(c *Client) {
		c.dialer = dialer
	}
}

func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("relay url %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		dialer:     websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) GetOrCreateSession(ctx context.Context, dateKey, topic string) (string, error) {
	var resp createSessionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", createSessionRequest{DateKey: dateKey, Topic: topic}, &resp); err != nil {
		return "", fmt.Errorf("get or create session %s: %w", dateKey, err)
	}
	return resp.ID, nil
}

func (c *Client) LoadSession(ctx context.Context, dateKey string) (*dialogue.Session, []dialogue.Turn, error) {
	var resp sessionResponse
	if err := c.do(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(dateKey), nil, &resp); err != nil {
		return nil, nil, fmt.Errorf("load session %s: %w", dateKey, err)
	}
	return &resp.Session, resp.Turns, nil
}

func (c *Client) AppendTurn(ctx context.Context, sessionID string, turn dialogue.Turn) error {
	if err := c.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(sessionID)+"/turns", turn, nil); err != nil {
		return fmt.Errorf("append turn %d: %w", turn.Order, err)
	}
	return nil
}

func (c *Client) ListSessions(ctx context.Context) ([]dialogue.Session, error) {
	var resp sessionsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/history", nil, &resp); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return resp.Sessions, nil
}

func (c *Client) SessionTurns(ctx context.Context, sessionID string) ([]dialogue.Turn, error) {
	var resp turnsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/history/"+url.PathEscape(sessionID)+"/turns", nil, &resp); err != nil {
		return nil, fmt.Errorf("session turns %s: %w", sessionID, err)
	}
	return resp.Turns, nil
}

// Subscribe holds a websocket open until unsubscribe is called or ctx is
// cancelled. A connection that drops, or that the server closes, ends the
// subscription through onLost.
func (c *Client) Subscribe(ctx context.Context, sessionID string, onTurn func(dialogue.Turn), onLost func(error)) (func(), error) {
	streamURL := *c.baseURL
	streamURL.Path += "/v1/sessions/" + url.PathEscape(sessionID) + "/stream"
	switch streamURL.Scheme {
	case "https":
		streamURL.Scheme = "wss"
	default:
		streamURL.Scheme = "ws"
	}

	conn, resp, err := c.dialer.DialContext(ctx, streamURL.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("open stream for %s: %w", sessionID, statusError(resp))
		}
		return nil, fmt.Errorf("open stream for %s: %w", sessionID, err)
	}

	var closing atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			msgType, msg, err := conn.ReadMessage()
			if err != nil {
				if closing.Load() || ctx.Err() != nil {
					return
				}
				logger.WarnContext(ctx, "stream lost", "session", sessionID, "error", err)
				if onLost != nil {
					onLost(fmt.Errorf("read stream for %s: %w", sessionID, err))
				}
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}

			var turn dialogue.Turn
			if err := json.Unmarshal(msg, &turn); err != nil {
				logger.WarnContext(ctx, "dropping malformed turn", "session", sessionID, "error", err)
				continue
			}
			onTurn(turn)
		}
	}()

	var once sync.Once
	closeConn := func() {
		once.Do(func() {
			closing.Store(true)
			closingMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, closingMsg, time.Now().Add(time.Second))
			_ = conn.Close()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	return func() {
		closeConn()
		<-done
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	ctx, span := tracer.Start(ctx, "relay request", trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("relay.path", path),
	))
	defer span.End()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return recordError(span, fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return recordError(span, fmt.Errorf("create request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return recordError(span, fmt.Errorf("send request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		err := statusError(resp)
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrConflict) {
			return err
		}
		return recordError(span, err)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return recordError(span, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func statusError(resp *http.Response) error {
	var body errorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body)
	message := body.Error
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", message, store.ErrNotFound)
	case http.StatusConflict:
		return fmt.Errorf("%s: %w", message, store.ErrConflict)
	default:
		return fmt.Errorf("relay responded %d: %s", resp.StatusCode, message)
	}
}

func recordError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
