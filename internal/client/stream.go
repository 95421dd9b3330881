package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/northwind-digital/agency/internal/identity"
)

// eventStream is one running /auth/v1/events reader.
type eventStream struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// ensureStream starts the reader when listeners exist, a token is stored and
// none is running.
func (c *IdentityClient) ensureStream() {
	token := c.AccessToken()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.stream != nil || len(c.listeners) == 0 || token == "" {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &eventStream{cancel: cancel, done: make(chan struct{})}
	c.stream = s
	go c.runStream(ctx, s, token)
}

// stopStream cancels the reader and waits for it to exit.
func (c *IdentityClient) stopStream() {
	c.mu.Lock()
	s := c.stream
	c.stream = nil
	c.mu.Unlock()
	if s == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (c *IdentityClient) runStream(ctx context.Context, s *eventStream, token string) {
	defer close(s.done)
	defer func() {
		c.mu.Lock()
		if c.stream == s {
			c.stream = nil
		}
		c.mu.Unlock()
	}()

	for ctx.Err() == nil {
		next, ended, err := c.readStream(ctx, token)
		if ended {
			return
		}
		token = next
		if err != nil && ctx.Err() == nil {
			c.logger.Warn("session event stream", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.retryDelay):
		}
	}
}

// readStream consumes one connection. It returns the token to reconnect with
// and whether the session is over.
func (c *IdentityClient) readStream(ctx context.Context, token string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/events", nil)
	if err != nil {
		return token, true, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := c.http.Do(req)
	if err != nil {
		return token, false, err
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		c.endSession(ctx)
		return token, true, nil
	default:
		return token, false, fmt.Errorf("client: events: %w", identityError(res))
	}

	scanner := bufio.NewScanner(res.Body)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	var name, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if name == "" {
				continue
			}
			ev, ok := c.decodeEvent(name, data)
			name, data = "", ""
			if !ok {
				continue
			}
			switch ev.Kind {
			case identity.EventSignedOut:
				c.endSession(ctx)
				return token, true, nil
			case identity.EventTokenRefreshed:
				if ev.Session == nil {
					continue
				}
				token = ev.Session.AccessToken
				if err := c.tokens.Save(ev.Session); err != nil {
					c.logger.Warn("save refreshed session", slog.Any("error", err))
				}
				if ctx.Err() == nil {
					c.emit(ev)
				}
			}
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	return token, false, scanner.Err()
}

func (c *IdentityClient) decodeEvent(name, data string) (identity.Event, bool) {
	var ev identity.Event
	if data != "" {
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			c.logger.Warn("decode session event", slog.String("event", name), slog.Any("error", err))
			return ev, false
		}
	}
	if ev.Kind == "" {
		ev.Kind = identity.EventKind(name)
	}
	return ev, true
}

// endSession forgets the token after the server ended the session and tells
// listeners, unless the stream was stopped locally.
func (c *IdentityClient) endSession(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := c.tokens.Clear(); err != nil {
		c.logger.Warn("clear ended session", slog.Any("error", err))
	}
	c.emit(identity.Event{Kind: identity.EventSignedOut})
}
