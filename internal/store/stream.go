package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// streamClient watches Realtime Database subtrees over the REST streaming
// protocol (server-sent events). Each watch holds one long-lived HTTP
// connection; the server pushes "put" and "patch" events for every change
// under the requested path.
type streamClient struct {
	baseURL    string
	tokens     oauth2.TokenSource
	httpClient *http.Client
}

func newStreamClient(databaseURL string, ts oauth2.TokenSource) *streamClient {
	return &streamClient{
		baseURL:    strings.TrimSuffix(databaseURL, "/"),
		tokens:     ts,
		httpClient: &http.Client{},
	}
}

// streamEvent is the payload of a put or patch event.
type streamEvent struct {
	Path string          `json:"path"`
	Data json.RawMessage `json:"data"`
}

func (c *streamClient) watch(ctx context.Context, path string) (*Subscription, error) {
	watchCtx, stop := context.WithCancel(ctx)
	ch := make(chan Snapshot, 64)

	sub := NewSubscription(ch, stop)
	go func() {
		defer close(ch)
		c.run(watchCtx, strings.Trim(path, "/"), ch)
	}()
	return sub, nil
}

// run keeps the stream alive until the context ends, reconnecting with
// doubling backoff on transport failures and credential expiry.
func (c *streamClient) run(ctx context.Context, path string, ch chan<- Snapshot) {
	backoff := time.Second
	for {
		err := c.consume(ctx, path, ch)
		if ctx.Err() != nil {
			return
		}
		log.Printf("store: stream for %s interrupted, reconnecting in %s: %v", path, backoff, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// consume opens one streaming connection and forwards snapshots until the
// connection drops or the server revokes it.
func (c *streamClient) consume(ctx context.Context, path string, ch chan<- Snapshot) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if err := c.authorize(req); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return unavailable("stream "+path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return unavailable("stream "+path, fmt.Errorf("status %s", resp.Status))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var eventName string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if err := c.dispatch(ctx, eventName, data, path, ch); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return unavailable("stream "+path, err)
	}
	return unavailable("stream "+path, io.EOF)
}

func (c *streamClient) dispatch(ctx context.Context, event, data, path string, ch chan<- Snapshot) error {
	switch event {
	case "put", "patch":
		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("decode stream event: %w", err)
		}
		snap := Snapshot{Path: path}
		if ev.Path == "/" && event == "put" {
			// Root puts carry the whole subtree, including the initial
			// state on connect.
			if string(ev.Data) != "null" {
				snap.Data = ev.Data
			}
		} else {
			// A nested change arrived; re-read the subtree so every
			// delivery is a complete snapshot.
			full, err := c.fetch(ctx, path)
			if err != nil {
				return err
			}
			snap.Data = full
		}
		select {
		case ch <- snap:
		case <-ctx.Done():
			return ctx.Err()
		}
	case "auth_revoked":
		return fmt.Errorf("stream credentials revoked")
	case "cancel":
		return fmt.Errorf("stream cancelled by server")
		// keep-alive events carry nothing and are ignored
	}
	return nil
}

// fetch reads the current value of a subtree over plain REST.
func (c *streamClient) fetch(ctx context.Context, path string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return nil, err
	}
	if err := c.authorize(req); err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, unavailable("fetch "+path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, unavailable("fetch "+path, fmt.Errorf("status %s", resp.Status))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, unavailable("fetch "+path, err)
	}
	if string(body) == "null" {
		return nil, nil
	}
	return body, nil
}

func (c *streamClient) authorize(req *http.Request) error {
	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("stream token: %w", err)
	}
	token.SetAuthHeader(req)
	return nil
}

func (c *streamClient) url(path string) string {
	return c.baseURL + "/" + path + ".json"
}
