// Package client talks to the GeoQuest store server over HTTP. It
// implements the engine's Gateway, Library, and ChangeFeed contracts.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/playperu/geoquest/internal/batch"
	"github.com/playperu/geoquest/internal/engine"
	"github.com/playperu/geoquest/internal/geoquest"
)

type Client struct {
	base   string
	http   *http.Client
	stream *http.Client
	logger *slog.Logger
}

// New returns a client for the store at baseURL. A nil httpClient uses
// http.DefaultClient. Event streams share its transport but not its
// timeout.
func New(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   httpClient,
		stream: &http.Client{Transport: httpClient.Transport},
		logger: logger,
	}
}

var (
	_ engine.Gateway    = (*Client)(nil)
	_ engine.Library    = (*Client)(nil)
	_ engine.ChangeFeed = (*Client)(nil)
)

type apiError struct {
	Error string `json:"error"`
}

// do sends a JSON request and decodes a JSON response into out. Transport
// failures and 5xx responses wrap engine.ErrGatewayUnavailable; 404 maps to
// geoquest.ErrNotFound.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s %s: %w: %v", method, path, engine.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e apiError
		_ = json.NewDecoder(resp.Body).Decode(&e)
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%s %s: %w", method, path, geoquest.ErrNotFound)
		case resp.StatusCode >= 500:
			return fmt.Errorf("%s %s: %w: status %d", method, path, engine.ErrGatewayUnavailable, resp.StatusCode)
		default:
			return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, e.Error)
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func gamePath(id string) string { return "/api/games/" + url.PathEscape(id) }

func (c *Client) FetchGame(ctx context.Context, id string) (geoquest.Game, error) {
	var g geoquest.Game
	err := c.do(ctx, http.MethodGet, gamePath(id), nil, &g)
	return g, err
}

func (c *Client) PatchPoints(ctx context.Context, gameID string, patches []geoquest.Patch, meta geoquest.PatchMeta) (geoquest.Game, error) {
	var g geoquest.Game
	err := c.do(ctx, http.MethodPost, gamePath(gameID)+"/patch", geoquest.PatchRequest{Patches: patches, Meta: meta}, &g)
	return g, err
}

func (c *Client) SaveGame(ctx context.Context, g geoquest.Game) error {
	return c.do(ctx, http.MethodPut, gamePath(g.ID), g, nil)
}

func (c *Client) SaveGames(ctx context.Context, items []geoquest.Game, opts batch.Options) (batch.Result, error) {
	return batch.Save(ctx, items, opts, c.SaveGame)
}

func (c *Client) SaveTemplates(ctx context.Context, items []geoquest.TaskTemplate, opts batch.Options) (batch.Result, error) {
	return batch.Save(ctx, items, opts, func(ctx context.Context, t geoquest.TaskTemplate) error {
		return c.do(ctx, http.MethodPut, "/api/templates/"+url.PathEscape(t.ID), t, nil)
	})
}

func (c *Client) SaveLists(ctx context.Context, items []geoquest.TaskList, opts batch.Options) (batch.Result, error) {
	return batch.Save(ctx, items, opts, func(ctx context.Context, l geoquest.TaskList) error {
		return c.do(ctx, http.MethodPut, "/api/lists/"+url.PathEscape(l.ID), l, nil)
	})
}

func (c *Client) ListGames(ctx context.Context) ([]geoquest.Game, error) {
	var out []geoquest.Game
	err := c.do(ctx, http.MethodGet, "/api/games", nil, &out)
	return out, err
}

func (c *Client) ListTemplates(ctx context.Context) ([]geoquest.TaskTemplate, error) {
	var out []geoquest.TaskTemplate
	err := c.do(ctx, http.MethodGet, "/api/templates", nil, &out)
	return out, err
}

func (c *Client) ListLists(ctx context.Context) ([]geoquest.TaskList, error) {
	var out []geoquest.TaskList
	err := c.do(ctx, http.MethodGet, "/api/lists", nil, &out)
	return out, err
}

// Ping checks that the store answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", engine.ErrGatewayUnavailable, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health status %d", engine.ErrGatewayUnavailable, resp.StatusCode)
	}
	return nil
}
