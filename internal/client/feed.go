package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/playperu/geoquest/internal/engine"
	"github.com/playperu/geoquest/internal/geoquest"
)

// Subscribe opens the store's event stream for table (and rowID, when not
// empty) in the background. The subscription confirms when the server
// sends its "subscribed" event. A stream that cannot be opened never
// confirms; the failure is logged and Done is closed.
func (c *Client) Subscribe(ctx context.Context, table, rowID string, onEvent func(geoquest.ChangeEvent)) (engine.Subscription, error) {
	u := c.base + "/api/feed/" + url.PathEscape(table)
	if rowID != "" {
		u += "?id=" + url.QueryEscape(rowID)
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	s := &subscription{
		cancel:    cancel,
		confirmed: make(chan struct{}),
		done:      make(chan struct{}),
		logger:    c.logger.With("table", table, "row_id", rowID),
	}
	go func() {
		defer close(s.done)
		err := s.stream(c.stream, req, onEvent)
		if ctx.Err() == nil {
			s.logger.Warn("change feed ended", "error", err)
		}
	}()
	return s, nil
}

type subscription struct {
	cancel    context.CancelFunc
	confirmed chan struct{}
	once      sync.Once
	done      chan struct{}
	logger    *slog.Logger
}

func (s *subscription) Confirmed() <-chan struct{} { return s.confirmed }

func (s *subscription) Done() <-chan struct{} { return s.done }

// Unsubscribe closes the stream and waits for the reader to stop, so no
// event is delivered after it returns.
func (s *subscription) Unsubscribe() {
	s.cancel()
	<-s.done
}

func (s *subscription) stream(hc *http.Client, req *http.Request, onEvent func(geoquest.ChangeEvent)) error {
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", engine.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: feed status %d", engine.ErrGatewayUnavailable, resp.StatusCode)
	}

	var event, data string
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64<<10), 8<<20)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			s.dispatch(event, data, onEvent)
			event, data = "", ""
		case strings.HasPrefix(line, ":"):
			// comment, keep-alive
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			chunk := strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
			if data != "" {
				data += "\n"
			}
			data += chunk
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return engine.ErrFeedClosed
}

func (s *subscription) dispatch(event, data string, onEvent func(geoquest.ChangeEvent)) {
	switch event {
	case "subscribed":
		s.once.Do(func() { close(s.confirmed) })
	case "change":
		var ev geoquest.ChangeEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			s.logger.Warn("dropping undecodable change event", "error", err)
			return
		}
		onEvent(ev)
	}
}
