package syncclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/cesargomez89/inkqueue/internal/constants"
	"github.com/cesargomez89/inkqueue/internal/domain"
	"github.com/cesargomez89/inkqueue/internal/http/dto"
)

// HTTPSource talks to a running server: the recovery snapshot over
// GET /api/jobs?active=true and events over the /ws/progress websocket.
type HTTPSource struct {
	Client  *http.Client
	Dialer  *websocket.Dialer
	BaseURL string
}

func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: constants.DefaultHTTPTimeout},
		Dialer:  websocket.DefaultDialer,
	}
}

func (s *HTTPSource) Snapshot(ctx context.Context) ([]*domain.JobRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/api/jobs?active=true", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot request failed: %s", resp.Status)
	}

	var recs []*domain.JobRecord
	if err := json.NewDecoder(resp.Body).Decode(&recs); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return recs, nil
}

func (s *HTTPSource) Subscribe(ctx context.Context) (Stream, error) {
	u, err := url.Parse(s.BaseURL + "/ws/progress")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	conn, _, err := s.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}

	ws := &wsStream{conn: conn, frames: make(chan dto.ProgressFrame), done: make(chan struct{})}
	go ws.read()
	return ws, nil
}

type wsStream struct {
	conn   *websocket.Conn
	frames chan dto.ProgressFrame
	done   chan struct{}
	err    error

	closeOnce sync.Once
}

func (w *wsStream) read() {
	defer close(w.frames)
	for {
		var frame dto.ProgressFrame
		if err := w.conn.ReadJSON(&frame); err != nil {
			w.err = err
			return
		}
		select {
		case w.frames <- frame:
		case <-w.done:
			return
		}
	}
}

// Next skips the server's own snapshot frame; the controller snapshots
// through Snapshot.
func (w *wsStream) Next(ctx context.Context) (domain.Event, error) {
	for {
		select {
		case <-ctx.Done():
			return domain.Event{}, ctx.Err()
		case frame, ok := <-w.frames:
			if !ok {
				if w.err != nil {
					return domain.Event{}, fmt.Errorf("%w: %v", ErrStreamClosed, w.err)
				}
				return domain.Event{}, ErrStreamClosed
			}
			if frame.Type == dto.FrameEvent && frame.Event != nil {
				return *frame.Event, nil
			}
		}
	}
}

func (w *wsStream) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.conn.Close()
	})
	return err
}
