package sqlbridge

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WebsocketPrefix is the bridge's transactional endpoint.
const WebsocketPrefix = "/api/ws/sql"

// readLimit bounds a single result message.
const readLimit = 16 << 20

// Session is a websocket connection to one schema. Requests may be issued
// concurrently; answers are matched to callers by request id. Statements on
// one session share a transaction until Commit or Rollback.
type Session struct {
	conn   *websocket.Conn
	target Target
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]chan *Response
	err     error
	done    chan struct{}
	cancel  context.CancelFunc
}

// Dial opens a session on t. The dial honours ctx; the session itself
// lives until Close or until the bridge drops it.
func (c *Client) Dial(ctx context.Context, t Target, creds Credentials) (*Session, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	u := c.base + t.path(WebsocketPrefix)
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	header := http.Header{}
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(creds.Username+":"+creds.Password)))

	hc := *c.http
	hc.Timeout = 0
	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		HTTPClient: &hc,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlbridge: dialing %s: %w", t, err)
	}
	conn.SetReadLimit(readLimit)

	readCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conn:    conn,
		target:  t,
		logger:  c.logger.With(zap.Stringer("target", t)),
		pending: map[string]chan *Response{},
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	go s.readLoop(readCtx)
	s.logger.Debug("sql session opened")
	return s, nil
}

func (s *Session) readLoop(ctx context.Context) {
	var err error
	defer func() { s.fail(err) }()
	for {
		var res Response
		if err = wsjson.Read(ctx, s.conn, &res); err != nil {
			return
		}
		s.mu.Lock()
		ch, ok := s.pending[res.RequestID]
		delete(s.pending, res.RequestID)
		s.mu.Unlock()
		if !ok {
			s.logger.Warn("sql response for unknown request", zap.String("request_id", res.RequestID))
			continue
		}
		ch <- &res
	}
}

// fail ends the session and releases every waiting caller.
func (s *Session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	if err == nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
		err = ErrClosed
	} else {
		err = fmt.Errorf("%w: %w", ErrClosed, err)
	}
	s.err = err
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
	close(s.done)
}

// Do sends op with args and waits for its answer. A FAILURE answer is
// returned together with an error wrapping ErrFailure.
func (s *Session) Do(ctx context.Context, op Operation, args ...any) (*Response, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOperation, op)
	}
	id := uuid.NewString()
	ch := make(chan *Response, 1)

	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return nil, err
	}
	s.pending[id] = ch
	s.mu.Unlock()

	if err := wsjson.Write(ctx, s.conn, Request{RequestID: id, Operation: op, Args: args}); err != nil {
		s.forget(id)
		return nil, fmt.Errorf("sqlbridge: sending %s: %w", op, err)
	}

	select {
	case res, ok := <-ch:
		if !ok {
			return nil, s.Err()
		}
		return res, res.Err()
	case <-ctx.Done():
		s.forget(id)
		return nil, ctx.Err()
	}
}

func (s *Session) forget(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// Commit ends the transaction.
func (s *Session) Commit(ctx context.Context) error {
	_, err := s.Do(ctx, Commit)
	return err
}

// Rollback undoes the transaction, or up to savepoint when one is named.
func (s *Session) Rollback(ctx context.Context, savepoint string) error {
	var args []any
	if savepoint != "" {
		args = append(args, savepoint)
	}
	_, err := s.Do(ctx, Rollback, args...)
	return err
}

// Savepoint sets a named savepoint.
func (s *Session) Savepoint(ctx context.Context, name string) error {
	_, err := s.Do(ctx, SetSavepoint, name)
	return err
}

// Target returns the schema the session is bound to.
func (s *Session) Target() Target { return s.target }

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why the session ended, nil while it is open.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the session. Uncommitted work is left to the bridge.
func (s *Session) Close() error {
	select {
	case <-s.done:
		s.cancel()
		return nil
	default:
	}
	err := s.conn.Close(websocket.StatusNormalClosure, "")
	s.cancel()
	<-s.done
	s.logger.Debug("sql session closed")
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return nil
	}
	return err
}
