package transport

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/dbconsole/internal/observability"
	"github.com/pitabwire/dbconsole/internal/sqlbridge"
	"github.com/pitabwire/dbconsole/model"
)

// sqlSessionReadLimit bounds one browser message.
const sqlSessionReadLimit = 1 << 20

// sqlLogin is the first message of a SQL session.
type sqlLogin struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func sqlTarget(r *http.Request) sqlbridge.Target {
	return sqlbridge.Target{
		Organization: chi.URLParam(r, "organization"),
		Project:      chi.URLParam(r, "project"),
		Database:     chi.URLParam(r, "database"),
		Schema:       chi.URLParam(r, "schema"),
	}
}

// originHosts turns configured CORS origins into websocket origin patterns.
func originHosts(origins []string) []string {
	var hosts []string
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
		}
	}
	return hosts
}

// handleSQLSession relays a transactional SQL session over a websocket.
// The browser sends the database login first, then one sqlbridge.Request
// per message; each answer carries the request's id. Statements share a
// transaction until COMMIT or ROLLBACK.
func (h *Handlers) handleSQLSession(w http.ResponseWriter, r *http.Request) {
	if h.sql == nil || !h.sqlSessions {
		h.fail(w, r, model.NewNotFoundError("SQL sessions are not enabled"))
		return
	}
	target := sqlTarget(r)
	if err := target.Validate(); err != nil {
		h.fail(w, r, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		observability.RequestLogger(r.Context(), h.logger).Warn("sql session upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(sqlSessionReadLimit)

	ctx := r.Context()
	logger := observability.RequestLogger(ctx, h.logger).With(zap.Stringer("target", target))

	var login sqlLogin
	if err := wsjson.Read(ctx, conn, &login); err != nil {
		return
	}
	sess, err := h.sql.Dial(ctx, target, sqlbridge.Credentials{Username: login.Username, Password: login.Password})
	if err != nil {
		logger.Warn("sql session refused", zap.Error(err))
		conn.Close(websocket.StatusPolicyViolation, "the SQL bridge refused the session")
		return
	}
	defer sess.Close()
	h.metrics.SQLSessionOpened()
	defer h.metrics.SQLSessionClosed()
	logger.Info("sql session opened")

	for {
		var req sqlbridge.Request
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				logger.Debug("sql session read ended", zap.Error(err))
			}
			return
		}

		res := h.runInSession(ctx, sess, req)
		if err := wsjson.Write(ctx, conn, res); err != nil {
			return
		}
		if sess.Err() != nil {
			conn.Close(websocket.StatusGoingAway, "the SQL bridge closed the session")
			return
		}
	}
}

// runInSession sends req on sess. Errors other than a FAILURE verdict are
// reported as FAILURE answers so the browser always gets one reply per
// request.
func (h *Handlers) runInSession(ctx context.Context, sess *sqlbridge.Session, req sqlbridge.Request) *sqlbridge.Response {
	ctx, span := observability.StartSpan(ctx, "sql.session",
		observability.AttrSQLTarget.String(sess.Target().String()),
	)
	res, err := sess.Do(ctx, req.Operation, req.Args...)
	failed := errors.Is(err, sqlbridge.ErrFailure)
	op := string(req.Operation)
	if !req.Operation.Valid() {
		op = "invalid"
	}
	h.metrics.RecordSQL("session", op, err, failed)
	if err != nil && !failed {
		observability.EndSpanWithError(span, err)
	} else {
		span.End()
	}
	if res == nil {
		res = &sqlbridge.Response{Status: sqlbridge.StatusFailure, Error: err.Error()}
	}
	res.RequestID = req.RequestID
	return res
}
