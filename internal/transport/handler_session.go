package transport

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/pitabwire/dbconsole/internal/access"
	"github.com/pitabwire/dbconsole/internal/controlplane"
	"github.com/pitabwire/dbconsole/model"
)

type loginRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	ExpiresIn string `json:"expiresIn,omitempty"`
}

type loginResponse struct {
	Token         string       `json:"token"`
	ExpiresAtTime string       `json:"expiresAtTime"`
	Username      string       `json:"username"`
	AccessRule    *access.Rule `json:"accessRule,omitempty"`
}

// handleLogin exchanges credentials for a control plane token and
// remembers the session's user and access rule.
func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		h.fail(w, r, model.NewBadRequestError("username and password are required"))
		return
	}
	expiresIn := req.ExpiresIn
	if expiresIn == "" {
		expiresIn = h.expiresIn
	}

	res, err := h.cp.Login(r.Context(), req.Username, req.Password, expiresIn)
	if controlplane.StatusCode(err) == http.StatusUnauthorized {
		h.fail(w, r, model.NewUnauthorizedError("Invalid username or password"))
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	expiresAt, err := res.ExpiresAt()
	if err != nil {
		h.logger.Warn("login expiry not parseable, using resolver ttl",
			zap.String("expiresAtTime", res.ExpiresAtTime), zap.Error(err))
	}

	rule := h.resolver.Fallback()
	if res.AccessRule != nil {
		rule = *res.AccessRule
	}
	h.resolver.RememberSession(res.Token, req.Username, rule, expiresAt)

	WriteJSON(w, http.StatusOK, loginResponse{
		Token:         res.Token,
		ExpiresAtTime: res.ExpiresAtTime,
		Username:      req.Username,
		AccessRule:    res.AccessRule,
	})
}

// handleLogout forgets the session. The token itself stays valid at the
// control plane until it expires.
func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	rctx, err := session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.resolver.Forget(rctx.Token)
	w.WriteHeader(http.StatusNoContent)
}
