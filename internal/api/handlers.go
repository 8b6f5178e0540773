package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/roach88/flowguard/internal/domain"
	"github.com/roach88/flowguard/internal/gateway"
	"github.com/roach88/flowguard/internal/integrity"
	"github.com/roach88/flowguard/internal/service"
	"github.com/roach88/flowguard/internal/store"
)

const claimsKey = "admin_claims"

// Kill switch actions accepted by POST /admin/integrity.
const (
	ActionSetEnforcement   = "set_enforcement"
	ActionEmergencyDisable = "emergency_disable"
	ActionEmergencyEnable  = "emergency_enable"
	ActionGetStatus        = "get_status"
)

// defaultReason is recorded when a change request carries no reason.
const defaultReason = "requested via admin API"

// IntegrityRequest is the body of POST /admin/integrity. Level is read only
// by set_enforcement.
type IntegrityRequest struct {
	Action string `json:"action" binding:"required"`
	Level  string `json:"level"`
	Reason string `json:"reason"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// gatewayAck is the acknowledgement the gateway expects. It is sent for
// every delivery so the gateway never retries a payload already in the
// inbox.
var gatewayAck = gin.H{"ResultCode": 0, "ResultDesc": "Accepted"}

func (s *Server) handleHealth(c *gin.Context) {
	h := s.app.Integrity.Health()
	code := http.StatusOK
	if err := s.app.Store.Ping(c.Request.Context()); err != nil {
		h.Status = "unhealthy"
		h.Issues = append(h.Issues, "database: "+err.Error())
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, h)
}

func (s *Server) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		slog.ErrorContext(c, "failed to read webhook body", "error", err)
		c.JSON(http.StatusBadRequest, errorResponse{Error: "unreadable body"})
		return
	}
	res, err := s.app.Webhooks.Handle(c.Request.Context(), body, c.GetHeader(gateway.SignatureHeader))
	if err != nil {
		slog.WarnContext(c, "webhook not applied", "error", err)
	} else {
		slog.InfoContext(c, "webhook applied", "inbox_id", res.InboxID, "status", res.Status)
	}
	c.JSON(http.StatusOK, gatewayAck)
}

func (s *Server) requireAdmin() gin.HandlerFunc {
	key := []byte(s.app.Config.AdminSigningKey)
	return func(c *gin.Context) {
		if len(key) == 0 {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorResponse{Error: "admin API disabled: no signing key configured"})
			return
		}
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: ErrMissingToken.Error()})
			return
		}
		claims, err := ParseAdminToken(key, token, s.app.Clock.Now())
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, ErrNotAdmin) {
				status = http.StatusForbidden
			}
			c.AbortWithStatusJSON(status, errorResponse{Error: err.Error()})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func adminClaims(c *gin.Context) *AdminClaims {
	return c.MustGet(claimsKey).(*AdminClaims)
}

func (s *Server) handleIntegrityStatus(c *gin.Context) {
	h, err := s.app.Admin.Status(c.Request.Context(), domain.ActorAdmin, adminClaims(c).Subject)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h)
}

func (s *Server) handleIntegrityChange(c *gin.Context) {
	var req IntegrityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	claims := adminClaims(c)
	ctx := c.Request.Context()
	if req.Action == ActionGetStatus {
		s.handleIntegrityStatus(c)
		return
	}
	if req.Reason == "" {
		req.Reason = defaultReason
	}

	var (
		stats integrity.Stats
		err   error
	)
	switch req.Action {
	case ActionSetEnforcement:
		level, perr := integrity.ParseLevel(req.Level)
		if perr != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: perr.Error()})
			return
		}
		stats, err = s.app.Admin.SetEnforcement(ctx, domain.ActorAdmin, service.EnforcementChange{
			Level:     level,
			Operator:  claims.Subject,
			Reason:    req.Reason,
			Emergency: claims.Emergency,
		})
	case ActionEmergencyDisable, ActionEmergencyEnable:
		if !claims.Emergency {
			c.JSON(http.StatusForbidden, errorResponse{Error: "emergency actions need an emergency token"})
			return
		}
		if req.Action == ActionEmergencyDisable {
			stats, err = s.app.Admin.EmergencyDisable(ctx, domain.ActorAdmin, claims.Subject, req.Reason)
		} else {
			stats, err = s.app.Admin.EmergencyEnable(ctx, domain.ActorAdmin, claims.Subject, req.Reason)
		}
	default:
		c.JSON(http.StatusBadRequest, errorResponse{Error: "unknown action " + strconv.Quote(req.Action)})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

type sessionResponse struct {
	Session *domain.Session        `json:"session"`
	Audit   []domain.AuditLogEntry `json:"audit"`
}

func (s *Server) handleSession(c *gin.Context) {
	ctx := c.Request.Context()
	sess, err := s.app.Store.GetSession(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	audit, err := s.app.Store.ListAudit(ctx, sess.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse{Session: sess, Audit: audit})
}

func (s *Server) handleInbox(c *gin.Context) {
	status := store.WebhookStatus(c.DefaultQuery("status", string(store.WebhookFailed)))
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
		return
	}
	recs, err := s.app.Store.ListWebhooks(c.Request.Context(), status, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, integrity.ErrConfigLocked), service.IsAuthorityViolation(err):
		status = http.StatusForbidden
	}
	if status == http.StatusInternalServerError {
		slog.ErrorContext(c, "admin request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, errorResponse{Error: err.Error()})
}
