package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/thoughttree/agentbridge"
	"github.com/thoughttree/agentbridge/pending"
	"github.com/thoughttree/agentbridge/provider"
)

// statusFor maps an error to an HTTP status and a stable error code.
// Order matters: the more specific sentinels wrap the general ones.
func statusFor(err error) (int, string) {
	var phaseErr *agentbridge.PhaseError
	switch {
	case errors.Is(err, provider.ErrUnknownProvider):
		return http.StatusNotFound, "UNKNOWN_PROVIDER"
	case errors.Is(err, pending.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, agentbridge.ErrEmptyPrompt):
		return http.StatusBadRequest, "EMPTY_PROMPT"
	case errors.Is(err, agentbridge.ErrNotConfigured):
		return http.StatusBadRequest, "NOT_CONFIGURED"
	case errors.Is(err, provider.ErrVersionMismatch):
		return http.StatusUnprocessableEntity, "VERSION_MISMATCH"
	case errors.Is(err, agentbridge.ErrUnavailable):
		return http.StatusServiceUnavailable, "UNAVAILABLE"
	case errors.Is(err, agentbridge.ErrTerminated):
		return http.StatusConflict, "TERMINATED"
	case errors.As(err, &phaseErr):
		return http.StatusBadGateway, "AGENT_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.String("code", code), zap.Error(err))
	} else {
		s.logger.Debug("request rejected", zap.String("path", c.FullPath()), zap.String("code", code), zap.Error(err))
	}
	resp := gin.H{"code": code, "message": err.Error()}
	var resErr *provider.ResolutionError
	if errors.As(err, &resErr) && resErr.Hint != "" {
		resp["hint"] = resErr.Hint
	}
	if phase, ok := agentbridge.FailedPhase(err); ok {
		resp["phase"] = phase.String()
	}
	if code, ok := agentbridge.ExitCode(err); ok {
		resp["exit_code"] = code
	}
	c.JSON(status, gin.H{"error": resp})
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}
