package httpserver

import (
	"errors"
	"net/http"

	"github.com/dmitrijs2005/pmdash/internal/common"
	"github.com/dmitrijs2005/pmdash/internal/server/password"
	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
}

var errorTable = []struct {
	err     error
	status  int
	message string
}{
	{common.ErrInvalidCredentials, http.StatusUnauthorized, "Invalid credentials"},
	{common.ErrInvalidTwoFactorCode, http.StatusUnauthorized, "Invalid 2FA token"},
	{common.ErrNoPendingChallenge, http.StatusUnauthorized, "No pending 2FA challenge"},
	{common.ErrInvalidToken, http.StatusUnauthorized, "Invalid or expired token"},
	{common.ErrorUnauthorized, http.StatusUnauthorized, "Authentication required"},
	{common.ErrForbidden, http.StatusForbidden, "Insufficient permissions"},
	{common.ErrTwoFactorAlreadyEnabled, http.StatusBadRequest, "2FA is already enabled"},
	{common.ErrTwoFactorNotConfigured, http.StatusBadRequest, "2FA setup not initiated"},
	{common.ErrTwoFactorNotEnabled, http.StatusBadRequest, "2FA is not enabled"},
	{common.ErrInvalidOrExpiredResetToken, http.StatusBadRequest, "Invalid or expired reset token"},
	{common.ErrIncorrectCurrentPassword, http.StatusBadRequest, "Current password is incorrect"},
	{common.ErrInvalidEmail, http.StatusBadRequest, "Invalid email address"},
	{common.ErrInvalidRole, http.StatusBadRequest, "Invalid role"},
	{common.ErrInvalidUsername, http.StatusBadRequest, "Invalid username"},
	{common.ErrorNotFound, http.StatusNotFound, "User not found"},
	{common.ErrorAlreadyExists, http.StatusConflict, "User already exists"},
}

// writeError maps err to a status and a client-safe message. Anything not
// in the table is logged and reported as an internal error.
func (h *Handler) writeError(c *gin.Context, err error) {
	var verr *password.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, errorResponse{Message: verr.Error(), Errors: verr.Messages})
		return
	}

	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			c.JSON(e.status, errorResponse{Message: e.message})
			return
		}
	}

	h.logger.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, errorResponse{Message: "internal error"})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, errorResponse{Message: message})
}
