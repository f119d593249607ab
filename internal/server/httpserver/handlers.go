package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/pmdash/internal/common"
	"github.com/dmitrijs2005/pmdash/internal/logging"
	"github.com/dmitrijs2005/pmdash/internal/server/auth"
	"github.com/dmitrijs2005/pmdash/internal/server/authz"
	"github.com/dmitrijs2005/pmdash/internal/server/models"
	"github.com/dmitrijs2005/pmdash/internal/server/otp"
	"github.com/dmitrijs2005/pmdash/internal/server/services"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

const qrCodeSize = 200

type UserAPI interface {
	Login(ctx context.Context, username, pw string) (*services.LoginResult, error)
	VerifySecondFactor(ctx context.Context, username, code string) (*services.LoginResult, error)
	Setup2FA(ctx context.Context, claims *auth.Claims) (*otp.Enrollment, error)
	Enable2FA(ctx context.Context, claims *auth.Claims, code string) error
	Disable2FA(ctx context.Context, claims *auth.Claims, code string) error
	ChangePassword(ctx context.Context, claims *auth.Claims, current, newPassword string) error
	UpdateProfile(ctx context.Context, claims *auth.Claims, upd services.ProfileUpdate) error
	GetProfile(ctx context.Context, claims *auth.Claims) (*models.Profile, error)
}

type ResetAPI interface {
	RequestPasswordReset(ctx context.Context, email string) (*services.Ack, error)
	ResetPassword(ctx context.Context, token, newPassword string) (*services.Ack, error)
}

type Authorizer interface {
	Authorize(claims *auth.Claims, op authz.Operation) error
}

// Handler serves the /api routes.
type Handler struct {
	users      UserAPI
	resets     ResetAPI
	authorizer Authorizer
	logger     logging.Logger
	now        func() time.Time
}

func NewHandler(users UserAPI, resets ResetAPI, authorizer Authorizer, logger logging.Logger) *Handler {
	return &Handler{users: users, resets: resets, authorizer: authorizer, logger: logger, now: time.Now}
}

type userView struct {
	Username         string      `json:"username"`
	Role             models.Role `json:"role"`
	Email            string      `json:"email"`
	TwoFactorEnabled bool        `json:"twoFactorEnabled"`
}

func viewOf(p *models.Profile) userView {
	return userView{Username: p.Username, Role: p.Role, Email: p.Email, TwoFactorEnabled: p.TwoFactorEnabled}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	Token       string   `json:"token,omitempty"`
	User        userView `json:"user"`
	Requires2FA bool     `json:"requires2FA"`
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": h.now().UTC().Format(time.RFC3339Nano)})
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Username and password are required")
		return
	}

	res, err := h.users.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, loginResponse{
		Token:       res.SessionToken,
		User:        viewOf(res.User),
		Requires2FA: res.RequiresSecondFactor,
	})
}

type verifyRequest struct {
	Username string `json:"username" binding:"required"`
	Token    string `json:"token" binding:"required,len=6,numeric"`
}

func (h *Handler) Verify2FA(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Username and 2FA token are required")
		return
	}

	res, err := h.users.VerifySecondFactor(c.Request.Context(), req.Username, req.Token)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, loginResponse{Token: res.SessionToken, User: viewOf(res.User)})
}

type setupResponse struct {
	Secret  string `json:"secret"`
	QRCode  string `json:"qrCode"`
	QRImage string `json:"qrImage,omitempty"`
}

func (h *Handler) Setup2FA(c *gin.Context) {
	e, err := h.users.Setup2FA(c.Request.Context(), claimsFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}

	img, err := e.QRCodeDataURL(qrCodeSize)
	if err != nil {
		h.logger.Warn(c.Request.Context(), "qr code not rendered", "error", err)
	}
	c.JSON(http.StatusOK, setupResponse{Secret: e.Secret, QRCode: e.ProvisioningURI, QRImage: img})
}

type codeRequest struct {
	Token string `json:"token" binding:"required,len=6,numeric"`
}

func (h *Handler) Enable2FA(c *gin.Context) {
	h.withCode(c, h.users.Enable2FA, services.MsgTwoFactorEnabled)
}

func (h *Handler) Disable2FA(c *gin.Context) {
	h.withCode(c, h.users.Disable2FA, services.MsgTwoFactorDisabled)
}

func (h *Handler) withCode(c *gin.Context, op func(context.Context, *auth.Claims, string) error, okMessage string) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "2FA token is required")
		return
	}
	if err := op(c.Request.Context(), claimsFrom(c), req.Token); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, services.Ack{Success: true, Message: okMessage})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

func (h *Handler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Current password and new password are required")
		return
	}
	if err := h.users.ChangePassword(c.Request.Context(), claimsFrom(c), req.CurrentPassword, req.NewPassword); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, services.Ack{Success: true, Message: services.MsgPasswordChanged})
}

type resetRequest struct {
	Email string `json:"email" binding:"required"`
}

func (h *Handler) RequestPasswordReset(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Email is required")
		return
	}
	ack, err := h.resets.RequestPasswordReset(c.Request.Context(), req.Email)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ack)
}

type redeemRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}

func (h *Handler) ResetPassword(c *gin.Context) {
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Reset token and new password are required")
		return
	}
	ack, err := h.resets.ResetPassword(c.Request.Context(), req.Token, req.NewPassword)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ack)
}

// An empty email clears the address, so it passes alongside valid ones.
type profileRequest struct {
	Email *string `json:"email" binding:"omitempty,email|len=0"`
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			h.writeError(c, common.ErrInvalidEmail)
			return
		}
		badRequest(c, "invalid request body")
		return
	}
	if err := h.users.UpdateProfile(c.Request.Context(), claimsFrom(c), services.ProfileUpdate{Email: req.Email}); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, services.Ack{Success: true, Message: services.MsgProfileUpdated})
}

func (h *Handler) GetProfile(c *gin.Context) {
	p, err := h.users.GetProfile(c.Request.Context(), claimsFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type routeResponse struct {
	Message string   `json:"message"`
	User    userView `json:"user"`
}

// guarded answers the protected example routes after the policy check.
func (h *Handler) guarded(op authz.Operation, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)
		if err := h.authorizer.Authorize(claims, op); err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, routeResponse{
			Message: message,
			User:    userView{Username: claims.Username, Role: claims.Role, Email: claims.Email},
		})
	}
}
