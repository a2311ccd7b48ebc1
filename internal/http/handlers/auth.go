package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/geocoder89/userhub/internal/auth"
	"github.com/geocoder89/userhub/internal/config"
	"github.com/geocoder89/userhub/internal/domain/user"
	"github.com/geocoder89/userhub/internal/security"
	"github.com/gin-gonic/gin"
)

type CredentialStore interface {
	GetByEmail(ctx context.Context, email string) (user.User, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}

type AuthHandler struct {
	users CredentialStore
	jwt   *auth.Manager
	now   func() time.Time
}

func NewAuthHandler(users CredentialStore, jwtManager *auth.Manager) *AuthHandler {
	return &AuthHandler{
		users: users,
		jwt:   jwtManager,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	// short timeout for DB lookup
	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	// Unknown email and wrong password must be indistinguishable to the
	// caller: same code, same message.
	foundUser, err := h.users.GetByEmail(cctx, req.Email)
	if err != nil {
		RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
		return
	}

	if !security.VerifyPassword(foundUser.PasswordHash, req.Password) {
		RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
		return
	}

	accessToken, err := h.jwt.IssueAccessToken(foundUser.ID, foundUser.Name, string(foundUser.Role))

	if err != nil {
		RespondInternal(ctx, "Could not generate access token")
		return
	}

	if err := h.users.UpdateLastLogin(cctx, foundUser.ID, h.now()); err != nil {
		RespondInternal(ctx, "Could not record login")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"token":     accessToken,
		"expiresIn": h.jwt.ExpiresInSeconds(),
	})
}
