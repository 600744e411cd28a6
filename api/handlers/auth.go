package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/character-lab/backend/internal/auth"
	"github.com/character-lab/backend/internal/logging"
	"github.com/character-lab/backend/internal/model"
	"github.com/character-lab/backend/internal/repository"
)

// AuthHandler handles registration, login and the current user.
type AuthHandler struct {
	users  *repository.UserRepository
	tokens *auth.TokenManager
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(users *repository.UserRepository, tokens *auth.TokenManager) *AuthHandler {
	return &AuthHandler{users: users, tokens: tokens}
}

// LoginRequest is the body of a login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse carries an access token.
type TokenResponse struct {
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type"`
	ExpiresIn   int           `json:"expires_in"`
	User        *UserResponse `json:"user,omitempty"`
}

// UserResponse represents a user in API responses.
type UserResponse struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Username   string `json:"username"`
	IsActive   bool   `json:"is_active"`
	IsVerified bool   `json:"is_verified"`
	CreatedAt  string `json:"created_at"`
}

func toUserResponse(u *model.User) *UserResponse {
	return &UserResponse{
		ID:         u.ID,
		Email:      u.Email,
		Username:   u.Username,
		IsActive:   u.IsActive,
		IsVerified: u.IsVerified,
		CreatedAt:  u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Register handles POST /api/v1/auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req model.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}
	req.Normalize()
	if !model.ValidEmail(req.Email) {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid email address")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if errors.Is(err, auth.ErrPasswordTooShort) {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Password must be at least 8 characters")
		return
	}
	if err != nil {
		sendDomainError(c, err, "register user")
		return
	}

	user := &model.User{Email: req.Email, Username: req.Username, HashedPassword: hash}
	if err := h.users.Create(c.Request.Context(), user); err != nil {
		sendDomainError(c, err, "register user")
		return
	}

	logging.Info().Str("user_id", user.ID).Msg("user registered")
	h.sendToken(c, user)
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	user, err := h.users.GetByEmail(c.Request.Context(), model.NormalizeEmail(req.Email))
	if err != nil && !errors.Is(err, model.ErrUserNotFound) {
		sendDomainError(c, err, "log in")
		return
	}
	if user == nil || !auth.CheckPassword(user.HashedPassword, req.Password) {
		sendError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", model.ErrInvalidCredentials.Error())
		return
	}
	if !user.IsActive {
		sendError(c, http.StatusBadRequest, "INACTIVE_USER", model.ErrInactiveUser.Error())
		return
	}

	h.sendToken(c, user)
}

// Me handles GET /api/v1/auth/me.
func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.users.GetByID(c.Request.Context(), getUserID(c))
	if err != nil {
		sendDomainError(c, err, "load user")
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}

func (h *AuthHandler) sendToken(c *gin.Context, user *model.User) {
	token, err := h.tokens.GenerateToken(user.ID, user.Email)
	if err != nil {
		sendDomainError(c, err, "issue token")
		return
	}
	c.JSON(http.StatusOK, TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(h.tokens.Expiry().Seconds()),
		User:        toUserResponse(user),
	})
}

// RegisterRoutes registers the auth routes. public needs no token, protected
// must be behind auth.RequireAuth.
func (h *AuthHandler) RegisterRoutes(public, protected *gin.RouterGroup) {
	public.POST("/auth/register", h.Register)
	public.POST("/auth/login", h.Login)
	protected.GET("/auth/me", h.Me)
}
