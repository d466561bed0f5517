package http

import (
	"log/slog"
	"net/http"

	"github.com/0xfutbol/id/core"
	"github.com/0xfutbol/id/ports"
	"github.com/0xfutbol/id/service"
	"github.com/gin-gonic/gin"
)

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	claims     *service.ClaimService
	identities *service.IdentityService
	logger     *slog.Logger
}

// NewAuthHandlers creates new auth handlers. identities may be nil when no
// wallet backend is configured.
func NewAuthHandlers(claims *service.ClaimService, identities *service.IdentityService, logger *slog.Logger) *AuthHandlers {
	return &AuthHandlers{
		claims:     claims,
		identities: identities,
		logger:     logger,
	}
}

type preResponse struct {
	Username string `json:"username,omitempty"`
	Exists   *bool  `json:"exists,omitempty"`
	Claimed  bool   `json:"claimed"`
}

// Pre reports the username bound to an address, or whether a username exists
func (h *AuthHandlers) Pre(c *gin.Context) {
	var req struct {
		Address  string `json:"address"`
		Username string `json:"username"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	res, err := h.claims.Pre(c.Request.Context(), req.Address, req.Username)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	resp := preResponse{Username: res.Username, Claimed: res.Claimed}
	if req.Address == "" {
		resp.Exists = &res.Exists
	}
	c.JSON(http.StatusOK, resp)
}

// Sign issues the authority's claim approval for (username, owner)
func (h *AuthHandlers) Sign(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Owner    string `json:"owner" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	approval, err := h.claims.GenerateClaimSignature(c.Request.Context(), req.Username, req.Owner)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"signature":           approval.Signature,
		"signatureExpiration": approval.SignatureExpiration,
		"claimed":             approval.Claimed,
	})
}

// Claim binds a username to the signing owner
func (h *AuthHandlers) Claim(c *gin.Context) {
	var req struct {
		Username    string            `json:"username" binding:"required"`
		Owner       string            `json:"owner" binding:"required"`
		Message     string            `json:"message" binding:"required"`
		Expiration  int64             `json:"expiration" binding:"required"`
		UserDetails map[string]string `json:"userDetails"`
		UserEmail   string            `json:"userEmail"`
		OwnerSig    string            `json:"ownerSignature"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	err := h.claims.Claim(c.Request.Context(), service.ClaimRequest{
		Username:       req.Username,
		Owner:          req.Owner,
		Message:        req.Message,
		Expiration:     req.Expiration,
		UserDetails:    req.UserDetails,
		UserEmail:      req.UserEmail,
		OwnerSignature: req.OwnerSig,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// JWT exchanges a signed auth message or claim approval for a session token
func (h *AuthHandlers) JWT(c *gin.Context) {
	var req struct {
		Username    string `json:"username" binding:"required"`
		Message     string `json:"message" binding:"required"`
		Expiration  int64  `json:"expiration" binding:"required"`
		LoginMethod string `json:"loginMethod"`
		Owner       string `json:"owner"`
		OwnerSig    string `json:"ownerSignature"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	token, err := h.claims.IssueJWT(c.Request.Context(), service.IssueRequest{
		Username:       req.Username,
		Message:        req.Message,
		Expiration:     req.Expiration,
		LoginMethod:    req.LoginMethod,
		Owner:          req.Owner,
		OwnerSignature: req.OwnerSig,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

type passwordRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegisterPassword creates a password identity with a custodial wallet
func (h *AuthHandlers) RegisterPassword(c *gin.Context) {
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	auth, err := h.identities.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":                auth.Token,
		"address":              auth.Address,
		"wallet":               auth.Wallet,
		"waasSessionToken":     auth.WaaSSession.Token,
		"waasSessionExpiresAt": auth.WaaSSession.ExpiresAt.UnixMilli(),
	})
}

// LoginPassword authenticates a password identity
func (h *AuthHandlers) LoginPassword(c *gin.Context) {
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	auth, err := h.identities.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	resp := gin.H{
		"token":   auth.Token,
		"address": auth.Address,
	}
	if auth.Wallet != nil {
		resp["walletId"] = auth.Wallet.ID
		resp["walletAddress"] = auth.Wallet.Address
	}
	if auth.WaaSSession != nil {
		resp["waasSessionToken"] = auth.WaaSSession.Token
		resp["waasSessionExpiresAt"] = auth.WaaSSession.ExpiresAt.UnixMilli()
	}
	c.JSON(http.StatusOK, resp)
}

// Me returns the identity of the authenticated user
func (h *AuthHandlers) Me(c *gin.Context) {
	session, ok := SessionFrom(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session not found in context"})
		return
	}

	identity, err := h.claims.Identity(c.Request.Context(), session.Owner)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"username":    identity.Username,
		"address":     identity.Address,
		"loginMethod": identity.LoginMethod,
		"email":       identity.Email,
		"userDetails": identity.UserDetails,
		"expiration":  session.Expiration,
	})
}

// Authorize checks if a user is authorized
func (h *AuthHandlers) Authorize(c *gin.Context) {
	// reaching here means the middleware accepted the token
	session, ok := SessionFrom(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session not found in context"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"authorized":  true,
		"username":    session.Username,
		"owner":       session.Owner,
		"loginMethod": session.LoginMethod,
	})
}

// Health reports liveness
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready reports whether the identity store is reachable
func Ready(store ports.IdentityStore, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := store.Ping(c.Request.Context()); err != nil {
			logger.Warn("readiness check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

func badRequest(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"error": core.ErrInvalidInput.Error()})
}
