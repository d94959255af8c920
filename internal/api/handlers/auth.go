package handlers

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/havenhub/haven-backend-go/pkg/utils"
)

// Login exchanges admin credentials for a JWT
func (h *Handlers) Login(c *gin.Context) {
	var body struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	userMatch := subtle.ConstantTimeCompare([]byte(body.Username), []byte(h.cfg.Auth.AdminUser))
	passMatch := subtle.ConstantTimeCompare([]byte(body.Password), []byte(h.cfg.Auth.AdminPassword))
	if userMatch != 1 || passMatch != 1 {
		utils.SendError(c, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	expiry := time.Duration(h.cfg.Auth.TokenExpiry) * time.Second
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}

	claims := jwt.MapClaims{
		"user_id":  body.Username,
		"username": body.Username,
		"exp":      time.Now().Add(expiry).Unix(),
		"iat":      time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(h.cfg.Auth.JWTSecret))
	if err != nil {
		h.log.WithError(err).Error("Failed to sign JWT")
		utils.SendError(c, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	utils.SendSuccess(c, gin.H{
		"token":      signed,
		"expires_at": time.Now().Add(expiry).UTC(),
	})
}

// ValidateToken confirms a JWT is valid and returns its claims
func (h *Handlers) ValidateToken(c *gin.Context) {
	var body struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	token, err := jwt.Parse(body.Token, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(h.cfg.Auth.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		utils.SendError(c, http.StatusUnauthorized, "Invalid token")
		return
	}

	utils.SendSuccess(c, gin.H{"valid": true, "claims": token.Claims})
}
