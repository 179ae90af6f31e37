package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"spacecast/internal/core/domain"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const walletContextKey = "wallet"

// WalletClaims is the session token payload for the management API. The
// wallet address is the caller's identity; room host checks compare it to
// the room's host wallet.
type WalletClaims struct {
	Wallet string `json:"wallet"`
	jwt.RegisteredClaims
}

func parseWalletToken(secret, tokenString string) (*WalletClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &WalletClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*WalletClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	return parts[1], true
}

func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		claims, err := parseWalletToken(secret, token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set(walletContextKey, domain.WalletAddress(claims.Wallet))
		c.Next()
	}
}

func OptionalAuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c); ok {
			if claims, err := parseWalletToken(secret, token); err == nil {
				c.Set(walletContextKey, domain.WalletAddress(claims.Wallet))
			}
		}
		c.Next()
	}
}

// CallerWallet returns the authenticated wallet, empty when anonymous.
func CallerWallet(c *gin.Context) domain.WalletAddress {
	if v, exists := c.Get(walletContextKey); exists {
		if wallet, ok := v.(domain.WalletAddress); ok {
			return wallet
		}
	}
	return ""
}
