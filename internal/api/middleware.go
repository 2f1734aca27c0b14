package api

import (
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/northpress/syndicate/internal/domain"
)

const (
	corsMaxAgeHours = 12

	// originNetworkKey is the gin context key carrying the verified peer
	// network of an inbound protocol request.
	originNetworkKey = "origin_network"
)

// getCORSOrigins returns the list of allowed CORS origins from environment
func getCORSOrigins() []string {
	if corsOrigins := os.Getenv("CORS_ORIGINS"); corsOrigins != "" {
		origins := strings.Split(corsOrigins, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		return origins
	}

	return []string{
		"http://localhost:3000", // admin dashboard
	}
}

// corsMiddleware creates a CORS middleware
func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: getCORSOrigins(),
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Content-Length", "Accept-Encoding",
			"X-CSRF-Token", "Authorization", "accept", "origin",
			"Cache-Control", "X-Requested-With",
		},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           corsMaxAgeHours * time.Hour,
	})
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	return header[len(prefix):], true
}

// requireToken protects the operator API with the installation secret.
func requireToken(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
			return
		}

		_, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(secret), nil
		})
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
		c.Next()
	}
}

// requirePeerToken verifies an inbound protocol request against the secret
// registered for the claimed peer network. Peers without a registered
// connection fall back to the installation's inbound secret.
func requirePeerToken(connections ConnectionStore, inboundSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
			return
		}

		// The issuer names the peer; its registered secret verifies the
		// signature.
		claims := jwt.RegisteredClaims{}
		parser := jwt.NewParser()
		if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		secret := inboundSecret
		if claims.Issuer != "" {
			conn, err := connections.GetByNetwork(c.Request.Context(), claims.Issuer)
			switch {
			case err == nil && conn.Usable():
				secret = conn.Secret
			case err != nil && !errors.Is(err, domain.ErrNotFound):
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Connection lookup failed"})
				return
			}
		}

		_, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(secret), nil
		})
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set(originNetworkKey, claims.Issuer)
		c.Next()
	}
}

// originNetwork returns the verified peer network of the request, if any.
func originNetwork(c *gin.Context) string {
	if v, ok := c.Get(originNetworkKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
