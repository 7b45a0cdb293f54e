package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"delta-core/internal/clientauth"
	"delta-core/internal/trading"
)

const clientContextKey = "ClientID"

// ClientClaims represents JWT claims for authenticated clients.
type ClientClaims struct {
	Email    string `json:"email"`
	ClientID string `json:"cid"`
	jwt.RegisteredClaims
}

func generateToken(email, clientID, secret string, expiresAt time.Time) (string, error) {
	claims := ClientClaims{
		Email:    email,
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parseToken(tokenStr, secret string) (*ClientClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &ClientClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*ClientClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token claims")
}

// AuthMiddleware enforces JWT auth for protected routes. WebSocket clients
// cannot set headers from the browser, so a ?token= query fallback is allowed.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := ""
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"code":  "INVALID_AUTH_HEADER",
					"error": "invalid Authorization header",
				})
				return
			}
			tokenStr = parts[1]
		} else if q := c.Query("token"); q != "" {
			tokenStr = q
		}

		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "MISSING_TOKEN",
				"error": "missing Authorization header",
			})
			return
		}

		claims, err := parseToken(tokenStr, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_TOKEN",
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(clientContextKey, claims.ClientID)
		c.Next()
	}
}

// CurrentClientID returns the authenticated client ID from context.
func CurrentClientID(c *gin.Context) string {
	if v, ok := c.Get(clientContextKey); ok {
		if id, okCast := v.(string); okCast {
			return id
		}
	}
	return ""
}

// credentialsFromHeaders reads per-request exchange credentials. API keys are
// never stored server-side; each request carries its own pair.
func (s *Server) credentialsFromHeaders(c *gin.Context) (trading.Credentials, bool) {
	creds := trading.Credentials{
		APIKey:    strings.TrimSpace(c.GetHeader("X-Delta-Api-Key")),
		APISecret: strings.TrimSpace(c.GetHeader("X-Delta-Api-Secret")),
		BaseURL:   strings.TrimSpace(c.GetHeader("X-Delta-Base-Url")),
	}
	if creds.BaseURL == "" {
		creds.BaseURL = s.Cfg.DeltaBaseURL
	}
	if creds.APIKey == "" || creds.APISecret == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "MISSING_EXCHANGE_CREDENTIALS",
			"error": "X-Delta-Api-Key and X-Delta-Api-Secret headers are required",
		})
		return trading.Credentials{}, false
	}
	return creds, true
}

// login validates a client against the authorized-clients file and issues
// a session token.
func (s *Server) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		ClientID string `json:"client_id"`
		Password string `json:"password"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.ClientID = strings.TrimSpace(req.ClientID)
	if req.Email == "" || req.ClientID == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "MISSING_CREDENTIALS",
			"error": "email, client_id and password are required",
		})
		return
	}

	if err := s.Clients.Validate(req.Email, req.ClientID, req.Password); err != nil {
		if errors.Is(err, clientauth.ErrNotAuthorized) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_CREDENTIALS",
				"error": "invalid credentials",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": "client validation failed",
		})
		return
	}

	expiresAt := time.Now().Add(s.Cfg.SessionTTL)
	token, err := generateToken(strings.ToLower(req.Email), req.ClientID, s.Cfg.JWTSecret, expiresAt)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": "failed to generate token",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
		"client_id":  req.ClientID,
		"email":      strings.ToLower(req.Email),
	})
}
