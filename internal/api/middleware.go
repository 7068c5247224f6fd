package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"projectchat/internal/auth"
	"projectchat/pkg/interfaces"
	"projectchat/pkg/types"
)

const identityKey = "identity"

// authMiddleware verifies the bearer token and stores the identity on the context
func authMiddleware(verifier interfaces.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := verifier.Verify(auth.ExtractToken(c.Request))
		if err != nil {
			abortWithError(c, http.StatusUnauthorized, "Invalid or missing bearer token")
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

func identityFrom(c *gin.Context) types.Identity {
	value, ok := c.Get(identityKey)
	if !ok {
		return types.Identity{}
	}
	identity, _ := value.(*types.Identity)
	if identity == nil {
		return types.Identity{}
	}
	return *identity
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
// Allows all origins in development - would be restricted in production
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.Writer.Header()
		header.Set("Access-Control-Allow-Origin", "*")
		header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		header.Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func abortWithError(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}
