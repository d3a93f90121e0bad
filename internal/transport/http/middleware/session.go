package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/SEK-11/OCR/internal/pkg/jwtutil"
	"github.com/SEK-11/OCR/internal/transport/http/response"
)

const ContextSessionIDKey = "session_id"

type SessionOptions struct {
	CookieName string
	Secret     string
	TTL        time.Duration
	Secure     bool
}

// Session resolves the caller's opaque session id from a signed cookie,
// minting a new id when the cookie is missing, invalid or expired.
func Session(opts SessionOptions) gin.HandlerFunc {
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	return func(c *gin.Context) {
		sessionID := ""
		if raw, err := c.Cookie(opts.CookieName); err == nil && raw != "" {
			if claims, err := jwtutil.ParseToken(opts.Secret, raw); err == nil {
				sessionID = claims.SessionID
			}
		}
		if sessionID == "" {
			sessionID = uuid.NewString()
		}

		// Refresh on every request so active sessions do not expire.
		token, err := jwtutil.GenerateToken(opts.Secret, sessionID, opts.TTL)
		if err != nil {
			slog.Error("issue session token failed", "error", err)
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "session unavailable")
			c.Abort()
			return
		}
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(opts.CookieName, token, int(opts.TTL.Seconds()), "/", "", opts.Secure, true)

		c.Set(ContextSessionIDKey, sessionID)
		c.Next()
	}
}

func SessionID(c *gin.Context) (string, bool) {
	v, ok := c.Get(ContextSessionIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}
