package ratelimit

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"poscal/internal/observability"
)

// KeyFunc names the bucket a request is counted against.
type KeyFunc func(c *gin.Context) string

// UserTokenHeader carries the end user's JWT when Authorization holds the
// service token.
const UserTokenHeader = "X-User-Token"

// Middleware rejects requests over the window with 429 and reports the
// window state in X-RateLimit-* headers. A nil key counts by client address.
func Middleware(l *Limiter, scope string, key KeyFunc, metrics *observability.Metrics) gin.HandlerFunc {
	if key == nil {
		key = ipKey
	}
	return func(c *gin.Context) {
		if l == nil {
			c.Next()
			return
		}
		now := time.Now()
		d := l.Allow(scope+"|"+key(c), now)
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(math.Ceil(float64(d.ResetAt.UnixMilli())/1000)), 10))
		if !d.Allowed {
			metrics.Limited(scope)
			retry := int(math.Ceil(d.ResetAt.Sub(now).Seconds()))
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate limit exceeded",
				"message": "too many requests, please slow down",
			})
			return
		}
		c.Next()
	}
}

// ClientKey keys callers by the subject of an HS256 user token signed with
// secret, read from X-User-Token or else the bearer header. Anything that
// fails verification, and every request when secret is empty, is keyed by
// client address.
func ClientKey(secret []byte) KeyFunc {
	if len(secret) == 0 {
		return ipKey
	}
	return func(c *gin.Context) string {
		if sub, ok := verifiedSubject(userToken(c), secret); ok {
			return "user:" + sub
		}
		return ipKey(c)
	}
}

func userToken(c *gin.Context) string {
	if tok := strings.TrimSpace(c.GetHeader(UserTokenHeader)); tok != "" {
		return tok
	}
	auth := strings.TrimSpace(c.GetHeader("Authorization"))
	if tok, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(tok)
	}
	return ""
}

func verifiedSubject(token string, secret []byte) (string, bool) {
	if strings.Count(token, ".") != 2 {
		return "", false
	}
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return "", false
	}
	return claims.Subject, true
}

func ipKey(c *gin.Context) string {
	ip := c.ClientIP()
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}
