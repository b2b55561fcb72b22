package chatkit

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Claims are the token fields the client makes use of. The token is
// decoded without signature verification; the server remains the
// authority on its validity.
type Claims struct {
	UserID    int64
	Username  string
	ExpiresAt time.Time
}

// Expired reports whether the token carried an expiry that has passed.
func (c *Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// TokenClaims decodes the session token's claims. Known servers put the
// user id in "user_id" or in a numeric "sub"; a non-numeric subject is
// taken as the username. Missing fields stay at their zero value.
func TokenClaims(token string) (*Claims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	out := &Claims{}
	if v, ok := claims["user_id"]; ok {
		out.UserID = claimInt64(v)
	}
	if v, ok := claims["username"].(string); ok {
		out.Username = v
	}
	if sub, ok := claims["sub"]; ok {
		if id := claimInt64(sub); id != 0 {
			if out.UserID == 0 {
				out.UserID = id
			}
		} else if s, ok := sub.(string); ok && out.Username == "" {
			out.Username = s
		}
	}
	if exp, ok := claims["exp"].(float64); ok {
		out.ExpiresAt = time.Unix(int64(exp), 0)
	}
	return out, nil
}

func claimInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0
		}
		return i
	}
	return 0
}
