package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/edo-homes/portal/internal/model"
)

// ErrNoUserClaim is returned when an access token carries no user_id.
var ErrNoUserClaim = errors.New("token has no user_id claim")

// Claims are the fields of a backend access token the portal reads.
type Claims struct {
	UserID    model.UserID
	TokenType string
	ExpiresAt time.Time
}

// ParseClaims decodes an access token without checking its signature. The
// backend owns the signing key; the portal only reads who the session
// belongs to.
func ParseClaims(token string) (*Claims, error) {
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		return nil, fmt.Errorf("failed to parse access token: %w", err)
	}
	return claimsFromMap(mc)
}

// VerifyClaims decodes an access token and checks its HMAC signature. Expiry
// is not enforced here: an expired token is recovered by the refresh flow.
func VerifyClaims(token string, secret []byte) (*Claims, error) {
	mc := jwt.MapClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithoutClaimsValidation(),
	)
	_, err := parser.ParseWithClaims(token, mc, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}
	return claimsFromMap(mc)
}

// UserID returns the user the access token was issued to.
func UserID(token string) (model.UserID, error) {
	c, err := ParseClaims(token)
	if err != nil {
		return 0, err
	}
	return c.UserID, nil
}

func claimsFromMap(mc jwt.MapClaims) (*Claims, error) {
	c := &Claims{}
	if tt, ok := mc["token_type"].(string); ok {
		c.TokenType = tt
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}

	switch v := mc["user_id"].(type) {
	case float64:
		c.UserID = model.UserID(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("invalid user_id claim: %w", err)
		}
		c.UserID = model.UserID(n)
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user_id claim: %w", err)
		}
		c.UserID = model.UserID(n)
	default:
		return nil, ErrNoUserClaim
	}
	return c, nil
}
