package utils // package utils provides helper functions for token creation and hashing

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessToken is a signed HS256 JWT along with its expiry.
type AccessToken struct {
	Token string
	Exp   time.Time
}

// AccessClaims is the payload of an access token: subject is the user id.
type AccessClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

var ErrInvalidAccessToken = errors.New("invalid access token")

// NewAccessToken builds and signs an HS256 JWT for a user.
func NewAccessToken(secret, userID, role string, ttl time.Duration, now time.Time) (AccessToken, error) {
	now = now.UTC()
	exp := now.Add(ttl)
	claims := AccessClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// ParseAccessToken verifies signature and expiry and returns the claims.
// Only HMAC signatures are accepted.
func ParseAccessToken(secret, raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccessToken, err)
	}
	if !tok.Valid || claims.Subject == "" {
		return nil, ErrInvalidAccessToken
	}
	return claims, nil
}

// RandomHex returns a hex-encoded string generated from n bytes of
// cryptographically secure random data.
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// RandomCode draws length characters uniformly from charset.
func RandomCode(charset string, length int) (string, error) {
	if charset == "" || length <= 0 {
		return "", errors.New("random code: empty charset or length")
	}
	alphabet := []rune(charset)
	max := big.NewInt(int64(len(alphabet)))
	out := make([]rune, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}
