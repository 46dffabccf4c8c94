package tuning

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/blake2b"
)

// DefaultTokenTTL bounds how long a confirmation prompt stays actionable.
const DefaultTokenTTL = 5 * time.Minute

// TokenService issues and verifies stateless confirmation tokens. A
// token binds one action id to a content hash of the exact proposed
// change, so a reviewer cannot be tricked into approving a different
// value than the one they saw. Verification needs no server-side lookup.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService builds a token service signing with secret. A zero ttl
// falls back to DefaultTokenTTL.
func NewTokenService(secret []byte, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{secret: secret, ttl: ttl, now: time.Now}
}

// TTL returns the configured token lifetime.
func (s *TokenService) TTL() time.Duration { return s.ttl }

// Generate issues a signed token for one proposed change.
func (s *TokenService) Generate(actionID, paramsHash string) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"action_id":   actionID,
		"params_hash": paramsHash,
		"iat":         now.Unix(),
		"exp":         now.Add(s.ttl).Unix(),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign confirmation token: %w", err)
	}
	return signed, nil
}

// Validate checks signature, expiry, and the exact action/hash binding.
func (s *TokenService) Validate(tokenString, actionID, paramsHash string) error {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return invalidToken("confirmation token is invalid or expired")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return invalidToken("confirmation token is invalid or expired")
	}
	if got, _ := claims["action_id"].(string); got != actionID {
		return invalidToken("confirmation token was issued for a different action")
	}
	if got, _ := claims["params_hash"].(string); got != paramsHash {
		return invalidToken("confirmation token does not match the proposed change")
	}
	return nil
}

// HashParams computes a stable content hash over one normalized proposed
// change. The same logical change always hashes identically.
func HashParams(parameterKey string, value interface{}) string {
	sum := blake2b.Sum256([]byte("param=" + parameterKey + ";value=" + canonicalValue(value)))
	return hex.EncodeToString(sum[:])
}

func canonicalValue(v interface{}) string {
	switch n := v.(type) {
	case bool:
		return strconv.FormatBool(n)
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 64)
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	default:
		return fmt.Sprintf("%v", n)
	}
}
