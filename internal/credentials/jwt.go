package credentials

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Claims represents the JWT claims used by the system. RegisteredClaims.ID
// (jti) is the id of the stored token record.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

var errInvalidToken = errors.New("invalid token")

// JWTIssuer signs and verifies HS256 bearer tokens.
type JWTIssuer struct {
	signingKey []byte
}

func NewJWTIssuer(signingKey []byte) *JWTIssuer {
	return &JWTIssuer{signingKey: signingKey}
}

func (i *JWTIssuer) Issue(userID, tokenID string, issuedAt, expiresAt time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID: userID,
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signingKey)
}

// Parse verifies the signature and expiry of tokenString.
func (i *JWTIssuer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return i.signingKey, nil
		},
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.ID == "" || claims.UserID == "" {
		return nil, errInvalidToken
	}

	return claims, nil
}
