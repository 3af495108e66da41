package token

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// UserData identifies the end user. The signed form is an HS256 JWT minted
// by the embedding site with the agent's identity secret.
type UserData struct {
	jwt.RegisteredClaims
	Email      string `json:"email,omitempty"`
	Name       string `json:"name,omitempty"`
	ExternalID string `json:"externalId,omitempty"`
}

// VerifyUserData checks signed user data. An empty string yields zero
// UserData. Signed data is rejected when no secret is configured.
func VerifyUserData(secret, signed string) (UserData, error) {
	if signed == "" {
		return UserData{}, nil
	}
	if secret == "" {
		return UserData{}, fmt.Errorf("%w: no identity secret configured", ErrInvalidUserData)
	}
	var data UserData
	tok, err := jwt.ParseWithClaims(signed, &data, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		return UserData{}, fmt.Errorf("%w: %v", ErrInvalidUserData, err)
	}
	return data, nil
}

// SignUserData mints signed user data. The server never needs it; the
// terminal client and tests use it to act as an embedding site.
func SignUserData(secret string, data UserData) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, data)
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign user data: %w", err)
	}
	return signed, nil
}

// Merge prefers verified fields over unsigned ones.
func Merge(verified UserData, unsigned map[string]string) UserData {
	out := verified
	if out.Email == "" {
		out.Email = unsigned["email"]
	}
	if out.Name == "" {
		out.Name = unsigned["name"]
	}
	return out
}
