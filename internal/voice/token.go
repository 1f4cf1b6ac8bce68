// Package voice issues access tokens for the realtime voice room service.
// Tokens follow the LiveKit format: an HS256 JWT issued by the API key with
// the participant identity as subject and a "video" grant.
package voice

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNotConfigured = errors.New("voice credentials not configured")
	ErrInvalidGrant  = errors.New("identity and room name required")
)

// VideoGrant mirrors the room permissions understood by LiveKit.
type VideoGrant struct {
	Room         string `json:"room,omitempty"`
	RoomJoin     bool   `json:"roomJoin,omitempty"`
	CanPublish   *bool  `json:"canPublish,omitempty"`
	CanSubscribe *bool  `json:"canSubscribe,omitempty"`
}

type Claims struct {
	jwt.RegisteredClaims
	Name  string      `json:"name,omitempty"`
	Video *VideoGrant `json:"video,omitempty"`
}

type Issuer struct {
	APIKey    string
	APISecret string
	TTL       time.Duration
	Now       func() time.Time
}

// Token signs a join token for identity in room.
func (i Issuer) Token(identity, room string) (string, error) {
	identity, room = strings.TrimSpace(identity), strings.TrimSpace(room)
	if identity == "" || room == "" {
		return "", ErrInvalidGrant
	}
	if i.APIKey == "" || i.APISecret == "" {
		return "", ErrNotConfigured
	}
	now := time.Now
	if i.Now != nil {
		now = i.Now
	}
	ttl := i.TTL
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	issued := now()
	yes := true
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.APIKey,
			Subject:   identity,
			ID:        identity,
			NotBefore: jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(ttl)),
		},
		Name: identity,
		Video: &VideoGrant{
			Room:         room,
			RoomJoin:     true,
			CanPublish:   &yes,
			CanSubscribe: &yes,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(i.APISecret))
}

// Verify parses a token signed by this issuer.
func (i Issuer) Verify(token string) (*Claims, error) {
	if i.APISecret == "" {
		return nil, ErrNotConfigured
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(i.APIKey)}
	if i.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(i.Now))
	}
	claims := &Claims{}
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(i.APISecret), nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
