package media

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"liveconnect/internal/config"
)

// Credential grants one participant access to one media room.
type Credential struct {
	Token     string    `json:"token"`
	URL       string    `json:"url,omitempty"`
	Room      string    `json:"room"`
	Identity  string    `json:"identity"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Issuer mints media-room credentials.
type Issuer interface {
	Issue(room, identity string, now time.Time) (Credential, error)
}

type roomClaims struct {
	jwt.RegisteredClaims

	Room       string `json:"room"`
	CanPublish bool   `json:"can_publish"`
}

// JWTIssuer signs HS256 room grants, the format accepted by hosted SFU services
// that authenticate joins with an API key/secret pair.
type JWTIssuer struct {
	url    string
	apiKey string
	secret []byte
	ttl    time.Duration
}

func NewJWTIssuer(cfg config.MediaConfig) (*JWTIssuer, error) {
	if cfg.APISecret == "" {
		return nil, errors.New("MEDIA_API_SECRET is required")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &JWTIssuer{url: cfg.URL, apiKey: cfg.APIKey, secret: []byte(cfg.APISecret), ttl: ttl}, nil
}

func (i *JWTIssuer) Issue(room, identity string, now time.Time) (Credential, error) {
	if room == "" || identity == "" {
		return Credential{}, errors.New("media: room and identity are required")
	}
	exp := now.Add(i.ttl)
	claims := roomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.apiKey,
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		Room:       room,
		CanPublish: true,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Credential{}, err
	}
	return Credential{Token: tok, URL: i.url, Room: room, Identity: identity, ExpiresAt: exp}, nil
}

// RoomForCall names the media room for a call; both participants join the same room.
func RoomForCall(callID string) string { return "call-" + callID }
