package host

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ukydev/fleet-service-tracker/internal/models"
)

var (
	ErrInvalidEnvelope = errors.New("invalid envelope")
)

// Signer wraps records in HS256 tokens so the host can check where they
// came from.
type Signer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewSigner creates a signer. An empty secret is rejected.
func NewSigner(secret, issuer string) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("signing secret is required")
	}
	return &Signer{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Sign returns a token carrying rec under the "record" claim.
func (s *Signer) Sign(rec models.VehicleRecord) (string, error) {
	claims := jwt.MapClaims{
		"record": rec,
		"iss":    s.issuer,
		"iat":    s.now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign record: %w", err)
	}
	return signed, nil
}

// Verify checks a token produced by Sign and returns the record inside.
// It is the receiving side of the envelope: hosts that share the secret
// call it on the token field of a created message.
func (s *Signer) Verify(tokenString string) (models.VehicleRecord, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil || !token.Valid {
		return models.VehicleRecord{}, ErrInvalidEnvelope
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.VehicleRecord{}, ErrInvalidEnvelope
	}
	raw, ok := claims["record"]
	if !ok {
		return models.VehicleRecord{}, ErrInvalidEnvelope
	}
	// claims decode to generic maps; go back through JSON for the typed record
	data, err := json.Marshal(raw)
	if err != nil {
		return models.VehicleRecord{}, ErrInvalidEnvelope
	}
	var rec models.VehicleRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return models.VehicleRecord{}, ErrInvalidEnvelope
	}
	return rec, nil
}
