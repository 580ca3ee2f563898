package dataplane

import (
	"crypto/rsa"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

// TokenClaims are carried by the access token of an endpoint data reference.
type TokenClaims struct {
	FlowID      string `json:"flowId"`
	ProcessID   string `json:"processId"`
	AgreementID string `json:"agreementId,omitempty"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies RS256 access tokens for PULL flows.
type TokenService struct {
	key    *rsa.PrivateKey
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService creates a token service. A zero ttl defaults to one hour.
func NewTokenService(key *rsa.PrivateKey, issuer string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenService{key: key, issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue signs a token for flow.
func (s *TokenService) Issue(flow *model.DataFlow) (string, error) {
	now := s.now()
	claims := TokenClaims{
		FlowID:      flow.ID,
		ProcessID:   flow.ProcessID,
		AgreementID: flow.AgreementID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   flow.ParticipantID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return "", errors.NewInternalError("sign access token", err)
	}
	return signed, nil
}

// Verify checks signature, algorithm and expiry and returns the claims.
func (s *TokenService) Verify(token string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return &s.key.PublicKey, nil
	})
	if err != nil || claims.FlowID == "" {
		return nil, errors.NewForbiddenError("data", "read")
	}
	return claims, nil
}
