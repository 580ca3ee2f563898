// Package identity issues and verifies the tokens connectors attach to
// protocol messages. Only a mock service is provided: the token is the
// participant's own claims, base64url encoded, and verification trusts them.
package identity

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

// Service obtains tokens for outgoing requests and verifies incoming ones.
type Service interface {
	ObtainToken(audience string) (string, error)
	VerifyToken(token string) (model.ParticipantAgent, error)
}

type mockToken struct {
	ParticipantID string         `json:"participantId"`
	Region        string         `json:"region,omitempty"`
	Audience      string         `json:"audience,omitempty"`
	Claims        map[string]any `json:"claims,omitempty"`
}

// MockService is a trust-everyone identity service.
type MockService struct {
	participantID string
	region        string
	claims        map[string]any
}

var _ Service = (*MockService)(nil)

// NewMockService returns a service presenting participantID with the given
// region claim and extra claims.
func NewMockService(participantID, region string, claims map[string]any) *MockService {
	return &MockService{participantID: participantID, region: region, claims: claims}
}

// ObtainToken encodes this participant's claims.
func (s *MockService) ObtainToken(audience string) (string, error) {
	b, err := json.Marshal(mockToken{
		ParticipantID: s.participantID,
		Region:        s.region,
		Audience:      audience,
		Claims:        s.claims,
	})
	if err != nil {
		return "", errors.NewInternalError("encode identity token", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// VerifyToken decodes a token produced by ObtainToken. A "Bearer " prefix
// is accepted.
func (s *MockService) VerifyToken(token string) (model.ParticipantAgent, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return model.ParticipantAgent{}, errors.NewUnauthorizedError("missing identity token")
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(token, "="))
	if err != nil {
		return model.ParticipantAgent{}, errors.NewUnauthorizedError("malformed identity token")
	}
	var t mockToken
	if err := json.Unmarshal(raw, &t); err != nil || t.ParticipantID == "" {
		return model.ParticipantAgent{}, errors.NewUnauthorizedError("malformed identity token")
	}

	claims := make(map[string]any, len(t.Claims)+2)
	for k, v := range t.Claims {
		claims[k] = v
	}
	claims[model.ClaimParticipantID] = t.ParticipantID
	if t.Region != "" {
		claims[model.ClaimRegion] = t.Region
	}
	return model.ParticipantAgent{ID: t.ParticipantID, Claims: claims}, nil
}

// ParticipantID returns the id this service presents.
func (s *MockService) ParticipantID() string { return s.participantID }
