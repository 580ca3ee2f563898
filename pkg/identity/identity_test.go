package identity

import (
	"testing"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

func TestMockTokenRoundTrip(t *testing.T) {
	consumer := NewMockService("consumer", "eu", map[string]any{"tier": "gold"})
	provider := NewMockService("provider", "us", nil)

	token, err := consumer.ObtainToken("http://localhost:19194/protocol")
	if err != nil {
		t.Fatal(err)
	}
	agent, err := provider.VerifyToken("Bearer " + token)
	if err != nil {
		t.Fatalf("VerifyToken() error = %v", err)
	}
	if agent.ID != "consumer" {
		t.Errorf("agent id = %q", agent.ID)
	}
	if agent.Claim(model.ClaimRegion) != "eu" || agent.Claim("tier") != "gold" {
		t.Errorf("claims = %v", agent.Claims)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	s := NewMockService("provider", "", nil)
	for _, tok := range []string{"", "Bearer ", "!!!", "e30"} {
		if _, err := s.VerifyToken(tok); !errors.IsUnauthorized(err) {
			t.Errorf("VerifyToken(%q) = %v, want unauthorized", tok, err)
		}
	}
}
