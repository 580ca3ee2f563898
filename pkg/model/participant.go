package model

import "fmt"

// Well-known participant claims.
const (
	ClaimParticipantID = "participantId"
	ClaimRegion        = "region"
)

// ParticipantAgent is the verified identity of a counter-party.
type ParticipantAgent struct {
	ID     string         `json:"id"`
	Claims map[string]any `json:"claims,omitempty"`
}

// Claim returns a claim rendered as a string.
func (p ParticipantAgent) Claim(key string) string {
	if v, ok := p.Claims[key]; ok && v != nil {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return ""
}
