package model

import "strings"

// CallbackAddress asks the connector to POST matching events to URI.
type CallbackAddress struct {
	URI           string   `json:"uri"`
	Events        []string `json:"events"`
	Transactional bool     `json:"transactional,omitempty"`
	AuthKey       string   `json:"authKey,omitempty"`
	AuthCodeID    string   `json:"authCodeId,omitempty"`
}

// Matches reports whether eventType falls under one of the subscribed event
// prefixes, e.g. "transfer.process" matches "transfer.process.started".
func (c CallbackAddress) Matches(eventType string) bool {
	for _, e := range c.Events {
		if e == "" || e == "*" || strings.HasPrefix(eventType, e) {
			return true
		}
	}
	return false
}
