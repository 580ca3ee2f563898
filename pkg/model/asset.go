package model

import (
	"fmt"
	"strings"
)

// PropertyID is the asset id as exposed to selectors and catalog filters.
const PropertyID = "https://w3id.org/edc/v0.0.1/ns/id"

// Asset describes a piece of data offered by the provider.
type Asset struct {
	ID                string         `json:"@id"`
	Type              string         `json:"@type,omitempty"`
	Properties        map[string]any `json:"properties,omitempty"`
	PrivateProperties map[string]any `json:"privateProperties,omitempty"`
	DataAddress       DataAddress    `json:"dataAddress"`
	CreatedAt         int64          `json:"createdAt"`
}

// Validate checks required fields.
func (a Asset) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("@id is required")
	}
	if err := a.DataAddress.Validate(); err != nil {
		return fmt.Errorf("dataAddress: %w", err)
	}
	return nil
}

// SelectorDocument is the flat view that asset selectors and catalog query
// filters are evaluated against. Namespaced property keys appear both as
// given and with the namespace stripped.
func (a Asset) SelectorDocument() map[string]any {
	doc := map[string]any{
		"id":       a.ID,
		"@id":      a.ID,
		PropertyID: a.ID,
	}
	for k, v := range a.Properties {
		doc[k] = v
		doc[StripNamespace(k)] = v
	}
	doc["properties"] = a.Properties
	return doc
}

// Property returns a string property, or "".
func (a Asset) Property(key string) string {
	if v, ok := a.Properties[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}
