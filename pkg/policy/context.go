package policy

import (
	"time"

	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

// Context data keys.
const (
	// DataResourceManifest holds the *model.ResourceManifest being verified
	// in the provision scope. Functions may rewrite its definitions.
	DataResourceManifest = "resourceManifest"
	// DataAgreement holds the *model.ContractAgreement a transfer runs under.
	DataAgreement = "contractAgreement"
)

// Context is passed to every constraint function during one evaluation.
type Context struct {
	Agent model.ParticipantAgent
	Scope string
	Now   func() time.Time

	data map[string]any
}

// NewContext returns a context for the given counter-party.
func NewContext(agent model.ParticipantAgent) *Context {
	return &Context{Agent: agent, Now: time.Now, data: map[string]any{}}
}

// Set stores context data under key.
func (c *Context) Set(key string, value any) *Context {
	if c.data == nil {
		c.data = map[string]any{}
	}
	c.data[key] = value
	return c
}

// Get returns context data stored under key.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.data[key]
	return v, ok
}

// ContextData returns typed context data, or the zero value.
func ContextData[T any](c *Context, key string) (T, bool) {
	var zero T
	v, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

func (c *Context) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}
