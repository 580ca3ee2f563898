package policy

import (
	"strings"
	"sync"

	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

// Policy scopes.
const (
	ScopeAll         = "*"
	ScopeCatalog     = "catalog"
	ScopeNegotiation = "contract.negotiation"
	ScopeTransfer    = "transfer.process"
	ScopeProvision   = "provision.manifest.verify"
)

// Scopes lists every concrete scope.
var Scopes = []string{ScopeCatalog, ScopeNegotiation, ScopeTransfer, ScopeProvision}

// RuleBindingRegistry records which rule keys (actions and left operands)
// are evaluated in which scope. Keys are compared without namespace prefix;
// the "use" action matches in any case.
type RuleBindingRegistry struct {
	mu       sync.RWMutex
	bindings map[string]map[string]bool
}

// NewRuleBindingRegistry returns an empty registry.
func NewRuleBindingRegistry() *RuleBindingRegistry {
	return &RuleBindingRegistry{bindings: map[string]map[string]bool{}}
}

// Bind makes ruleKey relevant in scope. ScopeAll binds every scope.
func (r *RuleBindingRegistry) Bind(ruleKey, scope string) {
	key := normalizeKey(ruleKey)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bindings[key] == nil {
		r.bindings[key] = map[string]bool{}
	}
	r.bindings[key][scope] = true
}

// IsBound reports whether ruleKey is evaluated in scope.
func (r *RuleBindingRegistry) IsBound(ruleKey, scope string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	scopes := r.bindings[normalizeKey(ruleKey)]
	return scopes[ScopeAll] || scopes[scope] || (scope == ScopeAll && len(scopes) > 0)
}

// Bindings returns a copy of the registry contents.
func (r *RuleBindingRegistry) Bindings() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(r.bindings))
	for k, scopes := range r.bindings {
		for s := range scopes {
			out[k] = append(out[k], s)
		}
	}
	return out
}

func normalizeKey(k string) string {
	k = model.StripNamespace(k)
	if strings.EqualFold(k, "use") {
		return "USE"
	}
	return k
}
