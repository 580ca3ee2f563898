package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// PolicyType distinguishes stored policies, offers and agreements.
type PolicyType string

const (
	PolicyTypeSet       PolicyType = "Set"
	PolicyTypeOffer     PolicyType = "Offer"
	PolicyTypeAgreement PolicyType = "Agreement"
)

// Operator is an ODRL constraint operator.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNeq      Operator = "neq"
	OpGt       Operator = "gt"
	OpGeq      Operator = "geq"
	OpLt       Operator = "lt"
	OpLeq      Operator = "leq"
	OpIn       Operator = "in"
	OpIsAnyOf  Operator = "isAnyOf"
	OpIsAllOf  Operator = "isAllOf"
	OpIsNoneOf Operator = "isNoneOf"
)

// ParseOperator normalizes "odrl:eq", "EQ" and "eq" to OpEq.
func ParseOperator(s string) (Operator, error) {
	s = StripNamespace(strings.TrimSpace(s))
	for _, op := range []Operator{OpEq, OpNeq, OpGt, OpGeq, OpLt, OpLeq, OpIn, OpIsAnyOf, OpIsAllOf, OpIsNoneOf} {
		if strings.EqualFold(s, string(op)) {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown operator %q", s)
}

// Policy is the subset of ODRL the connector evaluates.
type Policy struct {
	ID           string         `json:"@id,omitempty"`
	Type         PolicyType     `json:"@type,omitempty"`
	Assigner     string         `json:"assigner,omitempty"`
	Assignee     string         `json:"assignee,omitempty"`
	Target       string         `json:"target,omitempty"`
	Permissions  []Rule         `json:"permission,omitempty"`
	Prohibitions []Rule         `json:"prohibition,omitempty"`
	Obligations  []Rule         `json:"obligation,omitempty"`
	Extensible   map[string]any `json:"extensibleProperties,omitempty"`
}

// Rule is a permission, prohibition or duty.
type Rule struct {
	Action      string       `json:"action"`
	Constraints []Constraint `json:"constraint,omitempty"`
	Duties      []Rule       `json:"duty,omitempty"`
}

// Constraint is either atomic (LeftOperand/Operator/RightOperand) or
// logical (And/Or/Xone over child constraints).
type Constraint struct {
	LeftOperand  string       `json:"leftOperand,omitempty"`
	Operator     Operator     `json:"operator,omitempty"`
	RightOperand any          `json:"rightOperand,omitempty"`
	And          []Constraint `json:"and,omitempty"`
	Or           []Constraint `json:"or,omitempty"`
	Xone         []Constraint `json:"xone,omitempty"`
}

// IsLogical reports whether c combines child constraints.
func (c Constraint) IsLogical() bool {
	return len(c.And) > 0 || len(c.Or) > 0 || len(c.Xone) > 0
}

// RightString renders the right operand as a string.
func (c Constraint) RightString() string {
	switch v := c.RightOperand.(type) {
	case string:
		return v
	case nil:
		return ""
	case map[string]any:
		if s, ok := v["@value"].(string); ok {
			return s
		}
		if s, ok := v["@id"].(string); ok {
			return s
		}
	}
	return fmt.Sprint(c.RightOperand)
}

// RightStrings renders a list-valued right operand. Comma separated strings
// are split so "eu,us" and ["eu","us"] behave the same.
func (c Constraint) RightStrings() []string {
	switch v := c.RightOperand.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case []string:
		return v
	}
	var out []string
	for _, p := range strings.Split(c.RightString(), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (p *Policy) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID           string          `json:"@id"`
		Type         string          `json:"@type"`
		Assigner     json.RawMessage `json:"assigner"`
		Assignee     json.RawMessage `json:"assignee"`
		Target       json.RawMessage `json:"target"`
		Permission   json.RawMessage `json:"permission"`
		Prohibition  json.RawMessage `json:"prohibition"`
		Obligation   json.RawMessage `json:"obligation"`
		Extensible   map[string]any  `json:"extensibleProperties"`
		ODRLPerm     json.RawMessage `json:"odrl:permission"`
		ODRLProhib   json.RawMessage `json:"odrl:prohibition"`
		ODRLObligate json.RawMessage `json:"odrl:obligation"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var err error
	out := Policy{
		ID:         raw.ID,
		Type:       PolicyType(StripNamespace(raw.Type)),
		Assigner:   idOrString(raw.Assigner),
		Assignee:   idOrString(raw.Assignee),
		Target:     idOrString(raw.Target),
		Extensible: raw.Extensible,
	}
	if out.Permissions, err = oneOrMany[Rule](firstRaw(raw.Permission, raw.ODRLPerm)); err != nil {
		return fmt.Errorf("permission: %w", err)
	}
	if out.Prohibitions, err = oneOrMany[Rule](firstRaw(raw.Prohibition, raw.ODRLProhib)); err != nil {
		return fmt.Errorf("prohibition: %w", err)
	}
	if out.Obligations, err = oneOrMany[Rule](firstRaw(raw.Obligation, raw.ODRLObligate)); err != nil {
		return fmt.Errorf("obligation: %w", err)
	}
	*p = out
	return nil
}

func (r *Rule) UnmarshalJSON(b []byte) error {
	var raw struct {
		Action     json.RawMessage `json:"action"`
		Constraint json.RawMessage `json:"constraint"`
		Duty       json.RawMessage `json:"duty"`
		ODRLAction json.RawMessage `json:"odrl:action"`
		ODRLCons   json.RawMessage `json:"odrl:constraint"`
		ODRLDuty   json.RawMessage `json:"odrl:duty"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var err error
	out := Rule{Action: idOrString(firstRaw(raw.Action, raw.ODRLAction))}
	if out.Constraints, err = oneOrMany[Constraint](firstRaw(raw.Constraint, raw.ODRLCons)); err != nil {
		return fmt.Errorf("constraint: %w", err)
	}
	if out.Duties, err = oneOrMany[Rule](firstRaw(raw.Duty, raw.ODRLDuty)); err != nil {
		return fmt.Errorf("duty: %w", err)
	}
	*r = out
	return nil
}

func (c *Constraint) UnmarshalJSON(b []byte) error {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	var out Constraint
	for k, v := range fields {
		var err error
		switch StripNamespace(k) {
		case "leftOperand":
			out.LeftOperand = idOrString(v)
		case "operator":
			op := idOrString(v)
			if out.Operator, err = ParseOperator(op); err != nil {
				return err
			}
		case "rightOperand":
			if err = json.Unmarshal(v, &out.RightOperand); err != nil {
				return err
			}
		case "and":
			out.And, err = oneOrMany[Constraint](v)
		case "or":
			out.Or, err = oneOrMany[Constraint](v)
		case "xone":
			out.Xone, err = oneOrMany[Constraint](v)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
	}
	*c = out
	return nil
}

func firstRaw(candidates ...json.RawMessage) json.RawMessage {
	for _, c := range candidates {
		if len(c) > 0 {
			return c
		}
	}
	return nil
}

// Copy returns a deep copy.
func (p Policy) Copy() Policy {
	b, err := json.Marshal(p)
	if err != nil {
		return p
	}
	var out Policy
	if err := json.Unmarshal(b, &out); err != nil {
		return p
	}
	return out
}

// WithTarget returns a copy bound to the given asset.
func (p Policy) WithTarget(target string) Policy {
	out := p.Copy()
	out.Target = target
	return out
}

// SameRules reports whether two policies grant and forbid the same things,
// ignoring ids, type, assigner and target. Used to check that a consumer's
// offer has not been altered.
func (p Policy) SameRules(other Policy) bool {
	return bytes.Equal(rulesJSON(p), rulesJSON(other))
}

func rulesJSON(p Policy) []byte {
	norm := struct {
		P []Rule `json:"p"`
		N []Rule `json:"n"`
		O []Rule `json:"o"`
	}{nonEmpty(p.Permissions), nonEmpty(p.Prohibitions), nonEmpty(p.Obligations)}
	b, _ := json.Marshal(norm)
	// Round trip so numeric right operands compare equal.
	var generic any
	_ = json.Unmarshal(b, &generic)
	b, _ = json.Marshal(generic)
	return b
}

func nonEmpty(rules []Rule) []Rule {
	if len(rules) == 0 {
		return nil
	}
	return rules
}

// PolicyDefinition is a stored, named policy.
type PolicyDefinition struct {
	ID        string `json:"@id"`
	Type      string `json:"@type,omitempty"`
	Policy    Policy `json:"policy"`
	CreatedAt int64  `json:"createdAt"`
}

// Validate checks required fields.
func (d PolicyDefinition) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("@id is required")
	}
	for _, r := range append(append(append([]Rule{}, d.Policy.Permissions...), d.Policy.Prohibitions...), d.Policy.Obligations...) {
		if r.Action == "" {
			return fmt.Errorf("every rule needs an action")
		}
	}
	return nil
}
