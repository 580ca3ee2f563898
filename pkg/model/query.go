package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DefaultQueryLimit is used when a query spec carries no limit.
const DefaultQueryLimit = 50

// Criterion is a single filter expression.
type Criterion struct {
	OperandLeft  string `json:"operandLeft"`
	Operator     string `json:"operator"`
	OperandRight any    `json:"operandRight"`
}

// NewCriterion is a convenience constructor.
func NewCriterion(left, op string, right any) Criterion {
	return Criterion{OperandLeft: left, Operator: op, OperandRight: right}
}

func (c *Criterion) UnmarshalJSON(b []byte) error {
	var raw struct {
		Left  json.RawMessage `json:"operandLeft"`
		Op    string          `json:"operator"`
		Right any             `json:"operandRight"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*c = Criterion{OperandLeft: idOrString(raw.Left), Operator: raw.Op, OperandRight: raw.Right}
	return nil
}

// Validate checks the operator is supported.
func (c Criterion) Validate() error {
	if c.OperandLeft == "" {
		return fmt.Errorf("operandLeft is required")
	}
	switch strings.ToLower(c.Operator) {
	case "=", "!=", "in", "like", "contains":
		return nil
	}
	return fmt.Errorf("unsupported operator %q", c.Operator)
}

// Matches evaluates the criterion against a JSON-shaped document. The left
// operand is looked up as a full key first and then as a dotted path;
// arrays on the path match when any element matches.
func (c Criterion) Matches(doc map[string]any) bool {
	values := Lookup(doc, c.OperandLeft)
	op := strings.ToLower(c.Operator)
	if op == "!=" {
		for _, v := range values {
			if equalValues(v, c.OperandRight) {
				return false
			}
		}
		return true
	}
	for _, v := range values {
		switch op {
		case "=":
			if equalValues(v, c.OperandRight) {
				return true
			}
		case "in":
			for _, candidate := range toList(c.OperandRight) {
				if equalValues(v, candidate) {
					return true
				}
			}
		case "like":
			if likeMatch(fmt.Sprint(v), fmt.Sprint(c.OperandRight)) {
				return true
			}
		case "contains":
			for _, item := range toList(v) {
				if equalValues(item, c.OperandRight) {
					return true
				}
			}
		}
	}
	return false
}

// MatchesAll reports whether every criterion matches.
func MatchesAll(doc map[string]any, criteria []Criterion) bool {
	for _, c := range criteria {
		if !c.Matches(doc) {
			return false
		}
	}
	return true
}

// Lookup returns every value found at path in doc.
func Lookup(doc map[string]any, path string) []any {
	if v, ok := doc[path]; ok {
		return flatten(v)
	}
	if stripped := StripNamespace(path); stripped != path {
		if v, ok := doc[stripped]; ok {
			return flatten(v)
		}
	}
	return lookupPath(doc, strings.Split(path, "."))
}

func lookupPath(node any, parts []string) []any {
	if len(parts) == 0 {
		return flatten(node)
	}
	switch n := node.(type) {
	case map[string]any:
		// Keys may themselves contain dots, so try the longest prefix first.
		for i := len(parts); i >= 1; i-- {
			key := strings.Join(parts[:i], ".")
			if v, ok := n[key]; ok {
				return lookupPath(v, parts[i:])
			}
		}
		if v, ok := n[StripNamespace(parts[0])]; ok {
			return lookupPath(v, parts[1:])
		}
	case []any:
		var out []any
		for _, item := range n {
			out = append(out, lookupPath(item, parts)...)
		}
		return out
	}
	return nil
}

func flatten(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{v}
}

func toList(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case string:
		if strings.Contains(t, ",") {
			var out []any
			for _, p := range strings.Split(t, ",") {
				out = append(out, strings.TrimSpace(p))
			}
			return out
		}
	}
	return []any{v}
}

func equalValues(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// likeMatch implements SQL LIKE with % wildcards.
func likeMatch(value, pattern string) bool {
	parts := strings.Split(pattern, "%")
	if len(parts) == 1 {
		return value == pattern
	}
	if !strings.HasPrefix(value, parts[0]) {
		return false
	}
	value = value[len(parts[0]):]
	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(value, parts[i])
		if idx < 0 {
			return false
		}
		value = value[idx+len(parts[i]):]
	}
	return strings.HasSuffix(value, parts[len(parts)-1])
}

// SortOrder is ASC or DESC.
type SortOrder string

const (
	SortAsc  SortOrder = "ASC"
	SortDesc SortOrder = "DESC"
)

// QuerySpec pages, sorts and filters list requests.
type QuerySpec struct {
	Offset           int         `json:"offset"`
	Limit            int         `json:"limit"`
	SortOrder        SortOrder   `json:"sortOrder,omitempty"`
	SortField        string      `json:"sortField,omitempty"`
	FilterExpression []Criterion `json:"filterExpression,omitempty"`
}

func (q *QuerySpec) UnmarshalJSON(b []byte) error {
	var raw struct {
		Offset    int             `json:"offset"`
		Limit     int             `json:"limit"`
		SortOrder string          `json:"sortOrder"`
		SortField string          `json:"sortField"`
		Filter    json.RawMessage `json:"filterExpression"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	filters, err := oneOrMany[Criterion](raw.Filter)
	if err != nil {
		return fmt.Errorf("filterExpression: %w", err)
	}
	*q = QuerySpec{
		Offset:           raw.Offset,
		Limit:            raw.Limit,
		SortOrder:        SortOrder(strings.ToUpper(raw.SortOrder)),
		SortField:        raw.SortField,
		FilterExpression: filters,
	}
	return nil
}

// Normalize applies defaults and validates the query.
func (q QuerySpec) Normalize() (QuerySpec, error) {
	if q.Offset < 0 {
		return q, fmt.Errorf("offset must not be negative")
	}
	if q.Limit <= 0 {
		q.Limit = DefaultQueryLimit
	}
	if q.SortOrder == "" {
		q.SortOrder = SortAsc
	}
	if q.SortOrder != SortAsc && q.SortOrder != SortDesc {
		return q, fmt.Errorf("sortOrder must be ASC or DESC")
	}
	for _, c := range q.FilterExpression {
		if err := c.Validate(); err != nil {
			return q, err
		}
	}
	return q, nil
}

// ApplyQuery filters, sorts and pages items using their JSON shape.
func ApplyQuery[T any](items []T, q QuerySpec) ([]T, error) {
	return ApplyQueryFunc(items, q, func(it T) (map[string]any, error) { return ToDocument(it) })
}

// ApplyQueryFunc is ApplyQuery with a custom document view of each item.
func ApplyQueryFunc[T any](items []T, q QuerySpec, document func(T) (map[string]any, error)) ([]T, error) {
	q, err := q.Normalize()
	if err != nil {
		return nil, err
	}
	type entry struct {
		item T
		doc  map[string]any
	}
	entries := make([]entry, 0, len(items))
	for _, it := range items {
		doc, err := document(it)
		if err != nil {
			return nil, err
		}
		if MatchesAll(doc, q.FilterExpression) {
			entries = append(entries, entry{item: it, doc: doc})
		}
	}
	if q.SortField != "" {
		sort.SliceStable(entries, func(i, j int) bool {
			less := compareValues(first(Lookup(entries[i].doc, q.SortField)), first(Lookup(entries[j].doc, q.SortField)))
			if q.SortOrder == SortDesc {
				return less > 0
			}
			return less < 0
		})
	}
	out := make([]T, 0, q.Limit)
	for i := q.Offset; i < len(entries) && len(out) < q.Limit; i++ {
		out = append(out, entries[i].item)
	}
	return out, nil
}

// ToDocument renders v into its generic JSON shape.
func ToDocument(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	doc := map[string]any{}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func first(vals []any) any {
	if len(vals) == 0 {
		return nil
	}
	return vals[0]
}

func compareValues(a, b any) int {
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}
