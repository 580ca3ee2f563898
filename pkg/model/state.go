package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// stateTable maps state codes to names and back for one state machine.
type stateTable struct {
	names map[int]string
	codes map[string]int
}

func newStateTable(names map[int]string) stateTable {
	codes := make(map[string]int, len(names))
	for c, n := range names {
		codes[n] = c
	}
	return stateTable{names: names, codes: codes}
}

func (t stateTable) name(code int) string {
	if n, ok := t.names[code]; ok {
		return n
	}
	return fmt.Sprintf("UNKNOWN(%d)", code)
}

func (t stateTable) parse(s string) (int, error) {
	s = strings.ToUpper(strings.TrimSpace(StripNamespace(s)))
	s = strings.TrimPrefix(s, "DSPACE:")
	if c, ok := t.codes[s]; ok {
		return c, nil
	}
	return 0, fmt.Errorf("unknown state %q", s)
}

func (t stateTable) unmarshal(b []byte) (int, error) {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return t.parse(s)
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return 0, fmt.Errorf("state must be a name or code")
	}
	if _, ok := t.names[n]; !ok {
		return 0, fmt.Errorf("unknown state code %d", n)
	}
	return n, nil
}

// ProcessType marks which side of an exchange owns an entity.
type ProcessType string

const (
	Consumer ProcessType = "CONSUMER"
	Provider ProcessType = "PROVIDER"
)
