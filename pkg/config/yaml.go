package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DecodeStrict decodes a YAML document into out. Keys that match no field
// are an error, an empty document is not.
func DecodeStrict(r io.Reader, out any) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	err := dec.Decode(out)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("config: %w", err)
}

// DecodeStrictTOML accepts the same keys as DecodeStrict, spelled in TOML.
// The table is re-encoded as YAML so durations like "5s" decode the same
// way in both formats.
func DecodeStrictTOML(r io.Reader, out any) error {
	doc := map[string]any{}
	if err := toml.NewDecoder(r).Decode(&doc); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if len(doc) == 0 {
		return nil
	}
	b, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return DecodeStrict(bytes.NewReader(b), out)
}
