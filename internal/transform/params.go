package transform

import (
	"encoding/json"
	"fmt"
)

// Params is the loose parameter bag carried by a TransformSpec. Stored
// pipelines round-trip through JSON, so values may arrive as native Go types
// (fresh specs) or as decoded JSON (replayed specs); the getters normalize
// both through a JSON re-encode.
type Params map[string]any

func (p Params) decode(key string, dst any) error {
	v, ok := p[key]
	if !ok {
		return fmt.Errorf("missing %q parameter", key)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("parameter %q: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("parameter %q: %w", key, err)
	}
	return nil
}

// Strings returns a required []string parameter.
func (p Params) Strings(key string) ([]string, error) {
	var out []string
	if err := p.decode(key, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StringsOptional returns a []string parameter or nil when absent.
func (p Params) StringsOptional(key string) ([]string, error) {
	if _, ok := p[key]; !ok {
		return nil, nil
	}
	return p.Strings(key)
}

// StringMap returns a required map[string]string parameter.
func (p Params) StringMap(key string) (map[string]string, error) {
	var out map[string]string
	if err := p.decode(key, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Bool returns a bool parameter; absent keys read as false.
func (p Params) Bool(key string) (bool, error) {
	v, ok := p[key]
	if !ok {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("parameter %q: expected bool, got %T", key, v)
	}
	return b, nil
}

// Bools returns a []bool parameter or nil when absent.
func (p Params) Bools(key string) ([]bool, error) {
	if _, ok := p[key]; !ok {
		return nil, nil
	}
	var out []bool
	if err := p.decode(key, &out); err != nil {
		return nil, err
	}
	return out, nil
}
