package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// toStrictJSON routes YAML documents through a YAML->JSON round trip so the
// single strict decoder (DisallowUnknownFields) applies to both formats.
// Files without a .yaml/.yml extension are treated as JSON and passed
// through untouched.
func toStrictJSON(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	out, err := json.Marshal(stringifyKeys(doc))
	if err != nil {
		return nil, fmt.Errorf("yaml->json marshal: %w", err)
	}
	return out, nil
}

// stringifyKeys rewrites map keys to strings recursively; yaml.v3 may yield
// map[any]any nodes, which encoding/json refuses.
func stringifyKeys(v any) any {
	switch node := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(node))
		for k, elem := range node {
			out[fmt.Sprint(k)] = stringifyKeys(elem)
		}
		return out
	case map[string]any:
		for k, elem := range node {
			node[k] = stringifyKeys(elem)
		}
		return node
	case []any:
		for i, elem := range node {
			node[i] = stringifyKeys(elem)
		}
		return node
	default:
		return v
	}
}
