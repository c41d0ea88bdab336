package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	yaml "go.yaml.in/yaml/v3"
)

type fileFormat string

const (
	formatJSON fileFormat = "json"
	formatYAML fileFormat = "yaml"
)

// detectFormat goes by extension. Files without a known extension are JSON
// when the first non-space byte opens an object, YAML otherwise.
func detectFormat(path string, data []byte) fileFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON
	case ".yaml", ".yml":
		return formatYAML
	}
	if t := bytes.TrimSpace(data); len(t) > 0 && t[0] == '{' {
		return formatJSON
	}
	return formatYAML
}

// toJSON converts the file body to JSON so every format goes through the
// same strict decoder.
func toJSON(path string, data []byte) ([]byte, fileFormat, error) {
	f := detectFormat(path, data)
	if f == formatJSON {
		return data, f, nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, f, errors.Wrap(err, "parse yaml")
	}
	if doc == nil {
		return []byte("{}"), f, nil
	}
	out, err := json.Marshal(stringKeys(doc))
	if err != nil {
		return nil, f, errors.Wrap(err, "convert yaml to json")
	}
	return out, f, nil
}

// stringKeys rewrites non-string map keys (yaml allows `1: x`) in place.
func stringKeys(v any) any {
	switch node := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(node))
		for k, child := range node {
			out[fmt.Sprint(k)] = stringKeys(child)
		}
		return out
	case map[string]any:
		for k, child := range node {
			node[k] = stringKeys(child)
		}
	case []any:
		for i, child := range node {
			node[i] = stringKeys(child)
		}
	}
	return v
}
