package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
)

// LoadProfile reads a run profile from a YAML or JSON file into v. The path
// "-" reads stdin.
func LoadProfile(path string, v any) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read profile: %w", err)
	}
	return ParseProfile(data, path, v)
}

// ParseProfile decodes data by the extension of name: JSON for .json,
// YAML otherwise. YAML is a superset of JSON, so unknown extensions work
// for both.
func ParseProfile(data []byte, name string, v any) error {
	if strings.ToLower(filepath.Ext(name)) == ".json" {
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("parse profile %s: %w", name, err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse profile %s: %w", name, err)
	}
	return nil
}
