package postwhite

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	yaml "gopkg.in/yaml.v2"
)

// Registry is the protected-recipient map loaded from recipients.yml. It
// is immutable once loaded: presence makes an address protected, a
// non-empty value pins the SASL identity the MTA must report for it.
type Registry struct {
	entries map[string]string
}

type recipientsFile struct {
	Recipients map[string]string `yaml:"recipients"`
}

// LoadRegistry reads <configDir>/recipients.yml. A recipient with no SASL
// identity listed in the file is protected but unconstrained by SASL.
func LoadRegistry(configDir string) (*Registry, error) {
	path := filepath.Join(configDir, "recipients.yml")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading recipients.yml: %w", err)
	}

	var f recipientsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing recipients.yml: %w", err)
	}

	entries := make(map[string]string, len(f.Recipients))
	for addr, sasl := range f.Recipients {
		entries[strings.ToLower(addr)] = sasl
	}
	return &Registry{entries: entries}, nil
}

// Protected reports whether addr is a recipient postwhite manages.
func (r *Registry) Protected(addr string) bool {
	_, ok := r.entries[addr]
	return ok
}

// ExpectedSASL returns the SASL identity recipients.yml pins for addr, and
// whether one was configured at all.
func (r *Registry) ExpectedSASL(addr string) (string, bool) {
	sasl, ok := r.entries[addr]
	if !ok || sasl == "" {
		return "", false
	}
	return sasl, true
}
