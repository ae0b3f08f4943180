// Package provision creates tenants listed in a YAML file and issues their API keys.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/raymccarthy5/multi-tenant-analytics/internal/domain"
)

// File is the provisioning document.
//
//	tenants:
//	  - id: acme
//	    name: Acme Corp
//	  - name: Globex
type File struct {
	Tenants []Entry `yaml:"tenants"`
}

// Entry describes one tenant. An empty ID is generated.
type Entry struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Provisioner creates a tenant and returns its plaintext API key.
type Provisioner interface {
	Provision(ctx context.Context, id, name string) (domain.Tenant, string, error)
}

// Result pairs a created tenant with the key shown to the operator once.
type Result struct {
	Tenant domain.Tenant
	APIKey string
}

// LoadFile reads and validates a provisioning file from disk.
func LoadFile(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("open provisioning file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes a provisioning document. Unknown fields, blank names and duplicate ids are
// rejected.
func Load(r io.Reader) (File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var file File
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return File{}, errors.New("provisioning file is empty")
		}
		return File{}, fmt.Errorf("decode provisioning file: %w", err)
	}
	if len(file.Tenants) == 0 {
		return File{}, errors.New("provisioning file lists no tenants")
	}
	seen := make(map[string]struct{}, len(file.Tenants))
	for i, entry := range file.Tenants {
		entry.ID = strings.TrimSpace(entry.ID)
		entry.Name = strings.TrimSpace(entry.Name)
		if entry.Name == "" {
			return File{}, fmt.Errorf("tenant %d: name required", i+1)
		}
		if entry.ID != "" {
			if _, dup := seen[entry.ID]; dup {
				return File{}, fmt.Errorf("tenant %d: duplicate id %q", i+1, entry.ID)
			}
			seen[entry.ID] = struct{}{}
		}
		file.Tenants[i] = entry
	}
	return file, nil
}

// Run provisions every tenant in order and stops at the first failure. Tenants created
// before the failure are returned with the error.
func Run(ctx context.Context, p Provisioner, file File) ([]Result, error) {
	results := make([]Result, 0, len(file.Tenants))
	for _, entry := range file.Tenants {
		tenant, key, err := p.Provision(ctx, entry.ID, entry.Name)
		if err != nil {
			return results, fmt.Errorf("provision %q: %w", entry.Name, err)
		}
		results = append(results, Result{Tenant: tenant, APIKey: key})
	}
	return results, nil
}
