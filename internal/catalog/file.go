package catalog

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/noah-isme/backend-bizadmin/internal/policy"
)

// fileDocument is the on-disk catalog layout. A bare list of policies is also accepted.
type fileDocument struct {
	Policies []policy.RawPolicy `yaml:"policies"`
}

// FileSource reads a YAML or JSON catalog file. The file is re-read on every snapshot.
type FileSource struct {
	Path     string
	OnReject RejectFunc
}

// Snapshot loads and normalizes the catalog file.
func (s FileSource) Snapshot(ctx context.Context) ([]policy.PricingPolicy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(s.Path) == "" {
		return nil, fmt.Errorf("catalog file path is empty")
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", s.Path, err)
	}
	raws, err := DecodeRaw(data)
	if err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w: %w", s.Path, ErrInvalidCatalog, err)
	}
	return NormalizeAll(raws, s.OnReject), nil
}

// DecodeRaw parses a catalog document into raw policy records.
func DecodeRaw(data []byte) ([]policy.RawPolicy, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err == nil && len(doc.Policies) > 0 {
		return doc.Policies, nil
	}
	var list []policy.RawPolicy
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}
