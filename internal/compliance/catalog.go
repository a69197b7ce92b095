package compliance

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"norruva.org/internal/domain"
)

// ErrInvalidCatalog wraps every catalog validation failure.
var ErrInvalidCatalog = errors.New("invalid compliance catalog")

type catalogFile struct {
	Paths []domain.CompliancePath `yaml:"paths"`
}

// LoadCatalog decodes a YAML catalog of compliance paths. When ev is non-nil
// every rule expression must compile.
func LoadCatalog(r io.Reader, ev *Evaluator) ([]domain.CompliancePath, error) {
	var file catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	seen := make(map[string]bool, len(file.Paths))
	for i, p := range file.Paths {
		switch {
		case strings.TrimSpace(p.ID) == "":
			return nil, fmt.Errorf("%w: path %d has no id", ErrInvalidCatalog, i)
		case seen[p.ID]:
			return nil, fmt.Errorf("%w: duplicate path id %s", ErrInvalidCatalog, p.ID)
		case strings.TrimSpace(p.Name) == "" || strings.TrimSpace(p.Category) == "":
			return nil, fmt.Errorf("%w: path %s needs a name and category", ErrInvalidCatalog, p.ID)
		}
		if m := p.Rules.MinSustainabilityScore; m != nil && (*m < 0 || *m > 100) {
			return nil, fmt.Errorf("%w: path %s minimum score out of range", ErrInvalidCatalog, p.ID)
		}
		if ev != nil && p.Rules.Expression != "" {
			if err := ev.Check(p.Rules.Expression); err != nil {
				return nil, fmt.Errorf("%w: path %s: %v", ErrInvalidCatalog, p.ID, err)
			}
		}
		seen[p.ID] = true
	}
	return file.Paths, nil
}

// LoadCatalogFile reads a catalog from disk.
func LoadCatalogFile(path string, ev *Evaluator) ([]domain.CompliancePath, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadCatalog(f, ev)
}

// SelectPath returns the first path whose category matches, or nil.
func SelectPath(paths []*domain.CompliancePath, category string) *domain.CompliancePath {
	for _, p := range paths {
		if strings.EqualFold(p.Category, category) {
			return p
		}
	}
	return nil
}
