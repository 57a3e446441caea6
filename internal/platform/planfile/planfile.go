// Package planfile reads the subscription plan catalogue operators seed with flowixctl.
package planfile

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	domain "github.com/flowix-ar/storefront/internal/domain"
)

// File is the YAML document layout.
type File struct {
	Plans []Plan `yaml:"plans"`
}

// Plan is one entry of the catalogue. Active defaults to true.
type Plan struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	PriceMonthly int64    `yaml:"price_monthly"`
	Currency     string   `yaml:"currency"`
	MaxProducts  int      `yaml:"max_products"`
	Features     []string `yaml:"features"`
	Active       *bool    `yaml:"active"`
}

// LoadFile reads and parses a plan catalogue.
func LoadFile(path string) ([]domain.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("planfile: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes the catalogue, rejecting unknown keys so typos do not silently drop limits.
func Parse(data []byte) ([]domain.Plan, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file File
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("planfile: parse: %w", err)
	}
	if len(file.Plans) == 0 {
		return nil, errors.New("planfile: no plans defined")
	}

	seen := make(map[string]struct{}, len(file.Plans))
	out := make([]domain.Plan, 0, len(file.Plans))
	for i, p := range file.Plans {
		id := strings.ToLower(strings.TrimSpace(p.ID))
		if id == "" {
			return nil, fmt.Errorf("planfile: plan %d has no id", i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("planfile: duplicate plan %q", id)
		}
		seen[id] = struct{}{}
		if p.PriceMonthly < 0 || p.MaxProducts < 0 {
			return nil, fmt.Errorf("planfile: plan %q has negative price or limit", id)
		}
		active := true
		if p.Active != nil {
			active = *p.Active
		}
		name := strings.TrimSpace(p.Name)
		if name == "" {
			name = id
		}
		out = append(out, domain.Plan{
			ID:           id,
			Name:         name,
			PriceMonthly: p.PriceMonthly,
			Currency:     strings.ToUpper(strings.TrimSpace(p.Currency)),
			MaxProducts:  p.MaxProducts,
			Features:     append([]string(nil), p.Features...),
			Active:       active,
		})
	}
	return out, nil
}
