// Package institution holds the per-institution CSV field mappings used by the extractor.
package institution

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// Canonical field names a source column can be mapped onto.
const (
	FieldPostedAt    = "posted_at"
	FieldAmount      = "amount"
	FieldMerchant    = "merchant_raw"
	FieldDescription = "description"
	FieldCategory    = "category_raw"
	FieldCurrency    = "currency"
	FieldAccountID   = "account_id"
)

// RequiredFields must resolve to at least one source column or the batch is rejected.
var RequiredFields = []string{FieldPostedAt, FieldAmount, FieldMerchant, FieldDescription}

var knownFields = map[string]bool{
	FieldPostedAt:    true,
	FieldAmount:      true,
	FieldMerchant:    true,
	FieldDescription: true,
	FieldCategory:    true,
	FieldCurrency:    true,
	FieldAccountID:   true,
}

// GenericName is the fallback configuration used when nothing else matches.
const GenericName = "Generic"

// Config is an immutable mapping description for one institution's export format.
// Fields maps a canonical field to the source columns that may carry it, in
// priority order; the first non-empty value wins.
type Config struct {
	Name            string              `yaml:"name"`
	Aliases         []string            `yaml:"aliases"`
	Fields          map[string][]string `yaml:"fields"`
	PositiveIsDebit bool                `yaml:"positive_is_debit"`
}

// Columns returns the source columns for a canonical field.
func (c Config) Columns(field string) []string {
	return c.Fields[field]
}

// Validate checks that the configuration can in principle satisfy every required field.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("institution name cannot be empty")
	}
	for field := range c.Fields {
		if !knownFields[field] {
			return fmt.Errorf("institution %q: unknown canonical field %q", c.Name, field)
		}
	}
	for _, field := range RequiredFields {
		if len(c.Fields[field]) == 0 {
			return fmt.Errorf("institution %q: no source column for required field %q", c.Name, field)
		}
	}
	return nil
}

// Registry is a lookup table of institution configurations keyed by normalized name.
type Registry struct {
	configs map[string]Config
	aliases map[string]string
}

// NewRegistry builds a registry from the given configs. Later entries replace earlier
// ones with the same name.
func NewRegistry(configs ...Config) (*Registry, error) {
	r := &Registry{
		configs: make(map[string]Config),
		aliases: make(map[string]string),
	}
	for _, c := range configs {
		if err := r.Add(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Default returns a registry holding the built-in institutions.
func Default() *Registry {
	r, err := NewRegistry(Builtin()...)
	if err != nil {
		panic(fmt.Sprintf("institution: builtin configs invalid: %v", err))
	}
	return r
}

// Add validates and registers a configuration.
func (r *Registry) Add(c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	key := normalize(c.Name)
	r.configs[key] = c
	r.aliases[key] = key
	for _, a := range c.Aliases {
		r.aliases[normalize(a)] = key
	}
	return nil
}

// Lookup finds a configuration by name or alias, case-insensitively.
func (r *Registry) Lookup(name string) (Config, bool) {
	key, ok := r.aliases[normalize(name)]
	if !ok {
		return Config{}, false
	}
	c, ok := r.configs[key]
	return c, ok
}

// Resolve picks a configuration for a file. An explicit name wins; otherwise the
// file name is matched against names and aliases, falling back to Generic.
func (r *Registry) Resolve(name, filename string) (Config, error) {
	if name != "" {
		c, ok := r.Lookup(name)
		if !ok {
			return Config{}, fmt.Errorf("Resolve: unknown institution %q", name)
		}
		return c, nil
	}

	base := normalize(strings.TrimSuffix(path.Base(filename), path.Ext(filename)))
	// Longest alias first so "bank of america" beats a shorter accidental match.
	keys := make([]string, 0, len(r.aliases))
	for alias := range r.aliases {
		keys = append(keys, alias)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	for _, alias := range keys {
		if alias == normalize(GenericName) {
			continue
		}
		if strings.Contains(base, alias) {
			return r.configs[r.aliases[alias]], nil
		}
	}

	c, ok := r.Lookup(GenericName)
	if !ok {
		return Config{}, fmt.Errorf("Resolve: no institution matches %q and no generic fallback is registered", filename)
	}
	return c, nil
}

// Names lists the registered institution names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.configs))
	for _, c := range r.configs {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}

// normalize lower-cases and folds separators so "wells_fargo" and "Wells Fargo" match.
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
