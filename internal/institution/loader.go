package institution

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk layout of an institutions YAML document.
type File struct {
	Institutions []Config `yaml:"institutions"`
}

// Decode reads institution configurations from YAML.
func Decode(r io.Reader) ([]Config, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("Decode: parsing institutions yaml: %w", err)
	}
	for _, c := range f.Institutions {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("Decode: %w", err)
		}
	}
	return f.Institutions, nil
}

// LoadRegistry returns the built-in registry extended with the institutions declared
// in path. An empty path yields the built-ins only.
func LoadRegistry(path string) (*Registry, error) {
	r := Default()
	if path == "" {
		return r, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("LoadRegistry: open %q: %w", path, err)
	}
	defer f.Close()

	configs, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("LoadRegistry: %s: %w", path, err)
	}
	for _, c := range configs {
		if err := r.Add(c); err != nil {
			return nil, fmt.Errorf("LoadRegistry: %w", err)
		}
	}
	return r, nil
}
