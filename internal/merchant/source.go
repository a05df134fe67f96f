package merchant

import (
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// aliasFile is the on-disk alias table format.
//
//	replace_defaults: false
//	aliases:
//	  "AMZN*": Amazon
//	  "BLUE BOTTLE": Blue Bottle Coffee
type aliasFile struct {
	ReplaceDefaults bool              `yaml:"replace_defaults"`
	Aliases         map[string]string `yaml:"aliases"`
}

// LoadFile reads a YAML alias table. Entries are merged over DefaultAliases
// unless the file sets replace_defaults.
func LoadFile(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadFile: read %s: %w", path, err)
	}

	var f aliasFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("LoadFile: parse %s: %w", path, err)
	}

	merged := make(map[string]string, len(DefaultAliases)+len(f.Aliases))
	if !f.ReplaceDefaults {
		for k, v := range DefaultAliases {
			merged[k] = v
		}
	}
	for k, v := range f.Aliases {
		merged[k] = v
	}

	return NewTable(merged), nil
}

// Source owns the current alias table. The table is loaded once and only
// replaced by an explicit Reload; readers hold on to the *Table they got.
type Source struct {
	path    string
	current atomic.Pointer[Table]
}

// NewSource loads the table at path, or the defaults when path is empty.
func NewSource(path string) (*Source, error) {
	s := &Source{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// StaticSource wraps an already built table. Reload is a no-op.
func StaticSource(t *Table) *Source {
	s := &Source{}
	s.current.Store(t)
	return s
}

// Current returns the table in effect.
func (s *Source) Current() *Table {
	return s.current.Load()
}

// Reload re-reads the alias file and swaps the table in. On error the
// previous table stays in effect.
func (s *Source) Reload() error {
	if s.path == "" {
		if s.current.Load() == nil {
			s.current.Store(DefaultTable())
		}
		return nil
	}

	t, err := LoadFile(s.path)
	if err != nil {
		return err
	}
	s.current.Store(t)
	return nil
}
