package schema

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/dgraph-io/ristretto"
	"gopkg.in/yaml.v3"
)

//go:embed sources.yaml
var sourcesYAML []byte

var (
	ErrNoTables       = errors.New("registry has no tables")
	ErrTableNameEmpty = errors.New("table name is required")
)

// Field is a single column of a source table.
type Field struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type table struct {
	Name   string  `yaml:"name"`
	Fields []Field `yaml:"fields"`
}

type registryFile struct {
	Tables []table `yaml:"tables"`
}

// Registry maps source names to their ordered field lists. It is read-only
// after construction and safe for concurrent use.
type Registry struct {
	order  []string
	tables map[string][]Field

	rendered *ristretto.Cache
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
	defaultRegistryErr  error
)

// Default returns the registry built from the embedded source definitions.
// It's safe to call concurrently.
func Default() (*Registry, error) {
	defaultRegistryOnce.Do(func() {
		defaultRegistry, defaultRegistryErr = Parse(sourcesYAML)
	})
	return defaultRegistry, defaultRegistryErr
}

// LoadFile reads a registry from a YAML file with the same layout as the
// embedded sources.yaml.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	return Parse(data)
}

// Parse builds a registry from YAML.
func Parse(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	if len(file.Tables) == 0 {
		return nil, ErrNoTables
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 22,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create render cache: %w", err)
	}

	r := &Registry{
		order:    make([]string, 0, len(file.Tables)),
		tables:   make(map[string][]Field, len(file.Tables)),
		rendered: cache,
	}
	for _, t := range file.Tables {
		if t.Name == "" {
			return nil, ErrTableNameEmpty
		}
		if _, ok := r.tables[t.Name]; ok {
			return nil, fmt.Errorf("duplicate table %q", t.Name)
		}
		r.order = append(r.order, t.Name)
		r.tables[t.Name] = append([]Field(nil), t.Fields...)
	}
	return r, nil
}

// Names returns the table names in declaration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

func (r *Registry) Has(name string) bool {
	_, ok := r.tables[name]
	return ok
}

// Fields returns a copy of the fields of the named table.
func (r *Registry) Fields(name string) ([]Field, bool) {
	fields, ok := r.tables[name]
	if !ok {
		return nil, false
	}
	return append([]Field(nil), fields...), true
}

// Columns returns the union of column names across the named tables.
// Unknown tables contribute nothing.
func (r *Registry) Columns(names ...string) map[string]struct{} {
	cols := make(map[string]struct{})
	for _, name := range names {
		for _, f := range r.tables[name] {
			cols[f.Name] = struct{}{}
		}
	}
	return cols
}

// Text renders a schema block for each name. Known tables list their
// fields and types; unknown tables produce a warning line instead of an
// error. The output depends only on the names and the registry contents.
func (r *Registry) Text(names []string) string {
	if len(names) == 0 {
		return ""
	}
	key := renderKey(names)
	if v, ok := r.rendered.Get(key); ok {
		return v.(string)
	}

	var sb strings.Builder
	for _, name := range names {
		fields, ok := r.tables[name]
		if !ok {
			fmt.Fprintf(&sb, "\nWarning: Schema for table '%s' not found.\n", name)
			continue
		}
		fmt.Fprintf(&sb, "\nTable: %s\nFields:\n", name)
		for _, f := range fields {
			fmt.Fprintf(&sb, "- %s (%s)\n", f.Name, f.Type)
		}
	}
	text := sb.String()
	r.rendered.Set(key, text, int64(len(text)))
	return text
}

// renderKey encodes names so that distinct lists never share a key.
func renderKey(names []string) string {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(len(names)))
	for _, name := range names {
		sb.WriteByte(' ')
		sb.WriteString(strconv.Quote(name))
	}
	return sb.String()
}

// AllText renders every table in declaration order.
func (r *Registry) AllText() string {
	return r.Text(r.order)
}
