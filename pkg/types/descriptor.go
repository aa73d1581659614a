package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Storage engine keys accepted in a descriptor's persistence.storage.
const (
	StoragePickle     = "pickle"
	StorageSQLAlchemy = "sqlalchemy"
)

// knownStorage lists the storage keys that Validate accepts.
var knownStorage = map[string]bool{
	StoragePickle:     true,
	StorageSQLAlchemy: true,
}

// DescriptorFiles are the file names, in lookup order, that mark a folder as
// a collection folder.
var DescriptorFiles = []string{"collection.json", "collection.yaml", "collection.yml", "collection.toml"}

// Descriptor is the on-disk description of one top-level collection.
type Descriptor struct {
	Name        string            `json:"name" yaml:"name"`
	Author      string            `json:"author" yaml:"author"`
	Description string            `json:"description" yaml:"description"`
	Persistence PersistenceConfig `json:"persistence" yaml:"persistence"`
	Schemas     SchemaList        `json:"schemas" yaml:"schemas"`
}

// PersistenceConfig selects and parameterizes a storage engine.
type PersistenceConfig struct {
	Storage    string         `json:"storage" yaml:"storage" toml:"storage"`
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty" toml:"parameters,omitempty"`
}

// Validate checks that the storage key names a known engine.
func (c PersistenceConfig) Validate() error {
	if !knownStorage[c.Storage] {
		return fmt.Errorf("%w: %q", ErrUnknownStorageEngine, c.Storage)
	}
	return nil
}

// Param returns a string parameter or def when absent.
func (c PersistenceConfig) Param(key, def string) string {
	if v, ok := c.Parameters[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

// Flag returns a boolean parameter, false when absent.
func (c PersistenceConfig) Flag(key string) bool {
	switch v := c.Parameters[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "yes" || v == "1"
	}
	return false
}

// SchemaDescriptor is the raw declaration of one subcollection.
type SchemaDescriptor struct {
	Name    string    `json:"name" yaml:"name"`
	Fields  FieldList `json:"fields" yaml:"fields"`
	Order   []string  `json:"order,omitempty" yaml:"order,omitempty"`
	Default string    `json:"default,omitempty" yaml:"default,omitempty"`
	Ico     string    `json:"ico,omitempty" yaml:"ico,omitempty"`
	Image   string    `json:"image,omitempty" yaml:"image,omitempty"`
}

// FieldEntry is one declared field keyed by its field id.
type FieldEntry struct {
	ID     string
	Config FieldConfig
}

// FieldList keeps field declarations in document order.
type FieldList []FieldEntry

// SchemaEntry is one declared subcollection keyed by its id.
type SchemaEntry struct {
	ID     string
	Schema SchemaDescriptor
}

// SchemaList keeps subcollection declarations in document order.
type SchemaList []SchemaEntry

// UnmarshalJSON decodes a JSON object preserving key order.
func (l *FieldList) UnmarshalJSON(data []byte) error {
	*l = nil
	return decodeOrderedJSON(data, func(key string, raw json.RawMessage) error {
		var cfg FieldConfig
		if err := unmarshalNumbers(raw, &cfg); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		*l = append(*l, FieldEntry{ID: key, Config: cfg})
		return nil
	})
}

// MarshalJSON encodes the list as an object in list order.
func (l FieldList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range l {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(e.ID)
		v, err := json.Marshal(e.Config)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalYAML decodes a YAML mapping preserving key order.
func (l *FieldList) UnmarshalYAML(node *yaml.Node) error {
	*l = nil
	return decodeOrderedYAML(node, func(key string, value *yaml.Node) error {
		var cfg FieldConfig
		if err := value.Decode(&cfg); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		*l = append(*l, FieldEntry{ID: key, Config: cfg})
		return nil
	})
}

// UnmarshalJSON decodes a JSON object preserving key order.
func (l *SchemaList) UnmarshalJSON(data []byte) error {
	*l = nil
	return decodeOrderedJSON(data, func(key string, raw json.RawMessage) error {
		var sd SchemaDescriptor
		if err := json.Unmarshal(raw, &sd); err != nil {
			return fmt.Errorf("schema %q: %w", key, err)
		}
		*l = append(*l, SchemaEntry{ID: key, Schema: sd})
		return nil
	})
}

// UnmarshalYAML decodes a YAML mapping preserving key order.
func (l *SchemaList) UnmarshalYAML(node *yaml.Node) error {
	*l = nil
	return decodeOrderedYAML(node, func(key string, value *yaml.Node) error {
		var sd SchemaDescriptor
		if err := value.Decode(&sd); err != nil {
			return fmt.Errorf("schema %q: %w", key, err)
		}
		*l = append(*l, SchemaEntry{ID: key, Schema: sd})
		return nil
	})
}

func decodeOrderedJSON(data []byte, each func(key string, raw json.RawMessage) error) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("%w: expected object, got %v", ErrInvalidDescriptor, tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		if err := each(key, raw); err != nil {
			return err
		}
	}
	_, err = dec.Token()
	return err
}

func decodeOrderedYAML(node *yaml.Node, each func(key string, value *yaml.Node) error) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: expected mapping at line %d", ErrInvalidDescriptor, node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if err := each(node.Content[i].Value, node.Content[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// unmarshalNumbers decodes JSON keeping numbers as json.Number.
func unmarshalNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// FindDescriptor returns the descriptor file inside dir, if any.
func FindDescriptor(dir string) (string, bool) {
	for _, name := range DescriptorFiles {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

// LoadDescriptor reads and parses the descriptor of the collection folder dir.
func LoadDescriptor(dir string) (*Descriptor, error) {
	path, ok := FindDescriptor(dir)
	if !ok {
		return nil, fmt.Errorf("%w: no descriptor in %s", os.ErrNotExist, dir)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var d *Descriptor
	switch filepath.Ext(path) {
	case ".json":
		d, err = ParseDescriptorJSON(data)
	case ".yaml", ".yml":
		d, err = ParseDescriptorYAML(data)
	case ".toml":
		d, err = ParseDescriptorTOML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return d, nil
}

// ParseDescriptorJSON parses a JSON descriptor.
func ParseDescriptorJSON(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	return &d, nil
}

// ParseDescriptorYAML parses a YAML descriptor.
func ParseDescriptorYAML(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	return &d, nil
}

type tomlSchema struct {
	Name    string                 `toml:"name"`
	Fields  map[string]FieldConfig `toml:"fields"`
	Order   []string               `toml:"order"`
	Default string                 `toml:"default"`
	Ico     string                 `toml:"ico"`
	Image   string                 `toml:"image"`
}

type tomlDescriptor struct {
	Name        string                `toml:"name"`
	Author      string                `toml:"author"`
	Description string                `toml:"description"`
	Persistence PersistenceConfig     `toml:"persistence"`
	Schemas     map[string]tomlSchema `toml:"schemas"`
}

// ParseDescriptorTOML parses a TOML descriptor. Declaration order of schemas
// and fields is recovered from the decoder metadata.
func ParseDescriptorTOML(data []byte) (*Descriptor, error) {
	var raw tomlDescriptor
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	var schemaOrder []string
	fieldOrder := make(map[string][]string)
	seen := make(map[string]bool)
	for _, key := range md.Keys() {
		if len(key) < 2 || key[0] != "schemas" {
			continue
		}
		if !seen[key[1]] {
			seen[key[1]] = true
			schemaOrder = append(schemaOrder, key[1])
		}
		if len(key) >= 4 && key[2] == "fields" {
			if !contains(fieldOrder[key[1]], key[3]) {
				fieldOrder[key[1]] = append(fieldOrder[key[1]], key[3])
			}
		}
	}
	schemaOrder = completeOrder(schemaOrder, raw.Schemas)

	d := &Descriptor{
		Name:        raw.Name,
		Author:      raw.Author,
		Description: raw.Description,
		Persistence: raw.Persistence,
	}
	for _, id := range schemaOrder {
		ts := raw.Schemas[id]
		sd := SchemaDescriptor{
			Name:    ts.Name,
			Order:   ts.Order,
			Default: ts.Default,
			Ico:     ts.Ico,
			Image:   ts.Image,
		}
		for _, fid := range completeOrder(fieldOrder[id], ts.Fields) {
			sd.Fields = append(sd.Fields, FieldEntry{ID: fid, Config: ts.Fields[fid]})
		}
		d.Schemas = append(d.Schemas, SchemaEntry{ID: id, Schema: sd})
	}
	return d, nil
}

// completeOrder appends, sorted, any key of m missing from order.
func completeOrder[V any](order []string, m map[string]V) []string {
	var missing []string
	for k := range m {
		if !contains(order, k) {
			missing = append(missing, k)
		}
	}
	sort.Strings(missing)
	out := make([]string, 0, len(m))
	for _, k := range order {
		if _, ok := m[k]; ok {
			out = append(out, k)
		}
	}
	return append(out, missing...)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
