package meta

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// SnapshotSpec is the serialised form of a metadata snapshot.
// YAML is the canonical format; JSON documents parse as well.
type SnapshotSpec struct {
	Database DatabaseSpec `yaml:"database" json:"database"`
	Tables   []TableSpec  `yaml:"tables" json:"tables"`
	Cards    []CardSpec   `yaml:"cards,omitempty" json:"cards,omitempty"`
}

// DatabaseSpec describes the database and its declared features.
type DatabaseSpec struct {
	ID       int64    `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Engine   string   `yaml:"engine" json:"engine"`
	Features []string `yaml:"features" json:"features"`
}

// TableSpec describes a table and its fields.
type TableSpec struct {
	ID          int64       `yaml:"id" json:"id"`
	Schema      string      `yaml:"schema,omitempty" json:"schema,omitempty"`
	Name        string      `yaml:"name" json:"name"`
	DisplayName string      `yaml:"display_name,omitempty" json:"display_name,omitempty"`
	Fields      []FieldSpec `yaml:"fields" json:"fields"`
}

// FieldSpec describes one field.
type FieldSpec struct {
	ID           int64  `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	DisplayName  string `yaml:"display_name,omitempty" json:"display_name,omitempty"`
	BaseType     string `yaml:"base_type" json:"base_type"`
	SemanticType string `yaml:"semantic_type,omitempty" json:"semantic_type,omitempty"`
	FKTarget     int64  `yaml:"fk_target,omitempty" json:"fk_target,omitempty"`
}

// CardSpec describes a saved question's result columns.
type CardSpec struct {
	ID      int64            `yaml:"id" json:"id"`
	Name    string           `yaml:"name" json:"name"`
	Columns []CardColumnSpec `yaml:"columns" json:"columns"`
}

// CardColumnSpec describes one card result column.
type CardColumnSpec struct {
	Name         string `yaml:"name" json:"name"`
	DisplayName  string `yaml:"display_name,omitempty" json:"display_name,omitempty"`
	BaseType     string `yaml:"base_type" json:"base_type"`
	SemanticType string `yaml:"semantic_type,omitempty" json:"semantic_type,omitempty"`
}

// Snapshot is an immutable in-memory Provider.
type Snapshot struct {
	db       Database
	features FeatureSet
	tables   []*Table
	byTable  map[int64]*Table
	byField  map[int64]*Field
	fieldsOf map[int64][]*Field
	cards    map[int64]*Card
}

var _ Provider = (*Snapshot)(nil)

// NewSnapshot validates spec and builds a Snapshot from it.
func NewSnapshot(spec SnapshotSpec) (*Snapshot, error) {
	s := &Snapshot{
		db: Database{
			ID:     spec.Database.ID,
			Name:   spec.Database.Name,
			Engine: spec.Database.Engine,
		},
		byTable:  make(map[int64]*Table),
		byField:  make(map[int64]*Field),
		fieldsOf: make(map[int64][]*Field),
		cards:    make(map[int64]*Card),
	}

	features := make([]Feature, 0, len(spec.Database.Features))
	for _, f := range spec.Database.Features {
		features = append(features, Feature(f))
	}
	s.features = NewFeatureSet(features...)

	for _, ts := range spec.Tables {
		if _, dup := s.byTable[ts.ID]; dup {
			return nil, fmt.Errorf("duplicate table id %d", ts.ID)
		}
		t := &Table{
			ID:          ts.ID,
			Schema:      ts.Schema,
			Name:        ts.Name,
			DisplayName: ts.DisplayName,
		}
		if t.DisplayName == "" {
			t.DisplayName = Humanize(ts.Name)
		}
		s.tables = append(s.tables, t)
		s.byTable[t.ID] = t

		for i, fs := range ts.Fields {
			if _, dup := s.byField[fs.ID]; dup {
				return nil, fmt.Errorf("duplicate field id %d in table %s", fs.ID, ts.Name)
			}
			f := &Field{
				ID:           fs.ID,
				TableID:      t.ID,
				Name:         fs.Name,
				DisplayName:  fs.DisplayName,
				BaseType:     BaseType(fs.BaseType),
				SemanticType: SemanticType(fs.SemanticType),
				Position:     i,
				FKTargetID:   fs.FKTarget,
			}
			if f.DisplayName == "" {
				f.DisplayName = Humanize(fs.Name)
			}
			if f.BaseType == "" {
				f.BaseType = TypeUnknown
			}
			s.byField[f.ID] = f
			s.fieldsOf[t.ID] = append(s.fieldsOf[t.ID], f)
		}
	}

	for _, f := range s.byField {
		if f.FKTargetID != 0 {
			if _, ok := s.byField[f.FKTargetID]; !ok {
				return nil, fmt.Errorf("field %d references unknown fk target %d", f.ID, f.FKTargetID)
			}
		}
	}

	for _, cs := range spec.Cards {
		c := &Card{ID: cs.ID, Name: cs.Name}
		for _, col := range cs.Columns {
			cc := CardColumn{
				Name:         col.Name,
				DisplayName:  col.DisplayName,
				BaseType:     BaseType(col.BaseType),
				SemanticType: SemanticType(col.SemanticType),
			}
			if cc.DisplayName == "" {
				cc.DisplayName = Humanize(col.Name)
			}
			c.Columns = append(c.Columns, cc)
		}
		s.cards[c.ID] = c
	}

	sort.Slice(s.tables, func(i, j int) bool { return s.tables[i].ID < s.tables[j].ID })
	return s, nil
}

// ParseSnapshot decodes a YAML (or JSON) document into a Snapshot.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	spec, err := ParseSnapshotSpec(data)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(spec)
}

// ParseSnapshotSpec decodes a YAML (or JSON) document without validating it.
func ParseSnapshotSpec(data []byte) (SnapshotSpec, error) {
	var spec SnapshotSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return SnapshotSpec{}, fmt.Errorf("failed to parse metadata snapshot: %w", err)
	}
	return spec, nil
}

// LoadSnapshotFile reads and parses a snapshot file.
func LoadSnapshotFile(path string) (*Snapshot, error) {
	spec, err := LoadSnapshotSpecFile(path)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(spec)
}

// LoadSnapshotSpecFile reads a snapshot file without validating it.
func LoadSnapshotSpecFile(path string) (SnapshotSpec, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from user configuration
	if err != nil {
		return SnapshotSpec{}, fmt.Errorf("failed to read metadata snapshot %s: %w", path, err)
	}
	return ParseSnapshotSpec(data)
}

// MarshalSnapshotSpec encodes spec as YAML.
func MarshalSnapshotSpec(spec SnapshotSpec) ([]byte, error) {
	return yaml.Marshal(spec)
}

// WithFeatures returns a copy of s declaring exactly the given features.
func (s *Snapshot) WithFeatures(features ...Feature) *Snapshot {
	c := *s
	c.features = NewFeatureSet(features...)
	return &c
}

// Database returns the snapshot's database.
func (s *Snapshot) Database() Database { return s.db }

// DatabaseFeatures returns the declared feature set.
func (s *Snapshot) DatabaseFeatures() FeatureSet { return s.features }

// LookupTable returns the table with the given id.
func (s *Snapshot) LookupTable(id int64) (*Table, error) {
	if t, ok := s.byTable[id]; ok {
		return t, nil
	}
	return nil, &NotFoundError{Kind: "table", ID: id}
}

// LookupField returns the field with the given id.
func (s *Snapshot) LookupField(id int64) (*Field, error) {
	if f, ok := s.byField[id]; ok {
		return f, nil
	}
	return nil, &NotFoundError{Kind: "field", ID: id}
}

// LookupCard returns the card with the given id.
func (s *Snapshot) LookupCard(id int64) (*Card, error) {
	if c, ok := s.cards[id]; ok {
		return c, nil
	}
	return nil, &NotFoundError{Kind: "card", ID: id}
}

// Tables returns all tables ordered by id.
func (s *Snapshot) Tables() []*Table {
	return s.tables
}

// TableFields returns a table's fields in declaration order.
func (s *Snapshot) TableFields(tableID int64) ([]*Field, error) {
	if _, ok := s.byTable[tableID]; !ok {
		return nil, &NotFoundError{Kind: "table", ID: tableID}
	}
	return s.fieldsOf[tableID], nil
}
