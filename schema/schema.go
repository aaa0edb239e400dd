// Package schema holds the in-memory schema representation the runtime is
// driven by: models, fields, relations, unique keys, enums and access
// policies. The representation is built once at process start (normally by
// the generator, by hand in tests) and is immutable afterwards.
package schema

import (
	"fmt"
	"strings"

	"github.com/satishbabariya/aegis/expr"
	"github.com/satishbabariya/aegis/runtime/types"
)

// Provider identifies the database provider a schema targets.
type Provider string

// Supported providers.
const (
	Postgres Provider = "postgresql"
	SQLite   Provider = "sqlite"
)

// Builtin scalar types.
const (
	TypeString   = "String"
	TypeInt      = "Int"
	TypeFloat    = "Float"
	TypeBigInt   = "BigInt"
	TypeDecimal  = "Decimal"
	TypeBoolean  = "Boolean"
	TypeDateTime = "DateTime"
	TypeBytes    = "Bytes"
	TypeJson     = "Json"
)

var builtinTypes = map[string]bool{
	TypeString: true, TypeInt: true, TypeFloat: true, TypeBigInt: true,
	TypeDecimal: true, TypeBoolean: true, TypeDateTime: true,
	TypeBytes: true, TypeJson: true,
}

// IsBuiltin reports whether t is a builtin scalar type.
func IsBuiltin(t string) bool { return builtinTypes[t] }

// Generator identifies a value generator for defaulted fields.
type Generator string

// Supported generators.
const (
	GenNone          Generator = ""
	GenCUID          Generator = "cuid"
	GenCUID2         Generator = "cuid2"
	GenUUID4         Generator = "uuid4"
	GenUUID7         Generator = "uuid7"
	GenNanoID        Generator = "nanoid"
	GenAutoincrement Generator = "autoincrement"
)

// Schema is the root of the IR.
type Schema struct {
	Provider  Provider
	Models    []*Model
	Enums     map[string][]string
	AuthModel string

	byName map[string]*Model
}

// Relation describes the owning metadata of a relation field. If Fields is
// set, the declaring model owns the foreign key; otherwise the opposite side
// does (or, for two opposing arrays with no fields, an implicit join table).
type Relation struct {
	Name       string
	Fields     []string
	References []string
	OnDelete   string
}

// Field is a scalar, enum or relation field of a model.
type Field struct {
	Name          string
	Type          string
	DBName        string
	Optional      bool
	Array         bool
	ID            bool
	Unique        bool
	UpdatedAt     bool
	Default       expr.Expr
	Generator     Generator
	Relation      *Relation
	ForeignKeyFor []string
	OriginModel   string
	Computed      bool

	model    *Model
	relModel *Model
}

// IsRelation reports whether the field references another model.
func (f *Field) IsRelation() bool { return f.relModel != nil }

// RelatedModel returns the model a relation field points at.
func (f *Field) RelatedModel() *Model { return f.relModel }

// IsToMany reports whether the field is an array relation.
func (f *Field) IsToMany() bool { return f.IsRelation() && f.Array }

// Column returns the database column name backing the field.
func (f *Field) Column() string {
	if f.DBName != "" {
		return f.DBName
	}
	return f.Name
}

// Model returns the model declaring the field.
func (f *Field) Model() *Model { return f.model }

// UniqueSet is one alternative set of fields that uniquely identifies a row.
type UniqueSet struct {
	Name   string
	Fields []string
}

// Model describes one entity.
type Model struct {
	Name           string
	DBTable        string
	Fields         []*Field
	IDFields       []string
	UniqueFields   []UniqueSet
	Policies       []*Policy
	ComputedFields map[string]expr.Expr
	BaseModel      string
	IsDelegate     bool
	Descendants    []string

	schema *Schema
	byName map[string]*Field
	byCol  map[string]*Field
}

// Table returns the database table name.
func (m *Model) Table() string {
	if m.DBTable != "" {
		return m.DBTable
	}
	return m.Name
}

// Field returns the named field, or nil.
func (m *Model) Field(name string) *Field { return m.byName[name] }

// FieldByColumn returns the field backed by the named column, or nil.
func (m *Model) FieldByColumn(col string) *Field { return m.byCol[col] }

// Scalars returns all non-relation, non-computed fields in declaration order.
func (m *Model) Scalars() []*Field {
	var out []*Field
	for _, f := range m.Fields {
		if !f.IsRelation() && !f.Computed {
			out = append(out, f)
		}
	}
	return out
}

// Relations returns all relation fields in declaration order.
func (m *Model) Relations() []*Field {
	var out []*Field
	for _, f := range m.Fields {
		if f.IsRelation() {
			out = append(out, f)
		}
	}
	return out
}

// IDs returns the id fields.
func (m *Model) IDs() []*Field {
	out := make([]*Field, 0, len(m.IDFields))
	for _, name := range m.IDFields {
		out = append(out, m.byName[name])
	}
	return out
}

// Schema returns the schema the model belongs to.
func (m *Model) Schema() *Schema { return m.schema }

// UniqueSets enumerates every alternative way to uniquely address a row:
// the id set first, then singular @unique fields, then compound sets.
func (m *Model) UniqueSets() []UniqueSet {
	var out []UniqueSet
	if len(m.IDFields) > 0 {
		out = append(out, UniqueSet{Name: strings.Join(m.IDFields, "_"), Fields: m.IDFields})
	}
	for _, f := range m.Fields {
		if f.Unique && !f.ID {
			out = append(out, UniqueSet{Name: f.Name, Fields: []string{f.Name}})
		}
	}
	out = append(out, m.UniqueFields...)
	return out
}

// Model returns the named model or an InternalError.
func (s *Schema) Model(name string) (*Model, error) {
	m, ok := s.byName[name]
	if !ok {
		return nil, types.Internalf("unknown model %s", name)
	}
	return m, nil
}

// HasModel reports whether name is a model of this schema.
func (s *Schema) HasModel(name string) bool {
	_, ok := s.byName[name]
	return ok
}

// IsEnum reports whether name is an enum of this schema.
func (s *Schema) IsEnum(name string) bool {
	_, ok := s.Enums[name]
	return ok
}

// New builds and validates a schema from its models. Violated invariants
// are programming errors in the IR, not user input, and surface as
// InternalError.
func New(provider Provider, models ...*Model) (*Schema, error) {
	s := &Schema{
		Provider: provider,
		Models:   models,
		Enums:    map[string][]string{},
		byName:   make(map[string]*Model, len(models)),
	}
	for _, m := range models {
		if _, dup := s.byName[m.Name]; dup {
			return nil, types.Internalf("duplicate model %s", m.Name)
		}
		s.byName[m.Name] = m
	}
	if err := s.resolve(); err != nil {
		return nil, err
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// MustNew builds a schema, panicking on invariant violations. Intended for
// generated code and tests.
func MustNew(provider Provider, models ...*Model) *Schema {
	s, err := New(provider, models...)
	if err != nil {
		panic(err)
	}
	return s
}

// WithEnums attaches enum definitions. Must be called before queries run.
func (s *Schema) WithEnums(enums map[string][]string) *Schema {
	s.Enums = enums
	return s
}

// WithAuthModel sets the model auth() is typed as.
func (s *Schema) WithAuthModel(name string) *Schema {
	s.AuthModel = name
	return s
}

func (s *Schema) resolve() error {
	for _, m := range s.Models {
		m.schema = s
		m.byName = make(map[string]*Field, len(m.Fields))
		m.byCol = make(map[string]*Field, len(m.Fields))
		for _, f := range m.Fields {
			if _, dup := m.byName[f.Name]; dup {
				return types.Internalf("duplicate field %s.%s", m.Name, f.Name)
			}
			f.model = m
			m.byName[f.Name] = f
			m.byCol[f.Column()] = f
			if rel, ok := s.byName[f.Type]; ok {
				f.relModel = rel
			}
			if f.ID && !containsString(m.IDFields, f.Name) {
				m.IDFields = append(m.IDFields, f.Name)
			}
		}
	}

	// Second pass: FK back references and delegate descendants.
	for _, m := range s.Models {
		for _, f := range m.Fields {
			if f.Relation == nil || !f.IsRelation() {
				continue
			}
			for _, fk := range f.Relation.Fields {
				fkField := m.Field(fk)
				if fkField == nil {
					return types.Internalf("relation %s.%s references unknown FK field %s", m.Name, f.Name, fk)
				}
				if !containsString(fkField.ForeignKeyFor, f.Name) {
					fkField.ForeignKeyFor = append(fkField.ForeignKeyFor, f.Name)
				}
			}
		}
		if m.BaseModel != "" {
			base, ok := s.byName[m.BaseModel]
			if !ok {
				return types.Internalf("model %s extends unknown base %s", m.Name, m.BaseModel)
			}
			if !containsString(base.Descendants, m.Name) {
				base.Descendants = append(base.Descendants, m.Name)
			}
		}
	}
	return nil
}

func (s *Schema) validate() error {
	if s.Provider != Postgres && s.Provider != SQLite {
		return types.Internalf("unknown provider %q", s.Provider)
	}
	for _, m := range s.Models {
		if len(m.IDFields) == 0 && len(m.UniqueFields) == 0 {
			hasUnique := false
			for _, f := range m.Fields {
				if f.Unique {
					hasUnique = true
					break
				}
			}
			if !hasUnique {
				return types.Internalf("model %s has no id or unique key", m.Name)
			}
		}
		for _, f := range m.Fields {
			if f.IsRelation() {
				if f.Relation != nil && len(f.Relation.Fields) != len(f.Relation.References) {
					return types.Internalf("relation %s.%s: fields and references length mismatch", m.Name, f.Name)
				}
				if _, _, err := s.Opposite(m, f); err != nil {
					return err
				}
			} else if !IsBuiltin(f.Type) && !s.IsEnum(f.Type) && f.Type != "" {
				// Enum registration may come later via WithEnums; only a
				// name that can never resolve is fatal.
				if strings.ToUpper(f.Type[:1]) != f.Type[:1] {
					return types.Internalf("field %s.%s has unknown type %s", m.Name, f.Name, f.Type)
				}
			}
		}
		// Delegate chains must be acyclic.
		seen := map[string]bool{}
		for cur := m; cur.BaseModel != ""; {
			if seen[cur.Name] {
				return types.Internalf("delegate cycle through %s", m.Name)
			}
			seen[cur.Name] = true
			next, ok := s.byName[cur.BaseModel]
			if !ok {
				break
			}
			cur = next
		}
	}
	return nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func (s *Schema) String() string {
	names := make([]string, len(s.Models))
	for i, m := range s.Models {
		names[i] = m.Name
	}
	return fmt.Sprintf("schema(%s: %s)", s.Provider, strings.Join(names, ", "))
}
