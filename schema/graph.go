package schema

import (
	"sort"

	"github.com/satishbabariya/aegis/runtime/types"
)

// KeyPair pairs a foreign-key column on the owning side with the primary (or
// referenced unique) column on the other side.
type KeyPair struct {
	FK string
	PK string
}

// RelationLink describes how a relation joins: the FK/PK column pairs and
// which side carries the foreign key. OwnedByModel is true when the model
// declaring the field owns the FK, which dictates join direction everywhere
// downstream.
type RelationLink struct {
	Pairs        []KeyPair
	OwnedByModel bool
}

// JoinTable describes an implicit many-to-many join table.
type JoinTable struct {
	Table    string
	ParentFK string
	OtherFK  string
}

// Opposite finds the relation field on the related model that points back at
// (m, f). When the related model declares several relations to m they are
// disambiguated by relation name.
func (s *Schema) Opposite(m *Model, f *Field) (*Model, *Field, error) {
	other := f.RelatedModel()
	if other == nil {
		return nil, nil, types.Internalf("%s.%s is not a relation", m.Name, f.Name)
	}
	var candidates []*Field
	for _, of := range other.Fields {
		if of.RelatedModel() != m {
			continue
		}
		if other == m && of == f {
			// Self-relations pair two distinct fields.
			continue
		}
		if relName(f) != "" && relName(of) != "" && relName(f) != relName(of) {
			continue
		}
		candidates = append(candidates, of)
	}
	if len(candidates) != 1 {
		return nil, nil, types.Internalf("relation %s.%s has no consistent opposite on %s", m.Name, f.Name, other.Name)
	}
	return other, candidates[0], nil
}

func relName(f *Field) string {
	if f.Relation == nil {
		return ""
	}
	return f.Relation.Name
}

// RelationPairs resolves the FK/PK column pairs for (m, f). For implicit
// many-to-many relations there is no FK on either side; callers must check
// ImplicitJoinTable first.
func (s *Schema) RelationPairs(m *Model, f *Field) (*RelationLink, error) {
	if f.Relation != nil && len(f.Relation.Fields) > 0 {
		link := &RelationLink{OwnedByModel: true}
		for i, fk := range f.Relation.Fields {
			link.Pairs = append(link.Pairs, KeyPair{FK: fk, PK: f.Relation.References[i]})
		}
		return link, nil
	}
	_, opp, err := s.Opposite(m, f)
	if err != nil {
		return nil, err
	}
	if opp.Relation == nil || len(opp.Relation.Fields) == 0 {
		return nil, types.Internalf("relation %s.%s: neither side owns a foreign key", m.Name, f.Name)
	}
	link := &RelationLink{OwnedByModel: false}
	for i, fk := range opp.Relation.Fields {
		link.Pairs = append(link.Pairs, KeyPair{FK: fk, PK: opp.Relation.References[i]})
	}
	return link, nil
}

// ImplicitJoinTable detects the implicit many-to-many join table for (m, f):
// two opposing array relations without FK fields on either side. Column
// naming follows the A/B convention with model names ordered
// lexicographically, so both sides resolve to the same table.
func (s *Schema) ImplicitJoinTable(m *Model, f *Field) (*JoinTable, bool) {
	if !f.IsToMany() {
		return nil, false
	}
	other, opp, err := s.Opposite(m, f)
	if err != nil {
		return nil, false
	}
	if !opp.Array {
		return nil, false
	}
	if (f.Relation != nil && len(f.Relation.Fields) > 0) || (opp.Relation != nil && len(opp.Relation.Fields) > 0) {
		return nil, false
	}
	name := relName(f)
	if name == "" {
		pair := []string{m.Name, other.Name}
		sort.Strings(pair)
		name = pair[0] + "To" + pair[1]
	}
	jt := &JoinTable{Table: "_" + name}
	if m.Name <= other.Name {
		jt.ParentFK, jt.OtherFK = "A", "B"
	} else {
		jt.ParentFK, jt.OtherFK = "B", "A"
	}
	if m.Name == other.Name {
		// Self m2m: the parent is always A.
		jt.ParentFK, jt.OtherFK = "A", "B"
	}
	return jt, true
}

// DelegateChain returns the base-model chain of m, nearest ancestor first.
func (s *Schema) DelegateChain(m *Model) []*Model {
	var out []*Model
	seen := map[string]bool{m.Name: true}
	for cur := m; cur.BaseModel != ""; {
		base, ok := s.byName[cur.BaseModel]
		if !ok || seen[base.Name] {
			break
		}
		out = append(out, base)
		seen[base.Name] = true
		cur = base
	}
	return out
}

// DelegateDescendants returns every transitive descendant of m.
func (s *Schema) DelegateDescendants(m *Model) []*Model {
	var out []*Model
	for _, name := range m.Descendants {
		d, ok := s.byName[name]
		if !ok {
			continue
		}
		out = append(out, d)
		out = append(out, s.DelegateDescendants(d)...)
	}
	return out
}
