package executor

import (
	"time"

	"github.com/google/uuid"
	"github.com/lucsky/cuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/nrednav/cuid2"

	"github.com/satishbabariya/aegis/expr"
	"github.com/satishbabariya/aegis/runtime/types"
	"github.com/satishbabariya/aegis/schema"
)

// fillGenerated fills missing fields of a prospective row before insert:
// literal and now() defaults, @updatedAt timestamps, and generator values.
// autoincrement fields stay absent so the database assigns them.
func (e *Executor) fillGenerated(m *schema.Model, row types.Record) error {
	now := time.Now()
	for _, f := range m.Scalars() {
		if _, present := row[f.Name]; present {
			continue
		}
		if f.UpdatedAt {
			row[f.Name] = now
			continue
		}
		if f.Generator != schema.GenNone {
			if f.Generator == schema.GenAutoincrement {
				continue
			}
			v, err := generate(f.Generator)
			if err != nil {
				return err
			}
			row[f.Name] = v
			continue
		}
		if f.Default != nil {
			v, err := defaultValue(f.Default, now)
			if err != nil {
				return err
			}
			if v != nil {
				row[f.Name] = v
			}
		}
	}
	return nil
}

// touchUpdatedAt advances @updatedAt fields on update unless the caller set
// them explicitly.
func touchUpdatedAt(m *schema.Model, data types.Record) {
	now := time.Now()
	for _, f := range m.Scalars() {
		if !f.UpdatedAt {
			continue
		}
		if _, present := data[f.Name]; !present {
			data[f.Name] = now
		}
	}
}

func generate(g schema.Generator) (interface{}, error) {
	switch g {
	case schema.GenCUID:
		return cuid.New(), nil
	case schema.GenCUID2:
		return cuid2.Generate(), nil
	case schema.GenUUID4:
		return uuid.NewString(), nil
	case schema.GenUUID7:
		id, err := uuid.NewV7()
		if err != nil {
			return nil, err
		}
		return id.String(), nil
	case schema.GenNanoID:
		return gonanoid.New()
	}
	return nil, types.Internalf("unknown generator %s", g)
}

func defaultValue(e expr.Expr, now time.Time) (interface{}, error) {
	switch x := e.(type) {
	case *expr.Literal:
		return x.Value, nil
	case *expr.Call:
		if x.Name == "now" {
			return now, nil
		}
	case *expr.Null:
		return nil, nil
	}
	// Other non-constant defaults (auth()-derived and the like) are not
	// evaluated here; the field is left unset.
	return nil, nil
}
