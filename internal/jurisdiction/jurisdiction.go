// Package jurisdiction models the country > state > county > city tree that
// elections, bills and profiles use as a locator.
package jurisdiction

import (
	"context"
	"strings"
	"time"

	"civitas.org/internal/fault"
)

type Level string

const (
	LevelCountry Level = "country"
	LevelState   Level = "state"
	LevelCounty  Level = "county"
	LevelCity    Level = "city"
)

var levels = []Level{LevelCountry, LevelState, LevelCounty, LevelCity}

// Valid reports whether l is one of the four known levels.
func (l Level) Valid() bool {
	return l.depth() >= 0
}

// Parent returns the level directly above l. Countries have no parent.
func (l Level) Parent() (Level, bool) {
	d := l.depth()
	if d <= 0 {
		return "", false
	}
	return levels[d-1], true
}

// Child returns the level directly below l. Cities have no children.
func (l Level) Child() (Level, bool) {
	d := l.depth()
	if d < 0 || d == len(levels)-1 {
		return "", false
	}
	return levels[d+1], true
}

func (l Level) depth() int {
	for i, v := range levels {
		if v == l {
			return i
		}
	}
	return -1
}

// Ref points at one node of the tree. The zero Ref is the root above all countries.
type Ref struct {
	Level Level
	ID    int64
}

func (r Ref) IsZero() bool { return r.ID == 0 }

type Node struct {
	ID        int64
	Level     Level
	ParentID  int64
	Name      string
	CreatedAt time.Time
}

func (n Node) Ref() Ref { return Ref{Level: n.Level, ID: n.ID} }

// Path is a resolved chain of nodes from a country downwards.
type Path []Node

// Leaf returns the deepest node of the path.
func (p Path) Leaf() Node {
	if len(p) == 0 {
		return Node{}
	}
	return p[len(p)-1]
}

// At returns the node at level l, if the path reaches that deep.
func (p Path) At(l Level) (Node, bool) {
	for _, n := range p {
		if n.Level == l {
			return n, true
		}
	}
	return Node{}, false
}

// Query names a location by its components. Components must form a prefix:
// a county cannot be given without its state.
type Query struct {
	Country string
	State   string
	County  string
	City    string
}

func (q Query) names() []string {
	all := []string{q.Country, q.State, q.County, q.City}
	out := make([]string, 0, len(all))
	for i, n := range all {
		n = strings.TrimSpace(n)
		if n == "" {
			for _, rest := range all[i+1:] {
				if strings.TrimSpace(rest) != "" {
					return nil
				}
			}
			break
		}
		out = append(out, n)
	}
	return out
}

// Directory is the persistent jurisdiction tree.
type Directory interface {
	AddJurisdiction(ctx context.Context, level Level, parentID int64, name string) (Node, error)
	GetJurisdiction(ctx context.Context, ref Ref) (Node, error)
	ResolvePath(ctx context.Context, q Query) (Path, error)
	ListChildren(ctx context.Context, parent Ref) ([]Node, error)
}

// Finder looks up a direct child of parentID by case-insensitive name.
type Finder func(ctx context.Context, level Level, parentID int64, name string) (Node, error)

// Resolve walks q from the country down using find.
func Resolve(ctx context.Context, q Query, find Finder) (Path, error) {
	names := q.names()
	if names == nil {
		return nil, fault.ErrInvalidInput.Withf("jurisdiction query has a gap: %+v", q)
	}
	if len(names) == 0 {
		return nil, fault.ErrInvalidInput.Withf("jurisdiction query is empty")
	}
	path := make(Path, 0, len(names))
	var parent int64
	for i, name := range names {
		n, err := find(ctx, levels[i], parent, name)
		if err != nil {
			return nil, err
		}
		path = append(path, n)
		parent = n.ID
	}
	return path, nil
}

// NormalizeName trims surrounding whitespace and collapses inner runs of spaces.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// NameKey is the case-insensitive uniqueness key for a name within its parent.
func NameKey(name string) string {
	return strings.ToLower(NormalizeName(name))
}

// ValidateNew checks the shape of an insertion before the parent is looked up.
func ValidateNew(level Level, parentID int64, name string) error {
	if !level.Valid() {
		return fault.ErrInvalidInput.Withf("unknown jurisdiction level %q", level)
	}
	if NormalizeName(name) == "" {
		return fault.ErrInvalidInput.At(string(level), 0).Withf("name is required")
	}
	if level == LevelCountry && parentID != 0 {
		return fault.ErrInvalidInput.At(string(level), 0).Withf("countries have no parent")
	}
	if level != LevelCountry && parentID <= 0 {
		return fault.ErrOrphanJurisdiction.At(string(level), 0).Withf("parent is required")
	}
	return nil
}
