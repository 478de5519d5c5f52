package memory

import (
	"context"
	"sort"

	"civitas.org/internal/fault"
	"civitas.org/internal/jurisdiction"
)

func (s *Store) AddJurisdiction(_ context.Context, level jurisdiction.Level, parentID int64, name string) (jurisdiction.Node, error) {
	if err := jurisdiction.ValidateNew(level, parentID, name); err != nil {
		return jurisdiction.Node{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if level != jurisdiction.LevelCountry {
		want, _ := level.Parent()
		parent, ok := s.nodes[parentID]
		if !ok || parent.Level != want {
			return jurisdiction.Node{}, fault.ErrOrphanJurisdiction.At(string(level), 0).
				Withf("no %s with id %d", want, parentID)
		}
	}
	key := nodeKey{level: level, parentID: parentID, name: jurisdiction.NameKey(name)}
	if _, ok := s.nodeIndex[key]; ok {
		return jurisdiction.Node{}, fault.ErrDuplicateJurisdiction.At(string(level), 0).
			On("jurisdictions_parent_name_key").Withf("%q already exists under %d", jurisdiction.NormalizeName(name), parentID)
	}
	n := jurisdiction.Node{
		ID:        s.nextID("jurisdictions"),
		Level:     level,
		ParentID:  parentID,
		Name:      jurisdiction.NormalizeName(name),
		CreatedAt: s.clock(),
	}
	s.nodes[n.ID] = n
	s.nodeIndex[key] = n.ID
	return n, nil
}

func (s *Store) GetJurisdiction(_ context.Context, ref jurisdiction.Ref) (jurisdiction.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.node(ref)
}

// node must be called with the lock held.
func (s *Store) node(ref jurisdiction.Ref) (jurisdiction.Node, error) {
	n, ok := s.nodes[ref.ID]
	if !ok || (ref.Level != "" && n.Level != ref.Level) {
		return jurisdiction.Node{}, fault.ErrNotFound.At(string(ref.Level), ref.ID)
	}
	return n, nil
}

func (s *Store) ResolvePath(ctx context.Context, q jurisdiction.Query) (jurisdiction.Path, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return jurisdiction.Resolve(ctx, q, s.findChild)
}

func (s *Store) findChild(_ context.Context, level jurisdiction.Level, parentID int64, name string) (jurisdiction.Node, error) {
	id, ok := s.nodeIndex[nodeKey{level: level, parentID: parentID, name: jurisdiction.NameKey(name)}]
	if !ok {
		return jurisdiction.Node{}, fault.ErrNotFound.At(string(level), 0).Withf("%q", name)
	}
	return s.nodes[id], nil
}

func (s *Store) ListChildren(_ context.Context, parent jurisdiction.Ref) ([]jurisdiction.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	childLevel := jurisdiction.LevelCountry
	if !parent.IsZero() {
		p, err := s.node(parent)
		if err != nil {
			return nil, err
		}
		lvl, ok := p.Level.Child()
		if !ok {
			return []jurisdiction.Node{}, nil
		}
		childLevel = lvl
	}
	out := []jurisdiction.Node{}
	for _, n := range s.nodes {
		if n.ParentID == parent.ID && n.Level == childLevel {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}
