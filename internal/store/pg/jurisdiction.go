package pg

import (
	"context"
	"database/sql"

	"civitas.org/internal/fault"
	"civitas.org/internal/jurisdiction"
)

const nodeColumns = `id, level, coalesce(parent_id, 0), name, created_at`

func scanNode(row rowScanner) (jurisdiction.Node, error) {
	var n jurisdiction.Node
	err := row.Scan(&n.ID, &n.Level, &n.ParentID, &n.Name, &n.CreatedAt)
	return n, err
}

func (s *Store) AddJurisdiction(ctx context.Context, level jurisdiction.Level, parentID int64, name string) (jurisdiction.Node, error) {
	if err := jurisdiction.ValidateNew(level, parentID, name); err != nil {
		return jurisdiction.Node{}, err
	}
	if level != jurisdiction.LevelCountry {
		want, _ := level.Parent()
		var got jurisdiction.Level
		err := s.db.QueryRowContext(ctx, `select level from jurisdictions where id = $1`, parentID).Scan(&got)
		if err != nil && !noRows(err) {
			return jurisdiction.Node{}, err
		}
		if noRows(err) || got != want {
			return jurisdiction.Node{}, fault.ErrOrphanJurisdiction.At(string(level), 0).
				Withf("no %s with id %d", want, parentID)
		}
	}
	n := jurisdiction.Node{
		Level:     level,
		ParentID:  parentID,
		Name:      jurisdiction.NormalizeName(name),
		CreatedAt: s.clock(),
	}
	err := s.db.QueryRowContext(ctx, `
		insert into jurisdictions (level, parent_id, name, name_key, created_at)
		values ($1, $2, $3, $4, $5)
		returning id
	`, n.Level, nullInt(parentID), n.Name, jurisdiction.NameKey(name), n.CreatedAt).Scan(&n.ID)
	if err != nil {
		return jurisdiction.Node{}, translate(err)
	}
	return n, nil
}

func (s *Store) GetJurisdiction(ctx context.Context, ref jurisdiction.Ref) (jurisdiction.Node, error) {
	n, err := scanNode(s.db.QueryRowContext(ctx, `select `+nodeColumns+` from jurisdictions where id = $1`, ref.ID))
	if noRows(err) || (err == nil && ref.Level != "" && n.Level != ref.Level) {
		return jurisdiction.Node{}, fault.ErrNotFound.At(string(ref.Level), ref.ID)
	}
	return n, err
}

func (s *Store) ResolvePath(ctx context.Context, q jurisdiction.Query) (jurisdiction.Path, error) {
	return jurisdiction.Resolve(ctx, q, s.findChild)
}

func (s *Store) findChild(ctx context.Context, level jurisdiction.Level, parentID int64, name string) (jurisdiction.Node, error) {
	n, err := scanNode(s.db.QueryRowContext(ctx, `
		select `+nodeColumns+`
		from jurisdictions
		where level = $1 and coalesce(parent_id, 0) = $2 and name_key = $3
	`, level, parentID, jurisdiction.NameKey(name)))
	if noRows(err) {
		return jurisdiction.Node{}, fault.ErrNotFound.At(string(level), 0).Withf("%q", name)
	}
	return n, err
}

func (s *Store) ListChildren(ctx context.Context, parent jurisdiction.Ref) ([]jurisdiction.Node, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if parent.IsZero() {
		rows, err = s.db.QueryContext(ctx, `
			select `+nodeColumns+` from jurisdictions where parent_id is null order by name, id
		`)
	} else {
		p, perr := s.GetJurisdiction(ctx, parent)
		if perr != nil {
			return nil, perr
		}
		childLevel, ok := p.Level.Child()
		if !ok {
			return []jurisdiction.Node{}, nil
		}
		rows, err = s.db.QueryContext(ctx, `
			select `+nodeColumns+` from jurisdictions where parent_id = $1 and level = $2 order by name, id
		`, p.ID, childLevel)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []jurisdiction.Node{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
