package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/frederic-klein/soyuz/internal/archive"
)

const archiveColumns = `id,distribution,name,owner,purpose,private,components`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanArchive(row rowScanner) (archive.Archive, error) {
	var (
		a          archive.Archive
		purpose    string
		components string
	)
	err := row.Scan(&a.ID, &a.Distribution, &a.Name, &a.Owner, &purpose, &a.Private, &components)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if a.Purpose, err = archive.ParsePurpose(purpose); err != nil {
		return a, err
	}
	if a.Components, err = splitComponents(components); err != nil {
		return a, fmt.Errorf("archive %d: %w", a.ID, err)
	}
	return a, nil
}

// InsertArchive stores a and returns it with its new ID.
func (s *Store) InsertArchive(ctx context.Context, a archive.Archive) (archive.Archive, error) {
	if a.Distribution == "" || a.Name == "" {
		return a, fmt.Errorf("archive needs a distribution and a name")
	}
	if a.Purpose == archive.PurposePPA && a.Owner == "" {
		return a, fmt.Errorf("ppa %s needs an owner", a.Name)
	}
	res, err := s.q.ExecContext(ctx, `INSERT INTO archives(distribution,name,owner,purpose,private,components) VALUES (?,?,?,?,?,?)`,
		a.Distribution, a.Name, a.Owner, string(a.Purpose), a.Private, joinComponents(a.Components))
	if err != nil {
		return a, fmt.Errorf("inserting archive %s: %w", a, err)
	}
	if a.ID, err = res.LastInsertId(); err != nil {
		return a, err
	}
	return a, nil
}

// Archive returns the archive with the given ID.
func (s *Store) Archive(ctx context.Context, id int64) (archive.Archive, error) {
	return scanArchive(s.q.QueryRowContext(ctx, `SELECT `+archiveColumns+` FROM archives WHERE id=?`, id))
}

// ArchiveByRef looks an archive up by its String form: "ppa:owner/name"
// or "distribution/name".
func (s *Store) ArchiveByRef(ctx context.Context, ref string) (archive.Archive, error) {
	if rest, ok := strings.CutPrefix(ref, "ppa:"); ok {
		owner, name, ok := strings.Cut(rest, "/")
		if !ok {
			return archive.Archive{}, fmt.Errorf("invalid ppa reference %q", ref)
		}
		return scanArchive(s.q.QueryRowContext(ctx,
			`SELECT `+archiveColumns+` FROM archives WHERE purpose=? AND owner=? AND name=?`, string(archive.PurposePPA), owner, name))
	}
	distribution, name, ok := strings.Cut(ref, "/")
	if !ok {
		return archive.Archive{}, fmt.Errorf("invalid archive reference %q", ref)
	}
	return scanArchive(s.q.QueryRowContext(ctx,
		`SELECT `+archiveColumns+` FROM archives WHERE distribution=? AND name=? AND purpose<>?`, distribution, name, string(archive.PurposePPA)))
}

// PrimaryArchive returns the primary archive of distribution.
func (s *Store) PrimaryArchive(ctx context.Context, distribution string) (archive.Archive, error) {
	a, err := scanArchive(s.q.QueryRowContext(ctx,
		`SELECT `+archiveColumns+` FROM archives WHERE distribution=? AND purpose=? ORDER BY id LIMIT 1`, distribution, string(archive.PurposePrimary)))
	if err != nil {
		return a, fmt.Errorf("primary archive of %s: %w", distribution, err)
	}
	return a, nil
}

// Archives lists every archive, ordered by ID.
func (s *Store) Archives(ctx context.Context) ([]archive.Archive, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+archiveColumns+` FROM archives ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []archive.Archive
	for rows.Next() {
		a, err := scanArchive(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// AddDependency appends dep to the dependencies of a. Dependencies are
// returned in insertion order.
func (s *Store) AddDependency(ctx context.Context, a archive.Archive, dep archive.Dependency) error {
	if a.ID == dep.Archive.ID {
		return fmt.Errorf("archive %s cannot depend on itself", a)
	}
	if _, err := archive.ParsePocket(string(dep.Pocket)); err != nil {
		return err
	}
	if dep.Component != "" {
		if _, err := archive.ParseComponent(string(dep.Component)); err != nil {
			return err
		}
	}
	_, err := s.q.ExecContext(ctx, `INSERT INTO archive_dependencies(archive_id,position,dependency_id,pocket,component)
		VALUES (?, (SELECT COALESCE(MAX(position),0)+1 FROM archive_dependencies WHERE archive_id=?), ?, ?, ?)`,
		a.ID, a.ID, dep.Archive.ID, string(dep.Pocket), string(dep.Component))
	if err != nil {
		return fmt.Errorf("adding dependency of %s on %s: %w", a, dep.Archive, err)
	}
	return nil
}

// ConfiguredDependencies returns the operator-configured dependencies of a,
// in order.
func (s *Store) ConfiguredDependencies(ctx context.Context, a archive.Archive) ([]archive.Dependency, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT d.dependency_id, d.pocket, d.component
		FROM archive_dependencies d WHERE d.archive_id=? ORDER BY d.position`, a.ID)
	if err != nil {
		return nil, err
	}
	type row struct {
		id        int64
		pocket    string
		component string
	}
	var raw []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.pocket, &r.component); err != nil {
			rows.Close()
			return nil, err
		}
		raw = append(raw, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	deps := make([]archive.Dependency, 0, len(raw))
	for _, r := range raw {
		dep, err := s.Archive(ctx, r.id)
		if err != nil {
			return nil, fmt.Errorf("dependency %d of %s: %w", r.id, a, err)
		}
		deps = append(deps, archive.Dependency{Archive: dep, Pocket: archive.Pocket(r.pocket), Component: archive.Component(r.component)})
	}
	return deps, nil
}
