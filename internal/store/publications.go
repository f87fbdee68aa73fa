package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pault.ag/go/debian/version"

	"github.com/frederic-klein/soyuz/internal/archive"
)

// SourcePublication is a source package published in an archive.
type SourcePublication struct {
	Archive     archive.Archive
	Name        string
	Version     string
	Component   archive.Component
	Series      string
	Pocket      archive.Pocket
	PublishedAt time.Time
}

// BinaryPublication is a binary package published in an archive for one
// architecture, or "all".
type BinaryPublication struct {
	Archive     archive.Archive
	Name        string
	Version     string
	Arch        string
	Component   archive.Component
	Series      string
	Pocket      archive.Pocket
	PublishedAt time.Time
}

func checkPublication(v string, c archive.Component, p archive.Pocket) error {
	if _, err := version.Parse(v); err != nil {
		return fmt.Errorf("version %q: %w", v, err)
	}
	if _, err := archive.ParseComponent(string(c)); err != nil {
		return err
	}
	if _, err := archive.ParsePocket(string(p)); err != nil {
		return err
	}
	return nil
}

// PublishSource records a source publication.
func (s *Store) PublishSource(ctx context.Context, p SourcePublication) error {
	if err := checkPublication(p.Version, p.Component, p.Pocket); err != nil {
		return fmt.Errorf("publishing source %s: %w", p.Name, err)
	}
	if p.PublishedAt.IsZero() {
		p.PublishedAt = time.Now()
	}
	_, err := s.q.ExecContext(ctx, `INSERT INTO source_publications(archive_id,source_name,version,component,series,pocket,published_at)
		VALUES (?,?,?,?,?,?,?)`,
		p.Archive.ID, p.Name, p.Version, string(p.Component), p.Series, string(p.Pocket), p.PublishedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("publishing source %s in %s: %w", p.Name, p.Archive, err)
	}
	return nil
}

// PublishBinary records a binary publication.
func (s *Store) PublishBinary(ctx context.Context, p BinaryPublication) error {
	if err := checkPublication(p.Version, p.Component, p.Pocket); err != nil {
		return fmt.Errorf("publishing binary %s: %w", p.Name, err)
	}
	if p.Arch == "" {
		return fmt.Errorf("publishing binary %s: no architecture", p.Name)
	}
	if p.PublishedAt.IsZero() {
		p.PublishedAt = time.Now()
	}
	_, err := s.q.ExecContext(ctx, `INSERT INTO binary_publications(archive_id,binary_name,version,arch,component,series,pocket,published_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		p.Archive.ID, p.Name, p.Version, p.Arch, string(p.Component), p.Series, string(p.Pocket), p.PublishedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("publishing binary %s in %s: %w", p.Name, p.Archive, err)
	}
	return nil
}

// LatestAncestry returns the component of the most recently published
// version of sourceName in a for series. ok is false if it was never
// published there.
func (s *Store) LatestAncestry(ctx context.Context, sourceName string, a archive.Archive, series string) (archive.Component, bool, error) {
	var component string
	err := s.q.QueryRowContext(ctx, `SELECT component FROM source_publications
		WHERE archive_id=? AND source_name=? AND series=?
		ORDER BY published_at DESC, id DESC LIMIT 1`, a.ID, sourceName, series).Scan(&component)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("ancestry of %s in %s: %w", sourceName, a, err)
	}
	return archive.Component(component), true, nil
}

// HasPublishedBinaries reports whether a has any binary published for
// arch in series and pocket. Architecture-independent binaries count for
// every architecture.
func (s *Store) HasPublishedBinaries(ctx context.Context, a archive.Archive, arch, series string, pocket archive.Pocket) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM binary_publications
		WHERE archive_id=? AND series=? AND pocket=? AND arch IN (?, 'all')`,
		a.ID, series, string(pocket), arch).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("counting binaries in %s: %w", a, err)
	}
	return n > 0, nil
}

// Series returns the series known in distribution, from its publications
// and builds, sorted.
func (s *Store) Series(ctx context.Context, distribution string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT p.series FROM source_publications p JOIN archives a ON a.id=p.archive_id WHERE a.distribution=?
		UNION SELECT p.series FROM binary_publications p JOIN archives a ON a.id=p.archive_id WHERE a.distribution=?
		UNION SELECT b.series FROM builds b JOIN archives a ON a.id=b.archive_id WHERE a.distribution=?
		ORDER BY 1`, distribution, distribution, distribution)
	if err != nil {
		return nil, fmt.Errorf("series of %s: %w", distribution, err)
	}
	defer rows.Close()

	var series []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		series = append(series, name)
	}
	return series, rows.Err()
}
