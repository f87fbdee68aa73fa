package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/frederic-klein/soyuz/internal/archive"
)

// CreateBuild stores b. An empty ID is replaced by a new UUID; the stored
// build is returned.
func (s *Store) CreateBuild(ctx context.Context, b archive.Build) (archive.Build, error) {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.SourceName == "" || b.Series == "" || b.Arch == "" {
		return b, fmt.Errorf("build %s needs a source, a series and an architecture", b.ID)
	}
	if b.Pocket == "" {
		b.Pocket = archive.PocketRelease
	}
	if b.Component == "" {
		b.Component = archive.DefaultComponent
	}
	if _, err := archive.ParsePocket(string(b.Pocket)); err != nil {
		return b, err
	}
	if _, err := archive.ParseComponent(string(b.Component)); err != nil {
		return b, err
	}
	_, err := s.q.ExecContext(ctx, `INSERT INTO builds(id,archive_id,source_name,series,arch,pocket,component,created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		b.ID, b.Archive.ID, b.SourceName, b.Series, b.Arch, string(b.Pocket), string(b.Component), time.Now().UnixNano())
	if err != nil {
		return b, fmt.Errorf("creating build %s: %w", b.ID, err)
	}
	return b, nil
}

// BuildByID returns the build with the given ID, including its archive.
func (s *Store) BuildByID(ctx context.Context, id string) (archive.Build, error) {
	var (
		b         archive.Build
		archiveID int64
		pocket    string
		component string
	)
	err := s.q.QueryRowContext(ctx, `SELECT id,archive_id,source_name,series,arch,pocket,component FROM builds WHERE id=?`, id).
		Scan(&b.ID, &archiveID, &b.SourceName, &b.Series, &b.Arch, &pocket, &component)
	if errors.Is(err, sql.ErrNoRows) {
		return b, fmt.Errorf("build %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return b, fmt.Errorf("build %s: %w", id, err)
	}
	b.Pocket, b.Component = archive.Pocket(pocket), archive.Component(component)
	if b.Archive, err = s.Archive(ctx, archiveID); err != nil {
		return b, fmt.Errorf("archive of build %s: %w", id, err)
	}
	return b, nil
}
