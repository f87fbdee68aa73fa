package librarian

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Upload maps the filenames of one upload to stored content. It satisfies
// the upload pipeline's content source.
type Upload struct {
	lib   *Librarian
	files map[string]Hash
}

// NewUpload starts an empty upload.
func (l *Librarian) NewUpload() *Upload {
	return &Upload{lib: l, files: make(map[string]Hash)}
}

// Add stores the content of r under name.
func (u *Upload) Add(name string, r io.Reader) (Hash, error) {
	h, _, err := u.lib.Put(r)
	if err != nil {
		return h, fmt.Errorf("adding %s: %w", name, err)
	}
	u.files[name] = h
	return h, nil
}

// AddFile stores the file at path under its base name.
func (u *Upload) AddFile(path string) (Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return Hash{}, err
	}
	defer f.Close()
	return u.Add(filepath.Base(path), f)
}

// AddDir stores every regular file directly inside dir.
func (u *Upload) AddDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if _, err := u.AddFile(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Open returns the content stored under name.
func (u *Upload) Open(name string) (io.ReadCloser, error) {
	h, ok := u.files[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return u.lib.Get(h)
}

// Names returns the stored filenames, sorted.
func (u *Upload) Names() []string {
	names := make([]string, 0, len(u.files))
	for n := range u.files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
