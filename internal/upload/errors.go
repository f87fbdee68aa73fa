package upload

import "fmt"

// ParseError is a fatal structural problem with a changes file. Nothing
// from an upload failing with a ParseError is accepted.
type ParseError struct {
	Filename string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Filename, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ClassificationError reports a manifest file that is neither source,
// binary nor custom.
type ClassificationError struct {
	Filename string
	Priority string
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("%s: unable to identify file type (priority %q)", e.Filename, e.Priority)
}

// FileError is a recoverable problem with one uploaded file.
type FileError struct {
	Filename string
	Msg      string
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %s", e.Filename, e.Msg)
}

// Warning is informational and never blocks acceptance.
type Warning struct {
	Msg string
}

func (w Warning) String() string { return w.Msg }
