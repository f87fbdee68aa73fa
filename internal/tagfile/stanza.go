package tagfile

import "strings"

// FileContents is the synthetic field holding the verbatim input bytes.
const FileContents = "filecontents"

// Field is one name/value pair of a stanza.
type Field struct {
	Name  string
	Value string
}

// Stanza is one control-file paragraph. Field names keep the case they
// were written in; lookups are case-insensitive.
type Stanza struct {
	fields []Field
	index  map[string]int

	// Raw is the original input, byte for byte.
	Raw []byte
}

func newStanza() *Stanza {
	return &Stanza{index: make(map[string]int)}
}

func (s *Stanza) add(name, value string) bool {
	key := strings.ToLower(name)
	if _, dup := s.index[key]; dup {
		return false
	}
	s.index[key] = len(s.fields)
	s.fields = append(s.fields, Field{Name: name, Value: value})
	return true
}

func (s *Stanza) appendTo(name, text string) {
	i := s.index[strings.ToLower(name)]
	s.fields[i].Value += text
}

func (s *Stanza) value(name string) string {
	return s.fields[s.index[strings.ToLower(name)]].Value
}

// Get returns the value of a field and whether it is present.
func (s *Stanza) Get(name string) (string, bool) {
	i, ok := s.index[strings.ToLower(name)]
	if !ok {
		return "", false
	}
	return s.fields[i].Value, true
}

// Value returns the value of a field, or "" if it is absent.
func (s *Stanza) Value(name string) string {
	v, _ := s.Get(name)
	return v
}

// Has reports whether the field is present.
func (s *Stanza) Has(name string) bool {
	_, ok := s.index[strings.ToLower(name)]
	return ok
}

// Fields returns the fields in input order.
func (s *Stanza) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Len returns the number of fields, including FileContents.
func (s *Stanza) Len() int {
	return len(s.fields)
}
