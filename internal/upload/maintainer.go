package upload

import (
	"fmt"
	"regexp"
	"strings"
)

// Person is a parsed Maintainer or Changed-By value.
type Person struct {
	Name string
	// Address is the field value as written.
	Address string
	// RFC822 is the form suitable for a mail header.
	RFC822 string
	Email  string
}

var (
	nameAngleEmailRe = regexp.MustCompile(`^\s*(.*?)\s*<([^<>]*)>\s*$`)
	emailParenNameRe = regexp.MustCompile(`^\s*(\S+)\s*\(([^()]*)\)\s*$`)
)

// ParsePerson parses "Name <email>", "email (Name)" or a bare address.
func ParsePerson(raw string) (Person, error) {
	p := Person{Address: raw}
	value := strings.TrimSpace(raw)
	if value == "" {
		return p, fmt.Errorf("empty address")
	}

	switch {
	case nameAngleEmailRe.MatchString(value):
		m := nameAngleEmailRe.FindStringSubmatch(value)
		p.Name, p.Email = m[1], strings.TrimSpace(m[2])
	case emailParenNameRe.MatchString(value):
		m := emailParenNameRe.FindStringSubmatch(value)
		p.Email, p.Name = m[1], strings.TrimSpace(m[2])
	default:
		p.Email = value
	}

	if err := checkEmail(p.Email); err != nil {
		return p, fmt.Errorf("%q: %w", raw, err)
	}

	switch {
	case p.Name == "":
		p.RFC822 = p.Email
	case strings.ContainsAny(p.Name, ".,"):
		p.RFC822 = fmt.Sprintf("%s (%s)", p.Email, p.Name)
	default:
		p.RFC822 = fmt.Sprintf("%s <%s>", p.Name, p.Email)
	}
	return p, nil
}

func checkEmail(email string) error {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return fmt.Errorf("no valid email address")
	}
	if strings.ContainsAny(email, " \t<>()") {
		return fmt.Errorf("malformed email address %q", email)
	}
	return nil
}
