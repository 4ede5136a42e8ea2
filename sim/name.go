package sim

import (
	"fmt"
	"strconv"
	"strings"
)

// A Name is a hierarchical name that includes a series of tokens separated
// by dots, such as "system.cpu[0]".
type Name struct {
	Tokens []NameToken
}

// NameToken is a token of a name.
type NameToken struct {
	ElemName string
	Index    []int
}

// ParseName parses a name string. Every element must start with a letter and
// can only contain letters, digits and underscores. A series of elements is
// indexed with square brackets. Dashes are not allowed as the names of the
// ports are derived from the name of their owner with a dash.
func ParseName(s string) (Name, error) {
	tokens := strings.Split(s, ".")
	name := Name{Tokens: make([]NameToken, len(tokens))}

	for i, token := range tokens {
		t, err := parseNameToken(token)
		if err != nil {
			return Name{}, fmt.Errorf("name %q is not valid: %w", s, err)
		}

		name.Tokens[i] = t
	}

	return name, nil
}

// ValidateName returns an error if the name cannot be parsed.
func ValidateName(s string) error {
	_, err := ParseName(s)
	return err
}

func parseNameToken(token string) (NameToken, error) {
	elemName, rest, _ := strings.Cut(token, "[")
	if err := elemNameMustBeValid(elemName); err != nil {
		return NameToken{}, err
	}

	t := NameToken{ElemName: elemName}

	if len(elemName) == len(token) {
		return t, nil
	}

	rest = "[" + rest
	for rest != "" {
		if rest[0] != '[' {
			return NameToken{}, fmt.Errorf("unexpected %q after index", rest)
		}

		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return NameToken{}, fmt.Errorf("bracket must match")
		}

		index, err := strconv.Atoi(rest[1:end])
		if err != nil || index < 0 {
			return NameToken{}, fmt.Errorf("index %q must be a natural number",
				rest[1:end])
		}

		t.Index = append(t.Index, index)
		rest = rest[end+1:]
	}

	return t, nil
}

func elemNameMustBeValid(elemName string) error {
	if elemName == "" {
		return fmt.Errorf("element must not be empty")
	}

	for i, c := range elemName {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '_'):
		case i == 0:
			return fmt.Errorf("element %q must start with a letter", elemName)
		default:
			return fmt.Errorf("element %q must not contain %q", elemName, c)
		}
	}

	return nil
}
