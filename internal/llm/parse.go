package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrNoParse = errors.New("no parser accepted the response")

// Parser turns raw model text into out, or reports why it could not.
type Parser interface {
	Name() string
	Parse(raw string, out any) error
}

type parserFunc struct {
	name string
	fn   func(raw string, out any) error
}

func (p parserFunc) Name() string                    { return p.name }
func (p parserFunc) Parse(raw string, out any) error { return p.fn(raw, out) }

// NewParser adapts a function to the Parser interface.
func NewParser(name string, fn func(raw string, out any) error) Parser {
	return parserFunc{name: name, fn: fn}
}

// Validator is implemented by outputs that can reject a syntactically valid
// but semantically empty parse.
type Validator interface {
	Validate() error
}

var (
	// StrictJSON decodes the response as-is.
	StrictJSON = NewParser("strict_json", func(raw string, out any) error {
		return decodeValidated([]byte(strings.TrimSpace(raw)), out)
	})

	// CleanupJSON strips code fences and surrounding prose and truncates to
	// the last balanced closing brace before decoding.
	CleanupJSON = NewParser("cleanup_json", func(raw string, out any) error {
		body, err := ExtractJSON(raw)
		if err != nil {
			return err
		}
		return decodeValidated([]byte(body), out)
	})
)

// ParseChain tries each parser in order until one succeeds.
type ParseChain []Parser

// JSONChain is the chain used for plain structured responses.
func JSONChain() ParseChain {
	return ParseChain{StrictJSON, CleanupJSON}
}

// Parse returns the name of the parser that accepted raw.
func (c ParseChain) Parse(raw string, out any) (string, error) {
	var errs []error
	for _, p := range c {
		if err := p.Parse(raw, out); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		return p.Name(), nil
	}
	return "", fmt.Errorf("%w: %w", ErrNoParse, errors.Join(errs...))
}

func decodeValidated(b []byte, out any) error {
	if len(b) == 0 {
		return errors.New("empty response")
	}
	if err := json.Unmarshal(b, out); err != nil {
		return err
	}
	if v, ok := out.(Validator); ok {
		return v.Validate()
	}
	return nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		parts := strings.SplitN(s, "\n", 2)
		if len(parts) == 2 {
			s = parts[1]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
	}
	return s
}

// ExtractJSON returns the outermost JSON object or array in s, cut at the
// last point where brackets balance. Brackets inside strings are ignored.
func ExtractJSON(s string) (string, error) {
	s = stripCodeFences(s)
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", errors.New("no json object in response")
	}
	depth := 0
	inString := false
	escaped := false
	end := -1
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				end = i
			}
			if depth < 0 {
				i = len(s)
			}
		}
		if end >= 0 && depth == 0 {
			break
		}
	}
	if end < 0 {
		return "", errors.New("unbalanced json in response")
	}
	return s[start : end+1], nil
}
