// Package path resolves dotted property path strings, e.g.
// "Children[0].ReadingStats.Where(DataPoint,Equals,'kW').Sum(Avg)", into
// typed accessors over schema-described object graphs. Resolution is pure:
// it type-checks every segment against the previous segment's output type and
// produces a reusable closure, so malformed paths fail when a rule is built,
// never while entities are being evaluated.
package path

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/c360/dcvalidate/errors"
)

// ResolutionError names the path segment that could not be resolved.
type ResolutionError struct {
	Path    string
	Segment string
	Reason  string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve segment %q of path %q: %s", e.Segment, e.Path, e.Reason)
}

func (e *ResolutionError) Unwrap() error {
	return errors.ErrPathNotResolved
}

type segmentKind int

const (
	segField segmentKind = iota
	segIndex
	segFunc
)

// segment is one lexed step of a property path.
type segment struct {
	kind  segmentKind
	name  string   // field or function name
	index int      // for segIndex
	args  []string // for segFunc, quotes stripped
	raw   string   // original text, for error messages
}

// parseSegments lexes a path string into segments. Splitting on '.' honors
// parentheses and single-quoted literals, so Where(DataPoint,Equals,'a.b')
// stays one segment.
func parseSegments(path string) ([]segment, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, &ResolutionError{Path: path, Segment: "", Reason: "empty path"}
	}

	parts, err := splitTopLevel(trimmed, '.')
	if err != nil {
		return nil, &ResolutionError{Path: path, Segment: trimmed, Reason: err.Error()}
	}

	var segs []segment
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, &ResolutionError{Path: path, Segment: part, Reason: "empty segment"}
		}
		parsed, err := parsePart(path, part)
		if err != nil {
			return nil, err
		}
		segs = append(segs, parsed...)
	}
	return segs, nil
}

// parsePart turns one dot-delimited part into segments. A part may expand to
// two segments when it carries an indexer, e.g. "Children[0]".
func parsePart(path, part string) ([]segment, error) {
	// Function call: Name(args)
	if open := strings.IndexByte(part, '('); open >= 0 {
		if !strings.HasSuffix(part, ")") {
			return nil, &ResolutionError{Path: path, Segment: part, Reason: "unterminated function call"}
		}
		name := strings.TrimSpace(part[:open])
		if name == "" {
			return nil, &ResolutionError{Path: path, Segment: part, Reason: "missing function name"}
		}
		rawArgs := part[open+1 : len(part)-1]
		args, err := splitArgs(rawArgs)
		if err != nil {
			return nil, &ResolutionError{Path: path, Segment: part, Reason: err.Error()}
		}
		return []segment{{kind: segFunc, name: name, args: args, raw: part}}, nil
	}

	// Indexed field: Name[n]
	if open := strings.IndexByte(part, '['); open >= 0 {
		if !strings.HasSuffix(part, "]") {
			return nil, &ResolutionError{Path: path, Segment: part, Reason: "unterminated indexer"}
		}
		name := strings.TrimSpace(part[:open])
		idxText := strings.TrimSpace(part[open+1 : len(part)-1])
		idx, err := strconv.Atoi(idxText)
		if err != nil || idx < 0 {
			return nil, &ResolutionError{Path: path, Segment: part, Reason: fmt.Sprintf("invalid index %q", idxText)}
		}
		segs := []segment{}
		if name != "" {
			segs = append(segs, segment{kind: segField, name: name, raw: name})
		}
		return append(segs, segment{kind: segIndex, index: idx, raw: part}), nil
	}

	return []segment{{kind: segField, name: part, raw: part}}, nil
}

// splitTopLevel splits s on sep outside parentheses and single quotes.
func splitTopLevel(s string, sep byte) ([]string, error) {
	var parts []string
	depth := 0
	inQuote := false
	start := 0

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
		case inQuote:
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced parentheses")
			}
		case c == sep && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote")
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced parentheses")
	}
	return append(parts, s[start:]), nil
}

// splitArgs splits function arguments on commas outside quotes and strips
// surrounding single quotes from literals. An empty argument list is valid.
func splitArgs(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	parts, err := splitTopLevel(raw, ',')
	if err != nil {
		return nil, err
	}

	args := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if len(p) >= 2 && p[0] == '\'' && p[len(p)-1] == '\'' {
			p = p[1 : len(p)-1]
		}
		args = append(args, p)
	}
	return args, nil
}
