package path

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/c360/dcvalidate/errors"
	"github.com/c360/dcvalidate/schema"
)

// ParseLiteral converts a literal value (a raw string from a path argument or
// a decoded JSON value from a rule document) into the representation the
// given kind uses at evaluation time: float64 for numbers, bool, time.Time,
// or string. Conversion failures are invalid-class errors.
func ParseLiteral(kind schema.Kind, v any) (any, error) {
	bad := func() error {
		return errors.WrapInvalid(
			fmt.Errorf("%w: literal %v is not a valid %s", errors.ErrOperatorType, v, kind),
			"path", "ParseLiteral", "literal conversion")
	}

	switch kind {
	case schema.Number:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil {
				return nil, bad()
			}
			return f, nil
		default:
			return nil, bad()
		}
	case schema.Bool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(b)))
			if err != nil {
				return nil, bad()
			}
			return parsed, nil
		default:
			return nil, bad()
		}
	case schema.Time:
		switch t := v.(type) {
		case time.Time:
			return t, nil
		case string:
			parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(t))
			if err != nil {
				return nil, bad()
			}
			return parsed, nil
		default:
			return nil, bad()
		}
	case schema.String:
		switch s := v.(type) {
		case string:
			return s, nil
		case float64:
			return strconv.FormatFloat(s, 'f', -1, 64), nil
		case bool:
			return strconv.FormatBool(s), nil
		default:
			return nil, bad()
		}
	default:
		return nil, bad()
	}
}
