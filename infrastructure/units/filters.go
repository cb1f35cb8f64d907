package units

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// filterFunc transforms a bound value. args are the literal arguments
// written in the template, already parsed.
type filterFunc func(v any, args []any) (any, error)

// filterSpec describes one filter and how many arguments it takes.
type filterSpec struct {
	arity int
	fn    filterFunc
}

// filters are applied left to right in {{ name | f1 | f2(arg) }}.
// Every filter is stateless and safe for concurrent use.
var filters = map[string]filterSpec{
	"upper": {0, stringFilter(strings.ToUpper)},
	"lower": {0, stringFilter(strings.ToLower)},
	"trim":  {0, stringFilter(strings.TrimSpace)},
	"title": {0, stringFilter(func(s string) string { return cases.Title(language.Und).String(s) })},

	// truncate limits length in runes, ending with "..." when cut.
	"truncate": {1, func(v any, args []any) (any, error) {
		n, err := intArg(args[0])
		if err != nil {
			return nil, err
		}
		s, err := formatValue(v)
		if err != nil {
			return nil, err
		}
		return truncateRunes(s, n), nil
	}},

	"replace": {2, func(v any, args []any) (any, error) {
		s, err := formatValue(v)
		if err != nil {
			return nil, err
		}
		return strings.ReplaceAll(s, fmt.Sprint(args[0]), fmt.Sprint(args[1])), nil
	}},

	// join renders list elements separated by its argument.
	"join": {1, func(v any, args []any) (any, error) {
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("join needs a list, got %T", v)
		}
		parts := make([]string, len(items))
		for i, item := range items {
			s, err := formatValue(item)
			if err != nil {
				return nil, err
			}
			parts[i] = s
		}
		return strings.Join(parts, fmt.Sprint(args[0])), nil
	}},

	"split": {1, func(v any, args []any) (any, error) {
		s, err := formatValue(v)
		if err != nil {
			return nil, err
		}
		parts := strings.Split(s, fmt.Sprint(args[0]))
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return out, nil
	}},

	"length": {0, func(v any, _ []any) (any, error) {
		switch x := v.(type) {
		case nil:
			return 0, nil
		case string:
			return utf8.RuneCountInString(x), nil
		case []any:
			return len(x), nil
		case map[string]any:
			return len(x), nil
		}
		return nil, fmt.Errorf("length needs a string, list or map, got %T", v)
	}},

	// default replaces a missing, nil or empty value.
	"default": {1, func(v any, args []any) (any, error) {
		if v == nil || v == "" {
			return args[0], nil
		}
		return v, nil
	}},

	"tojson": {0, func(v any, _ []any) (any, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}},
}

// funcMap exposes the filters to the translated template. A piped value
// arrives as the last argument, after the literal filter arguments.
var funcMap = func() template.FuncMap {
	fm := template.FuncMap{"value": value, "format": formatValue}
	for name, def := range filters {
		fn := def.fn
		fm[name] = func(args ...any) (any, error) {
			return fn(args[len(args)-1], args[:len(args)-1])
		}
	}
	return fm
}()

func stringFilter(f func(string) string) filterFunc {
	return func(v any, _ []any) (any, error) {
		s, err := formatValue(v)
		if err != nil {
			return nil, err
		}
		return f(s), nil
	}
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	if n > 3 {
		return string(r[:n-3]) + "..."
	}
	return string(r[:n])
}

func intArg(a any) (int, error) {
	n, ok := a.(int)
	if !ok {
		return 0, fmt.Errorf("expected an integer argument, got %v", a)
	}
	return n, nil
}

// filterCall is one parsed "| name(args)" segment.
type filterCall struct {
	name string
	args []any
}

var filterCallPattern = regexp.MustCompile(`\|\s*([A-Za-z_]+)\s*(?:\(([^)]*)\))?`)

// parseFilters parses the filter chain that follows a variable name.
func parseFilters(chain string) ([]filterCall, error) {
	var calls []filterCall
	for _, m := range filterCallPattern.FindAllStringSubmatch(chain, -1) {
		def, ok := filters[m[1]]
		if !ok {
			if s := suggestFilter(m[1]); s != "" {
				return nil, fmt.Errorf("unknown filter %q (did you mean %q?)", m[1], s)
			}
			return nil, fmt.Errorf("unknown filter %q", m[1])
		}
		args, err := parseArgs(m[2])
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", m[1], err)
		}
		if len(args) != def.arity {
			return nil, fmt.Errorf("filter %q takes %d arguments, got %d", m[1], def.arity, len(args))
		}
		calls = append(calls, filterCall{name: m[1], args: args})
	}
	return calls, nil
}

func hasDefault(calls []filterCall) bool {
	for _, c := range calls {
		if c.name == "default" {
			return true
		}
	}
	return false
}

func applyFilters(v any, calls []filterCall) (any, error) {
	for _, c := range calls {
		var err error
		if v, err = filters[c.name].fn(v, c.args); err != nil {
			return nil, fmt.Errorf("filter %q: %w", c.name, err)
		}
	}
	return v, nil
}

// parseArgs splits a comma separated argument list. Arguments are quoted
// strings, integers, floats or booleans.
func parseArgs(s string) ([]any, error) {
	var args []any
	rest := strings.TrimSpace(s)
	for rest != "" {
		switch q := rest[0]; q {
		case '"', '\'':
			end := strings.IndexByte(rest[1:], q)
			if end < 0 {
				return nil, fmt.Errorf("unterminated string in %q", s)
			}
			args = append(args, rest[1:end+1])
			rest = rest[end+2:]
		default:
			end := strings.IndexByte(rest, ',')
			if end < 0 {
				end = len(rest)
			}
			a, err := parseLiteral(strings.TrimSpace(rest[:end]))
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			rest = rest[end:]
		}

		rest = strings.TrimSpace(rest)
		if rest == "" {
			break
		}
		if rest[0] != ',' {
			return nil, fmt.Errorf("expected ',' in %q", s)
		}
		if rest = strings.TrimSpace(rest[1:]); rest == "" {
			return nil, fmt.Errorf("trailing ',' in %q", s)
		}
	}
	return args, nil
}

func parseLiteral(tok string) (any, error) {
	if n, err := strconv.Atoi(tok); err == nil {
		return n, nil
	}
	if f, err := strconv.ParseFloat(tok, 64); err == nil {
		return f, nil
	}
	if b, err := strconv.ParseBool(tok); err == nil {
		return b, nil
	}
	return nil, fmt.Errorf("invalid argument %q", tok)
}

func suggestFilter(name string) string {
	names := make([]string, 0, len(filters))
	for n := range filters {
		names = append(names, n)
	}
	sort.Strings(names)

	best, bestDist := "", maxSuggestionDistance+1
	for _, n := range names {
		if d := levenshtein.ComputeDistance(name, n); d < bestDist {
			best, bestDist = n, d
		}
	}
	return best
}
