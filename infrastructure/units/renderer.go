package units

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/agnivade/levenshtein"

	"github.com/ahrav/go-promptlab/internal/ports"
)

var _ ports.Renderer = (*PlaceholderRenderer)(nil)

// placeholderPattern matches {{ name }} and {{ name.field }} with optional
// surrounding whitespace and an optional filter chain: {{ name | upper }}.
var placeholderPattern = regexp.MustCompile(
	`\{\{\s*([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z0-9_]+)*)((?:\s*\|\s*[A-Za-z_]+\s*(?:\([^)]*\))?)*)\s*\}\}`)

// maxSuggestionDistance bounds the edit distance of "did you mean" hints.
const maxSuggestionDistance = 3

// UnknownVariableError is returned when a template references a variable
// that has no binding.
type UnknownVariableError struct {
	Name       string
	Suggestion string
}

func (e *UnknownVariableError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("unknown template variable %q (did you mean %q?)", e.Name, e.Suggestion)
	}
	return fmt.Sprintf("unknown template variable %q", e.Name)
}

// PlaceholderRenderer substitutes {{ name }} placeholders. Strings are
// inserted verbatim, numbers and booleans in their shortest form, and maps
// and slices as indented JSON. Dotted names index into nested maps, and
// filters such as upper, truncate(80) or default("n/a") transform the
// value before it is inserted.
//
// Recognised placeholders are translated into a text/template program
// whose actions use private delimiters, so any other braces in the
// template stay literal text. It is stateless and safe for concurrent use.
type PlaceholderRenderer struct{}

// NewRenderer returns a renderer.
func NewRenderer() *PlaceholderRenderer { return &PlaceholderRenderer{} }

// Private action delimiters of the translated template.
const (
	leftDelim  = "\x00[["
	rightDelim = "]]\x00"
)

// Render substitutes every placeholder in template. All unknown variables
// and filters are reported, not only the first.
func (r *PlaceholderRenderer) Render(tmpl string, bindings map[string]any) (string, error) {
	src, errs := translate(tmpl, bindings)
	if len(errs) == 1 {
		return "", errs[0]
	}
	if len(errs) > 1 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return "", fmt.Errorf("template has %d errors: %s", len(errs), strings.Join(msgs, "; "))
	}

	t, err := template.New("prompt").Delims(leftDelim, rightDelim).Funcs(funcMap).Parse(src)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	var b strings.Builder
	if err := t.Execute(&b, bindings); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return b.String(), nil
}

// translate rewrites each placeholder as a template action,
//
//	{{ user.name | truncate(8) }}  =>  value $ "user.name" | truncate 8 | format
//
// checking names, filters and arity on the way. Literal text that contains
// the private left delimiter is emitted as a quoted string action.
func translate(tmpl string, bindings map[string]any) (string, []error) {
	var (
		b    strings.Builder
		errs []error
		last int
	)
	literal := func(text string) {
		if strings.Contains(text, leftDelim) {
			b.WriteString(leftDelim + strconv.Quote(text) + rightDelim)
			return
		}
		b.WriteString(text)
	}

	for _, loc := range placeholderPattern.FindAllStringSubmatchIndex(tmpl, -1) {
		literal(tmpl[last:loc[0]])
		last = loc[1]

		name := tmpl[loc[2]:loc[3]]
		calls, err := parseFilters(tmpl[loc[4]:loc[5]])
		if err != nil {
			errs = append(errs, fmt.Errorf("variable %q: %w", name, err))
			continue
		}
		if _, ok := lookup(bindings, name); !ok && !hasDefault(calls) {
			errs = append(errs, &UnknownVariableError{Name: name, Suggestion: suggest(name, bindings)})
			continue
		}

		b.WriteString(leftDelim + " value $ " + strconv.Quote(name))
		for _, c := range calls {
			b.WriteString(" | " + c.name)
			for _, a := range c.args {
				b.WriteString(" " + templateLiteral(a))
			}
		}
		b.WriteString(" | format " + rightDelim)
	}
	literal(tmpl[last:])
	return b.String(), errs
}

// templateLiteral writes a parsed filter argument as a template constant.
func templateLiteral(a any) string {
	switch x := a.(type) {
	case string:
		return strconv.Quote(x)
	case float64:
		s := strconv.FormatFloat(x, 'f', -1, 64)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	}
	return fmt.Sprint(a)
}

// value resolves a dotted name against the bindings; missing names are nil.
func value(bindings map[string]any, name string) any {
	v, _ := lookup(bindings, name)
	return v
}

// Variables returns the distinct variable names referenced by template in
// order of first use.
func Variables(template string) []string {
	var names []string
	seen := map[string]struct{}{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	return names
}

func lookup(bindings map[string]any, name string) (any, bool) {
	parts := strings.Split(name, ".")
	var cur any = bindings
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[p]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func formatValue(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case fmt.Stringer:
		return x.String(), nil
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// suggest returns the top-level binding closest to name, if any is close.
func suggest(name string, bindings map[string]any) string {
	root, _, _ := strings.Cut(name, ".")
	keys := make([]string, 0, len(bindings))
	for k := range bindings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	best, bestDist := "", maxSuggestionDistance+1
	for _, k := range keys {
		if d := levenshtein.ComputeDistance(root, k); d < bestDist {
			best, bestDist = k, d
		}
	}
	if best == "" || best == root {
		return ""
	}
	return best
}
