package notify

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrMissingVariable is returned by Render for a placeholder without a value.
var ErrMissingVariable = errors.New("notify: missing template variable")

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Render replaces every {{name}} in tmpl with vars[name]. Values are
// inserted verbatim.
func Render(tmpl string, vars map[string]string) (string, error) {
	var missing string
	out := placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		v, ok := vars[name]
		if !ok && missing == "" {
			missing = name
		}
		return v
	})
	if missing != "" {
		return "", fmt.Errorf("%w %q", ErrMissingVariable, missing)
	}
	return out, nil
}
