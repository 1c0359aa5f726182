// Package templates holds the HTML bodies of notification emails. The
// bodies are templ components written in the .templ files of this package;
// run `templ generate` after editing them.
package templates

import (
	"bytes"
	"context"
	"fmt"

	"github.com/a-h/templ"
)

// Render renders c to a string.
func Render(ctx context.Context, c templ.Component) (string, error) {
	var buf bytes.Buffer
	if err := c.Render(ctx, &buf); err != nil {
		return "", fmt.Errorf("templates: rendering: %w", err)
	}
	return buf.String(), nil
}
