package templates

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/a-h/templ"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordReset(t *testing.T) {
	html, err := Render(context.Background(), PasswordReset("Greenhouse", "Ada <admin>", "https://greenhouse.test/reset?token=a&b=c"))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(html, "<!doctype html>"))
	assert.Contains(t, html, "<title>Reset your Greenhouse password</title>")
	assert.Contains(t, html, "Hello Ada &lt;admin&gt;,")
	assert.NotContains(t, html, "<admin>")
	assert.Contains(t, html, `href="https://greenhouse.test/reset?token=a&amp;b=c"`)
	assert.Contains(t, html, ">Reset password</a>")
	assert.True(t, strings.HasSuffix(html, "</html>"))
}

func TestWelcomeRejectsScriptURL(t *testing.T) {
	html, err := Render(context.Background(), Welcome("Greenhouse", "Ada", "javascript:alert(1)"))
	require.NoError(t, err)
	assert.Contains(t, html, "Welcome to Greenhouse")
	assert.NotContains(t, html, "javascript:")
}

func TestTest(t *testing.T) {
	html, err := Render(context.Background(), Test("Serre & Co"))
	require.NoError(t, err)
	assert.Contains(t, html, "<h1 style=\"font-size:22px;margin:0 0 16px\">Serre &amp; Co test message</h1>")
	assert.Contains(t, html, "the mail settings of Serre &amp; Co work.")
}

func TestLayoutChildren(t *testing.T) {
	child := templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<p>inner</p>")
		return err
	})
	html, err := Render(templ.WithChildren(context.Background(), child), Layout("Title"))
	require.NoError(t, err)
	assert.Contains(t, html, "<p>inner</p></td></tr></table>")
}

func TestRenderError(t *testing.T) {
	failing := templ.ComponentFunc(func(context.Context, io.Writer) error {
		return errors.New("boom")
	})
	_, err := Render(templ.WithChildren(context.Background(), failing), Layout("x"))
	assert.ErrorContains(t, err, "boom")
}

func TestRenderCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Render(ctx, Test("Greenhouse"))
	assert.ErrorIs(t, err, context.Canceled)
}
