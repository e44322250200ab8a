package tracking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrument_RewritesOnlyAbsoluteLinks(t *testing.T) {
	html := `<html><body><a href="https://example.com/x">x</a><a href="mailto:a@b.com">m</a></body></html>`

	out := Instrument(html, "abc123", "https://h")

	assert.Contains(t, out, `href="https://h/t/c/abc123?url=https%3A%2F%2Fexample.com%2Fx"`)
	assert.Contains(t, out, `href="mailto:a@b.com"`)
	assert.Equal(t, 1, strings.Count(out, `https://h/t/o/abc123.gif`))
	assert.True(t, strings.HasSuffix(out,
		`<img src="https://h/t/o/abc123.gif" width="1" height="1" style="display:none" alt=""></body></html>`))
}

func TestInstrument_QuotingStyles(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"double", `<a href="http://a.io/p">`, `<a href="https://h/t/c/t1?url=http%3A%2F%2Fa.io%2Fp">`},
		{"single", `<a href='http://a.io/p'>`, `<a href='https://h/t/c/t1?url=http%3A%2F%2Fa.io%2Fp'>`},
		{"unquoted", `<a href=http://a.io/p>`, `<a href=https://h/t/c/t1?url=http%3A%2F%2Fa.io%2Fp>`},
		{"spaced upper", `<a HREF = "HTTPS://a.io">`, `<a href="https://h/t/c/t1?url=HTTPS%3A%2F%2Fa.io">`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Instrument(tt.in, "t1", "https://h/")
			assert.True(t, strings.HasPrefix(out, tt.want), out)
		})
	}
}

func TestInstrument_LeavesNonHTTPLinks(t *testing.T) {
	for _, href := range []string{"tel:+15551234", "#top", "/relative/path", "ftp://files.example.com", "javascript:alert(1)"} {
		t.Run(href, func(t *testing.T) {
			in := `<a href="` + href + `">x</a>`
			out := Instrument(in, "t1", "https://h")
			assert.True(t, strings.HasPrefix(out, in))
		})
	}
}

func TestInstrument_PixelPlacement(t *testing.T) {
	t.Run("case-insensitive body", func(t *testing.T) {
		out := Instrument("<p>hi</p></BODY>", "t1", "https://h")
		assert.Equal(t, `<p>hi</p><img src="https://h/t/o/t1.gif" width="1" height="1" style="display:none" alt=""></BODY>`, out)
	})

	t.Run("no body", func(t *testing.T) {
		out := Instrument("<p>hi</p>", "t1", "https://h")
		assert.Equal(t, `<p>hi</p><img src="https://h/t/o/t1.gif" width="1" height="1" style="display:none" alt="">`, out)
	})

	t.Run("only first body", func(t *testing.T) {
		out := Instrument("a</body>b</body>", "t1", "https://h")
		assert.Equal(t, 1, strings.Count(out, "<img"))
		assert.True(t, strings.HasSuffix(out, "</body>b</body>"))
	})
}

func TestInstrument_Deterministic(t *testing.T) {
	html := `<body><a href="https://example.com/?a=1&b=two words">x</a></body>`
	assert.Equal(t, Instrument(html, "t1", "https://h"), Instrument(html, "t1", "https://h"))
	assert.Contains(t, Instrument(html, "t1", "https://h"), "url=https%3A%2F%2Fexample.com%2F%3Fa%3D1%26b%3Dtwo%20words")
}

func TestEncodeURIComponent(t *testing.T) {
	assert.Equal(t, "a%20b%2Bc!*'()~-_.", EncodeURIComponent("a b+c!*'()~-_."))
	assert.Equal(t, "%E2%9C%93%2F%3F%23", EncodeURIComponent("✓/?#"))
}

func TestValidateRedirectURL(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"https://example.com/x", "https://example.com/x", true},
		{"HTTP://example.com", "HTTP://example.com", true},
		{"https://example.com/100%25-off", "https://example.com/100%25-off", true},
		{"https://example.com/search?q=a%26b&x=1", "https://example.com/search?q=a%26b&x=1", true},
		{"  https://example.com/x ", "https://example.com/x", true},
		{"https%3A%2F%2Fexample.com%2Fx", "", false},
		{"javascript:alert(1)", "", false},
		{"data:text/html,hi", "", false},
		{"ftp://example.com", "", false},
		{"//example.com", "", false},
		{"/relative", "", false},
		{"https://", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ValidateRedirectURL(tt.raw)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrInvalidRedirect)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := NewToken()
		require.NoError(t, err)
		assert.Len(t, tok, TokenLength)
		assert.True(t, IsToken(tok))
		assert.False(t, seen[tok])
		seen[tok] = true
	}
	assert.False(t, IsToken("ABC"))
}

func TestPixelGIF(t *testing.T) {
	require.NotEmpty(t, PixelGIF)
	assert.Equal(t, "GIF89a", string(PixelGIF[:6]))
}
