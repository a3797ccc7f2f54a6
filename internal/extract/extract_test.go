package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const articlePage = `<!doctype html>
<html><head><title>Test article</title><script>var tracking = "SCRIPT-MARKER";</script></head>
<body>
<nav><a href="/">Home</a> NAV-MARKER</nav>
<!-- COMMENT-MARKER -->
<article>
<h1>Why rivers meander</h1>
<p>Rivers bend because water flowing around a curve moves faster on the outside bank, which erodes it, while slower water on the inside bank drops sediment and builds a point bar.</p>
<p>Over decades the bends migrate downstream, and when two loops meet the river cuts through the neck, abandoning the old channel and leaving behind an oxbow lake.</p>
<p>Over decades the bends migrate downstream, and when two loops meet the river cuts through the neck, abandoning the old channel and leaving behind an oxbow lake.</p>
<table><tr><td>TABLE-MARKER</td><td>42</td></tr></table>
<p>Geologists read these abandoned channels to reconstruct how a floodplain has shifted across thousands of years of seasonal floods and droughts.</p>
</article>
<footer>FOOTER-MARKER copyright</footer>
</body></html>`

func TestExtractKeepsArticleBody(t *testing.T) {
	t.Parallel()

	text, err := New().Extract([]byte(articlePage), "https://example.com/rivers")
	require.NoError(t, err)
	require.Contains(t, text, "point bar")
	require.Contains(t, text, "oxbow lake")
	for _, marker := range []string{"SCRIPT-MARKER", "NAV-MARKER", "COMMENT-MARKER", "TABLE-MARKER", "FOOTER-MARKER"} {
		require.NotContains(t, text, marker)
	}
	require.Equal(t, 1, strings.Count(text, "abandoning the old channel"))
}

func TestExtractRejectsBadURL(t *testing.T) {
	t.Parallel()

	_, err := New().Extract([]byte(articlePage), "://bad")
	require.Error(t, err)
}

func TestDedupe(t *testing.T) {
	t.Parallel()

	got := dedupe("  first   line \n\nsecond\nfirst line\n\t\nthird ")
	require.Equal(t, "first line\nsecond\nthird", got)
}
