package lint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmandrelli/grape-coder/internal/orchestrator"
)

const cleanPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Bakery</title>
  <link rel="stylesheet" href="css/style.css">
</head>
<body>
  <a href="#menu">Menu</a>
  <a href="https://example.com">Elsewhere</a>
  <img src="img/hero.png" alt="">
  <script src="/js/app.js"></script>
</body>
</html>`

func messages(issues []orchestrator.LintIssue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.Message)
	}
	return out
}

func TestHTMLChecker_CleanPage(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"index.html":    cleanPage,
		"css/style.css": "body{}",
		"img/hero.png":  "png",
		"js/app.js":     "",
	})

	issues, err := HTMLChecker{}.Run(context.Background(), orchestrator.Artifact{Root: root, EntryPoint: "index.html"})
	require.NoError(t, err)
	assert.Empty(t, issues, "decorative images may use an empty alt")
}

func TestHTMLChecker_Findings(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"index.html": `<html><head><link rel="stylesheet" href="missing.css"></head>
<body><div id="x"></div><div id="x"></div><img src="a.png"><a href="about.html">About</a></body></html>`,
		"a.png":                   "png",
		"node_modules/pkg/x.html": "<html></html>",
		".grape-coder/cache.html": "<html></html>",
	})

	issues, err := HTMLChecker{}.Run(context.Background(), orchestrator.Artifact{Root: root, EntryPoint: "index.html"})
	require.NoError(t, err)

	msgs := messages(issues)
	assert.Contains(t, msgs, `href "missing.css" does not exist`)
	assert.Contains(t, msgs, `href "about.html" does not exist`)
	assert.Contains(t, msgs, `<img src="a.png"> has no alt attribute`)
	assert.Contains(t, msgs, `id "x" is used 2 times`)
	assert.Contains(t, msgs, "<html> has no lang attribute")
	assert.Contains(t, msgs, "document has no <title>")
	assert.Contains(t, msgs, "no viewport meta tag")
	assert.Len(t, issues, 7, "vendored and hidden directories are skipped")

	for _, i := range issues {
		assert.Equal(t, "index.html", i.Location)
		assert.Equal(t, "html", i.Tool)
	}
}

func TestHTMLChecker_MissingEntryPoint(t *testing.T) {
	root := writeFiles(t, map[string]string{"other.txt": "x"})

	issues, err := HTMLChecker{}.Run(context.Background(), orchestrator.Artifact{Root: root, EntryPoint: "index.html"})
	require.NoError(t, err)
	assert.Equal(t, []string{"entry point is missing", "no HTML files found"}, messages(issues))
	assert.Equal(t, 2, orchestrator.LintReport{Issues: issues}.Count(orchestrator.SeverityError))
}

func TestHTMLChecker_RelativeToSubdirectory(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"pages/about.html": `<html lang="en"><head><title>About</title><meta name="viewport" content="x"></head>
<body><a href="../index.html">Home</a></body></html>`,
		"index.html":    cleanPage,
		"css/style.css": "",
		"img/hero.png":  "",
		"js/app.js":     "",
	})

	issues, err := HTMLChecker{}.Run(context.Background(), orchestrator.Artifact{Root: root})
	require.NoError(t, err)
	assert.Empty(t, issues)
}
