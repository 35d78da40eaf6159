package lint

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/lmandrelli/grape-coder/internal/orchestrator"
)

// HTMLChecker is the built-in structural checker. It needs no external tools
// and covers the rubric's validity, integration, responsiveness and
// accessibility basics.
type HTMLChecker struct{}

func (HTMLChecker) Name() string { return "html" }

// Run checks every .html file under the artifact root.
func (h HTMLChecker) Run(ctx context.Context, artifact orchestrator.Artifact) ([]orchestrator.LintIssue, error) {
	var files []string
	err := filepath.WalkDir(artifact.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if p != artifact.Root && (strings.HasPrefix(name, ".") || name == "node_modules") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(p), ".html") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", artifact.Root, err)
	}
	sort.Strings(files)

	var issues []orchestrator.LintIssue
	if artifact.EntryPoint != "" {
		if _, err := os.Stat(filepath.Join(artifact.Root, artifact.EntryPoint)); err != nil {
			issues = append(issues, issue(orchestrator.SeverityError, artifact.EntryPoint, "entry point is missing"))
		}
	}
	if len(files) == 0 {
		return append(issues, issue(orchestrator.SeverityError, "", "no HTML files found")), nil
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return issues, err
		}
		rel, _ := filepath.Rel(artifact.Root, f)
		found, err := h.checkFile(artifact.Root, rel)
		if err != nil {
			return issues, err
		}
		issues = append(issues, found...)
	}
	return issues, nil
}

func issue(severity, location, msg string) orchestrator.LintIssue {
	return orchestrator.LintIssue{Tool: "html", Severity: severity, Location: location, Message: msg}
}

func (HTMLChecker) checkFile(root, rel string) ([]orchestrator.LintIssue, error) {
	f, err := os.Open(filepath.Join(root, rel))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := html.Parse(f)
	if err != nil {
		return []orchestrator.LintIssue{issue(orchestrator.SeverityError, rel, fmt.Sprintf("unparseable HTML: %v", err))}, nil
	}

	var (
		issues   []orchestrator.LintIssue
		hasLang  bool
		hasTitle bool
		viewport bool
		ids      = map[string]int{}
	)

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Html:
				hasLang = attr(n, "lang") != ""
			case atom.Title:
				hasTitle = n.FirstChild != nil && strings.TrimSpace(n.FirstChild.Data) != ""
			case atom.Meta:
				if strings.EqualFold(attr(n, "name"), "viewport") {
					viewport = true
				}
			case atom.Img:
				if _, ok := attrOK(n, "alt"); !ok {
					issues = append(issues, issue(orchestrator.SeverityError, rel,
						fmt.Sprintf("<img src=%q> has no alt attribute", attr(n, "src"))))
				}
				issues = append(issues, checkRef(root, rel, "src", attr(n, "src"))...)
			case atom.Script:
				issues = append(issues, checkRef(root, rel, "src", attr(n, "src"))...)
			case atom.Link:
				if strings.EqualFold(attr(n, "rel"), "stylesheet") {
					issues = append(issues, checkRef(root, rel, "href", attr(n, "href"))...)
				}
			case atom.A:
				issues = append(issues, checkRef(root, rel, "href", attr(n, "href"))...)
			}
			if id := attr(n, "id"); id != "" {
				ids[id]++
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if !hasLang {
		issues = append(issues, issue(orchestrator.SeverityWarning, rel, "<html> has no lang attribute"))
	}
	if !hasTitle {
		issues = append(issues, issue(orchestrator.SeverityWarning, rel, "document has no <title>"))
	}
	if !viewport {
		issues = append(issues, issue(orchestrator.SeverityWarning, rel, "no viewport meta tag"))
	}

	var dup []string
	for id, n := range ids {
		if n > 1 {
			dup = append(dup, id)
		}
	}
	sort.Strings(dup)
	for _, id := range dup {
		issues = append(issues, issue(orchestrator.SeverityWarning, rel, fmt.Sprintf("id %q is used %d times", id, ids[id])))
	}
	return issues, nil
}

// checkRef reports a local reference that does not resolve to a file.
func checkRef(root, from, attrName, ref string) []orchestrator.LintIssue {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") {
		return nil
	}
	u, err := url.Parse(ref)
	if err != nil {
		return []orchestrator.LintIssue{issue(orchestrator.SeverityWarning, from, fmt.Sprintf("malformed %s %q", attrName, ref))}
	}
	if u.Scheme != "" || u.Host != "" || u.Path == "" {
		return nil
	}

	target := u.Path
	if !strings.HasPrefix(target, "/") {
		target = path.Join(path.Dir(filepath.ToSlash(from)), target)
	}
	if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(target, "/")))); err != nil {
		return []orchestrator.LintIssue{issue(orchestrator.SeverityError, from, fmt.Sprintf("%s %q does not exist", attrName, ref))}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	v, _ := attrOK(n, key)
	return v
}

func attrOK(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}
