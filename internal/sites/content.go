package sites

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

const (
	indexFile  = "index.html"
	styleFile  = "style.css"
	scriptFile = "script.js"

	styleRef  = `<link rel="stylesheet" href="style.css">`
	scriptRef = `<script src="script.js"></script>`
)

// Bundle is the uploaded content of one site.
type Bundle struct {
	HTML string `json:"html"`
	CSS  string `json:"css"`
	JS   string `json:"js"`
}

// ContentStore keeps published bundles under root/<subdomain>/<slug>/.
type ContentStore struct {
	root     string
	sanitize *bluemonday.Policy
}

// NewContentStore returns a content store under dataDir/users. With sanitize set, uploaded HTML
// is passed through a document-preserving UGC policy before it is written.
func NewContentStore(dataDir string, sanitize bool) *ContentStore {
	c := &ContentStore{root: filepath.Join(dataDir, "users")}
	if sanitize {
		c.sanitize = documentPolicy()
	}
	return c
}

func documentPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("html", "head", "body", "title", "header", "footer", "main", "section", "nav", "article", "aside")
	p.AllowAttrs("charset", "name", "content").OnElements("meta")
	p.AllowAttrs("class", "id").Globally()
	return p
}

// Root returns the directory holding every user's sites.
func (c *ContentStore) Root() string {
	return c.root
}

// Dir is the directory serving one site. Both labels are validated DNS labels, so the join
// cannot escape root.
func (c *ContentStore) Dir(subdomain, slug string) string {
	return filepath.Join(c.root, subdomain, slug)
}

// Write replaces the site's files. CSS and JS references are injected into the HTML when the
// matching file is non-empty and the document does not already link it.
func (c *ContentStore) Write(subdomain, slug string, b Bundle) error {
	dir := c.Dir(subdomain, slug)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create site dir: %w", err)
	}
	html := b.HTML
	if c.sanitize != nil {
		html = c.sanitize.Sanitize(html)
	}
	if b.CSS != "" {
		html = injectBefore(html, "</head>", styleRef, `href="style.css"`)
	}
	if b.JS != "" {
		html = injectBefore(html, "</body>", scriptRef, `src="script.js"`)
	}
	files := map[string]string{indexFile: html, styleFile: b.CSS, scriptFile: b.JS}
	for name, content := range files {
		if err := writeFileAtomic(filepath.Join(dir, name), []byte(content)); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

// Read loads a site's stored files. Missing CSS or JS files read as empty.
func (c *ContentStore) Read(subdomain, slug string) (Bundle, error) {
	dir := c.Dir(subdomain, slug)
	html, err := os.ReadFile(filepath.Join(dir, indexFile))
	if err != nil {
		return Bundle{}, err
	}
	b := Bundle{HTML: string(html)}
	if css, err := os.ReadFile(filepath.Join(dir, styleFile)); err == nil {
		b.CSS = string(css)
	} else if !errors.Is(err, os.ErrNotExist) {
		return Bundle{}, err
	}
	if js, err := os.ReadFile(filepath.Join(dir, scriptFile)); err == nil {
		b.JS = string(js)
	} else if !errors.Is(err, os.ErrNotExist) {
		return Bundle{}, err
	}
	return b, nil
}

// Move renames a site directory after a slug change.
func (c *ContentStore) Move(subdomain, from, to string) error {
	if from == to {
		return nil
	}
	target := c.Dir(subdomain, to)
	if err := os.RemoveAll(target); err != nil {
		return err
	}
	return os.Rename(c.Dir(subdomain, from), target)
}

// Remove deletes a site's files.
func (c *ContentStore) Remove(subdomain, slug string) error {
	return os.RemoveAll(c.Dir(subdomain, slug))
}

func injectBefore(doc, closing, snippet, marker string) string {
	if strings.Contains(doc, marker) {
		return doc
	}
	idx := strings.LastIndex(strings.ToLower(doc), closing)
	if idx < 0 {
		return doc + "\n" + snippet
	}
	return doc[:idx] + snippet + "\n" + doc[idx:]
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
