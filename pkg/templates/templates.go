package templates

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// Well-known block names recognized in mail templates. A template declares
// them with {{define "subject"}}, {{define "body"}} and {{define "html"}};
// any other defined blocks are ignored by the mail layer.
const (
	BlockSubject = "subject"
	BlockBody    = "body"
	BlockHTML    = "html"
)

// ErrTemplateNotFound is returned when a template name does not resolve.
var ErrTemplateNotFound = errors.New("template not found")

// Store holds parsed mail templates keyed by their path inside the source
// filesystem. Each file is parsed as an independent template namespace so
// block names do not collide between templates.
type Store struct {
	templates map[string]*Template
}

// Template is a parsed mail template together with references to its
// subject/body/html blocks. The block references are recomputed whenever the
// template is (re)parsed; they point into the template's associated template
// set and are never copied.
type Template struct {
	name   string
	tmpl   *template.Template
	blocks map[string]*template.Template
}

// Load parses all template files ("*.tmpl", "*.html", "*.txt") found in fsys.
// Template names are the slash-separated paths of the files, extension
// included, e.g. "welcome.tmpl" or "billing/invoice.tmpl".
func Load(fsys fs.FS) (*Store, error) {
	s := &Store{templates: map[string]*Template{}}

	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch path.Ext(p) {
		case ".tmpl", ".html", ".txt":
		default:
			return nil
		}
		raw, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("reading template %s: %w", p, err)
		}
		t, err := Parse(p, string(raw))
		if err != nil {
			return err
		}
		s.templates[p] = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Parse parses a single template source with the full Sprig function map.
// Duplicate non-empty {{define}}s of the same block in one source are a parse
// error, surfaced here rather than at render time.
func Parse(name, src string) (*Template, error) {
	tmpl, err := template.New(name).Funcs(sprig.FuncMap()).Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parsing template %s: %w", name, err)
	}
	t := &Template{name: name, tmpl: tmpl}
	t.extractBlocks()
	return t, nil
}

// Get resolves a template name, failing fast with ErrTemplateNotFound.
func (s *Store) Get(name string) (*Template, error) {
	t, ok := s.templates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	return t, nil
}

// Names returns the names of all loaded templates.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.templates))
	for name := range s.templates {
		names = append(names, name)
	}
	return names
}

// extractBlocks scans the template's associated templates once and stores
// direct references for the well-known block names. Later Parse calls on the
// same namespace replace earlier non-empty definitions, so the last
// definition wins.
func (t *Template) extractBlocks() {
	t.blocks = map[string]*template.Template{}
	for _, assoc := range t.tmpl.Templates() {
		switch assoc.Name() {
		case BlockSubject, BlockBody, BlockHTML:
			t.blocks[assoc.Name()] = assoc
		}
	}
}

// Name returns the template's name within its store.
func (t *Template) Name() string { return t.name }

// HasBlock reports whether the named block was defined by the template.
func (t *Template) HasBlock(name string) bool {
	_, ok := t.blocks[name]
	return ok
}

// RenderBlock executes the named block against ctx and returns the output
// with surrounding CR/LF characters trimmed. The second return value is
// false when the template does not define the block; that case is not an
// error, callers are expected to leave the corresponding field alone.
func (t *Template) RenderBlock(name string, ctx map[string]any) (string, bool, error) {
	block, ok := t.blocks[name]
	if !ok {
		return "", false, nil
	}
	var buf bytes.Buffer
	if err := block.Execute(&buf, ctx); err != nil {
		return "", true, fmt.Errorf("rendering block %s of %s: %w", name, t.name, err)
	}
	return strings.Trim(buf.String(), "\r\n"), true, nil
}
