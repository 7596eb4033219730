package templates

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"welcome.tmpl": &fstest.MapFile{Data: []byte(
			`{{define "subject"}}Welcome, {{.Name}}!{{end}}
{{define "body"}}Hello {{.Name}}.{{end}}
{{define "html"}}<p>Hello <b>{{.Name}}</b>.</p>{{end}}`)},
		"notes/plain.tmpl": &fstest.MapFile{Data: []byte(
			`{{define "body"}}Just a body.{{end}}
{{define "footer"}}ignored block{{end}}`)},
		"README.md": &fstest.MapFile{Data: []byte("not a template")},
	}
}

func TestLoadAndGet(t *testing.T) {
	store, err := Load(testFS())
	require.NoError(t, err)

	tmpl, err := store.Get("welcome.tmpl")
	require.NoError(t, err)
	assert.Equal(t, "welcome.tmpl", tmpl.Name())

	_, err = store.Get("notes/plain.tmpl")
	assert.NoError(t, err)
}

func TestGetUnknownTemplate(t *testing.T) {
	store, err := Load(testFS())
	require.NoError(t, err)

	_, err = store.Get("missing.tmpl")
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
	assert.Contains(t, err.Error(), "missing.tmpl")
}

func TestLoadSkipsNonTemplateFiles(t *testing.T) {
	store, err := Load(testFS())
	require.NoError(t, err)

	_, err = store.Get("README.md")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestBlockExtraction(t *testing.T) {
	store, err := Load(testFS())
	require.NoError(t, err)

	tmpl, err := store.Get("welcome.tmpl")
	require.NoError(t, err)
	assert.True(t, tmpl.HasBlock(BlockSubject))
	assert.True(t, tmpl.HasBlock(BlockBody))
	assert.True(t, tmpl.HasBlock(BlockHTML))

	plain, err := store.Get("notes/plain.tmpl")
	require.NoError(t, err)
	assert.False(t, plain.HasBlock(BlockSubject))
	assert.True(t, plain.HasBlock(BlockBody))
	assert.False(t, plain.HasBlock(BlockHTML))
	// Blocks with unrecognized names are not extracted.
	assert.False(t, plain.HasBlock("footer"))
}

func TestRenderBlock(t *testing.T) {
	store, err := Load(testFS())
	require.NoError(t, err)

	tmpl, err := store.Get("welcome.tmpl")
	require.NoError(t, err)

	out, ok, err := tmpl.RenderBlock(BlockSubject, map[string]any{"Name": "Ada"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Welcome, Ada!", out)
}

func TestRenderBlockMissingIsNotAnError(t *testing.T) {
	tmpl, err := Parse("t", `{{define "body"}}text{{end}}`)
	require.NoError(t, err)

	out, ok, err := tmpl.RenderBlock(BlockSubject, nil)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, out)
}

func TestRenderBlockTrimsCRLF(t *testing.T) {
	tmpl, err := Parse("t", "{{define \"subject\"}}\r\n\nHello {{.Name}}\n\r\n{{end}}")
	require.NoError(t, err)

	out, ok, err := tmpl.RenderBlock(BlockSubject, map[string]any{"Name": "Ada"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Hello Ada", out)
}

func TestRenderBlockKeepsInnerNewlines(t *testing.T) {
	tmpl, err := Parse("t", "{{define \"body\"}}\nline one\nline two\n{{end}}")
	require.NoError(t, err)

	out, _, err := tmpl.RenderBlock(BlockBody, nil)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", out)
}

func TestSprigFunctionsAvailable(t *testing.T) {
	tmpl, err := Parse("t", `{{define "subject"}}{{.Name | upper}}{{end}}`)
	require.NoError(t, err)

	out, _, err := tmpl.RenderBlock(BlockSubject, map[string]any{"Name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, "ADA", out)
}

func TestParseSyntaxError(t *testing.T) {
	_, err := Parse("broken", `{{define "subject"}}{{.Name`)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestRenderBlockExecutionError(t *testing.T) {
	tmpl, err := Parse("t", `{{define "body"}}{{fail "boom"}}{{end}}`)
	require.NoError(t, err)

	_, ok, err := tmpl.RenderBlock(BlockBody, nil)
	assert.True(t, ok)
	assert.Error(t, err)
}

func TestNames(t *testing.T) {
	store, err := Load(testFS())
	require.NoError(t, err)

	names := store.Names()
	assert.Len(t, names, 2)
	assert.Contains(t, names, "welcome.tmpl")
	assert.Contains(t, names, "notes/plain.tmpl")
}
