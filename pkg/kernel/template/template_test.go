package template

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestClone_DeepCopy(t *testing.T) {
	orig := &Template{
		Name:       "/t",
		Type:       TypeMap,
		Text:       "hello ${x}",
		Bytes:      []byte("ab"),
		Entries:    map[string]string{"k": "${x}"},
		Properties: map[string]string{"p": "${x}"},
	}
	c := orig.Clone()
	c.Rewrite(func(s string) string { return strings.ReplaceAll(s, "${x}", "1") })
	c.Bytes[0] = 'z'

	if orig.Text != "hello ${x}" {
		t.Errorf("original text mutated: %q", orig.Text)
	}
	if orig.Entries["k"] != "${x}" || orig.Properties["p"] != "${x}" {
		t.Errorf("original maps mutated: %v %v", orig.Entries, orig.Properties)
	}
	if string(orig.Bytes) != "ab" {
		t.Errorf("original bytes mutated: %q", orig.Bytes)
	}
	if c.Text != "hello 1" || c.Entries["k"] != "1" || c.Properties["p"] != "1" {
		t.Errorf("clone not rewritten: %+v", c)
	}
}

func TestRewrite_BytesPayloadUntouched(t *testing.T) {
	tpl := &Template{Type: TypeBytes, Text: "${x}", Bytes: []byte("${x}"), Properties: map[string]string{"p": "${x}"}}
	tpl.Rewrite(func(string) string { return "1" })
	if tpl.Text != "${x}" || string(tpl.Bytes) != "${x}" {
		t.Errorf("bytes payload rewritten: %q %q", tpl.Text, tpl.Bytes)
	}
	if tpl.Properties["p"] != "1" {
		t.Errorf("property = %q, want 1", tpl.Properties["p"])
	}
}

func TestBody(t *testing.T) {
	m := &Template{Type: TypeMap, Entries: map[string]string{"b": "2", "a": "1"}}
	if got := m.Body(); got != "{a=1, b=2}" {
		t.Errorf("body = %q", got)
	}
}

func TestDirCatalog_Lookup(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "orders/new.yaml", "apiVersion: template/v0\ntype: text\npayload: \"id=${id}\"\n")
	writeFile(t, root, "raw.yaml", "apiVersion: template/v0\ntype: bytes\npayload: aGk=\n")

	c := NewDirCatalog(root)
	tpl, err := c.Lookup("orders/new")
	if err != nil {
		t.Fatal(err)
	}
	if tpl.Name != "/orders/new" || tpl.Text != "id=${id}" {
		t.Errorf("template = %+v", tpl)
	}
	raw, err := c.Lookup("/raw")
	if err != nil {
		t.Fatal(err)
	}
	if string(raw.Bytes) != "hi" {
		t.Errorf("bytes = %q, want hi", raw.Bytes)
	}
	if _, err := c.Lookup("/missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDirCatalog_LookupFolder(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "f/b.yaml", "type: text\npayload: b\n")
	writeFile(t, root, "f/a.yaml", "type: text\npayload: a\n")
	writeFile(t, root, "f/sub/c.yaml", "type: text\npayload: c\n")
	writeFile(t, root, "f/notes.txt", "ignored")
	if err := os.MkdirAll(filepath.Join(root, "empty"), 0o755); err != nil {
		t.Fatal(err)
	}

	c := NewDirCatalog(root)
	ts, err := c.LookupFolder("f")
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, tpl := range ts {
		names = append(names, tpl.Name)
	}
	if got := strings.Join(names, ","); got != "/f/a,/f/b,/f/sub/c" {
		t.Errorf("names = %q", got)
	}

	empty, err := c.LookupFolder("empty")
	if err != nil || len(empty) != 0 {
		t.Errorf("empty folder = %v, %v", empty, err)
	}
	if _, err := c.LookupFolder("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDirCatalog_RejectsPathsOutsideRoot(t *testing.T) {
	base := t.TempDir()
	writeFile(t, base, "secret.yaml", "type: text\npayload: s3cret\n")
	writeFile(t, base, "templates/ok.yaml", "type: text\npayload: ok\n")
	c := NewDirCatalog(filepath.Join(base, "templates"))

	for _, ref := range []string{"/../secret", "../secret", "/a/../../secret", "/../../../etc/passwd"} {
		if tpl, err := c.Lookup(ref); !errors.Is(err, ErrNotFound) {
			t.Errorf("Lookup(%q) = %v, %v; want ErrNotFound", ref, tpl, err)
		}
	}
	if ts, err := c.LookupFolder("/.."); !errors.Is(err, ErrNotFound) {
		t.Errorf("LookupFolder(/..) = %v, %v; want ErrNotFound", ts, err)
	}
	if _, err := c.Lookup("/sub/../ok"); err != nil {
		t.Errorf("in-root reference rejected: %v", err)
	}
}

func TestDirCatalog_BadDocument(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "bad.yaml", "type: text\nsurprise: true\n")
	_, err := NewDirCatalog(root).Lookup("bad")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want decode error", err)
	}
}

func TestMemCatalog(t *testing.T) {
	m := MemCatalog{}
	m.Add(&Template{Name: "q/two", Type: TypeText})
	m.Add(&Template{Name: "q/one", Type: TypeText})
	ts, err := m.LookupFolder("/q")
	if err != nil || len(ts) != 2 || ts[0].Name != "/q/one" {
		t.Errorf("folder = %v, %v", ts, err)
	}
	if _, err := m.Lookup("x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}
