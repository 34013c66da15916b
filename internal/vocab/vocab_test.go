package vocab_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rhetoric101/morse-voice-trainer/internal/vocab"
)

const phonetic = `name: phonetic
description: ITU phonetic alphabet
allow_unknown: true
words:
  - alfa
  - bravo
  - charlie
`

func writeManifest(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestLoadAndGrammar(t *testing.T) {
	path := writeManifest(t, t.TempDir(), "phonetic.yaml", phonetic)
	v, err := vocab.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := vocab.Validate(v); err != nil {
		t.Fatalf("validate: %v", err)
	}
	want := `["alfa","bravo","charlie","[unk]"]`
	if got := v.Grammar(); got != want {
		t.Fatalf("grammar mismatch: got %s want %s", got, want)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]vocab.Vocabulary{
		"no name":     {Words: []string{"a"}},
		"no words":    {Name: "x"},
		"blank word":  {Name: "x", Words: []string{"a", " "}},
		"uppercase":   {Name: "x", Words: []string{"CQ"}},
		"duplicate":   {Name: "x", Words: []string{"k", "k"}},
		"unk literal": {Name: "x", Words: []string{"[unk]"}},
	}
	for name, v := range cases {
		if err := vocab.Validate(v); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestCatalog(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "phonetic.yaml", phonetic)
	writeManifest(t, dir, "training.yml", "name: training\nwords: [test, cq, k]\n")
	writeManifest(t, dir, "README.md", "ignored")

	cat, err := vocab.LoadDir(dir)
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	names := cat.Names()
	if len(names) != 2 || names[0] != "phonetic" || names[1] != "training" {
		t.Fatalf("unexpected names %v", names)
	}
	v, ok := cat.Lookup("training")
	if !ok || v.Grammar() != `["test","cq","k"]` {
		t.Fatalf("unexpected training vocabulary: %+v", v)
	}
	if v, ok := cat.Lookup(""); !ok || v != nil {
		t.Fatal("expected empty name to mean unconstrained")
	}
	if _, ok := cat.Lookup("nato"); ok {
		t.Fatal("expected unknown vocabulary lookup to fail")
	}
}

func TestCatalogRejectsInvalidManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "bad.yaml", "name: bad\nwords: []\n")
	if _, err := vocab.LoadDir(dir); err == nil {
		t.Fatal("expected error for invalid manifest")
	}
}

func TestCatalogEmptyDir(t *testing.T) {
	cat, err := vocab.LoadDir("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cat.Names()) != 0 {
		t.Fatalf("expected empty catalog")
	}
}
