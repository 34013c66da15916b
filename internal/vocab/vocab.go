package vocab

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// UnknownToken lets the recognizer reject audio outside the closed set
// instead of forcing it onto the nearest word.
const UnknownToken = "[unk]"

// Vocabulary is a closed word list that constrains a recognition session.
type Vocabulary struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Words        []string `yaml:"words"`
	AllowUnknown bool     `yaml:"allow_unknown"`
}

// Load reads a vocabulary manifest from disk.
func Load(path string) (Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Vocabulary{}, err
	}
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return Vocabulary{}, fmt.Errorf("parse vocabulary %s: %w", path, err)
	}
	return v, nil
}

// Validate ensures the manifest is usable as a recognizer grammar.
func Validate(v Vocabulary) error {
	if v.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(v.Words) == 0 {
		return fmt.Errorf("words must include at least one entry")
	}
	seen := make(map[string]struct{}, len(v.Words))
	for i, w := range v.Words {
		norm := strings.TrimSpace(w)
		if norm == "" {
			return fmt.Errorf("words[%d] is empty", i)
		}
		if norm != strings.ToLower(norm) {
			return fmt.Errorf("words[%d] %q must be lowercase", i, w)
		}
		if norm == UnknownToken {
			return fmt.Errorf("words[%d]: use allow_unknown instead of %s", i, UnknownToken)
		}
		if _, dup := seen[norm]; dup {
			return fmt.Errorf("words[%d] %q is duplicated", i, w)
		}
		seen[norm] = struct{}{}
	}
	return nil
}

// Grammar renders the JSON array accepted by Vosk recognizers,
// e.g. ["alfa", "bravo", "[unk]"].
func (v Vocabulary) Grammar() string {
	words := make([]string, 0, len(v.Words)+1)
	for _, w := range v.Words {
		words = append(words, strings.TrimSpace(w))
	}
	if v.AllowUnknown {
		words = append(words, UnknownToken)
	}
	data, _ := json.Marshal(words)
	return string(data)
}

// Catalog indexes vocabularies by name.
type Catalog struct {
	byName map[string]*Vocabulary
}

// LoadDir reads every *.yaml / *.yml manifest in dir. An empty dir yields an
// empty catalog.
func LoadDir(dir string) (*Catalog, error) {
	c := &Catalog{byName: make(map[string]*Vocabulary)}
	if dir == "" {
		return c, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary dir: %w", err)
	}
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		v, err := Load(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if err := Validate(v); err != nil {
			return nil, fmt.Errorf("vocabulary %s: %w", e.Name(), err)
		}
		if _, dup := c.byName[v.Name]; dup {
			return nil, fmt.Errorf("vocabulary %q defined twice", v.Name)
		}
		c.byName[v.Name] = &v
	}
	return c, nil
}

// Lookup returns the named vocabulary. The empty name resolves to nil with ok
// set, meaning an unconstrained session.
func (c *Catalog) Lookup(name string) (*Vocabulary, bool) {
	if name == "" {
		return nil, true
	}
	if c == nil {
		return nil, false
	}
	v, ok := c.byName[name]
	return v, ok
}

// Names lists the loaded vocabularies in sorted order.
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.byName))
	for n := range c.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
