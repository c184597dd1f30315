package mdfile

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/minios-linux/doctrans/doctree"
)

// Front matter blocks at the very start of the file. The closing delimiter
// must start a line.
var (
	yamlBlock = regexp.MustCompile(`(?s)\A---[ \t]*\r?\n(.*?\n)?---[ \t]*(?:\r?\n|\z)`)
	tomlBlock = regexp.MustCompile(`(?s)\A\+\+\+[ \t]*\r?\n(.*?\n)?\+\+\+[ \t]*(?:\r?\n|\z)`)
)

type frontMatter struct {
	delim string // "---" or "+++"
	block []byte // the whole block as read, delimiters included
	raw   []byte // content between the delimiters

	yamlDoc *yaml.Node
	tomlDoc map[string]any

	fields []*fmField
}

// fmField is one translatable front matter value.
type fmField struct {
	key      string
	root     *doctree.Node
	original string
	set      func(string)
}

// splitFrontMatter separates the front matter block from the body. Values
// at keys become translation roots.
func splitFrontMatter(data []byte, keys []string) (*frontMatter, []byte, error) {
	fm := &frontMatter{}
	var m []int
	if m = yamlBlock.FindSubmatchIndex(data); m != nil {
		fm.delim = "---"
	} else if m = tomlBlock.FindSubmatchIndex(data); m != nil {
		fm.delim = "+++"
	} else {
		return nil, data, nil
	}
	fm.block = data[:m[1]]
	if m[2] >= 0 {
		fm.raw = data[m[2]:m[3]]
	}
	body := data[m[1]:]

	if len(keys) == 0 || len(bytes.TrimSpace(fm.raw)) == 0 {
		return fm, body, nil
	}
	var err error
	if fm.delim == "---" {
		err = fm.loadYAML(keys)
	} else {
		err = fm.loadTOML(keys)
	}
	if err != nil {
		return nil, nil, err
	}
	return fm, body, nil
}

func (fm *frontMatter) addField(key, value string, set func(string)) {
	root := doctree.New(doctree.KindParagraph, doctree.NewText(value))
	fm.fields = append(fm.fields, &fmField{key: key, root: root, original: value, set: set})
}

func (fm *frontMatter) loadYAML(keys []string) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(fm.raw, &doc); err != nil {
		return fmt.Errorf("parsing YAML front matter: %w", err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil
	}
	fm.yamlDoc = &doc
	for _, key := range keys {
		node := yamlLookup(doc.Content[0], strings.Split(key, "."))
		if node == nil || node.Kind != yaml.ScalarNode || node.ShortTag() != "!!str" || node.Value == "" {
			continue
		}
		fm.addField(key, node.Value, func(s string) { node.Value = s })
	}
	return nil
}

func yamlLookup(n *yaml.Node, path []string) *yaml.Node {
	for _, part := range path {
		if n.Kind != yaml.MappingNode {
			return nil
		}
		var next *yaml.Node
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == part {
				next = n.Content[i+1]
				break
			}
		}
		if next == nil {
			return nil
		}
		n = next
	}
	return n
}

func (fm *frontMatter) loadTOML(keys []string) error {
	var doc map[string]any
	if err := toml.Unmarshal(fm.raw, &doc); err != nil {
		return fmt.Errorf("parsing TOML front matter: %w", err)
	}
	fm.tomlDoc = doc
	for _, key := range keys {
		path := strings.Split(key, ".")
		table := doc
		for _, part := range path[:len(path)-1] {
			next, ok := table[part].(map[string]any)
			if !ok {
				table = nil
				break
			}
			table = next
		}
		if table == nil {
			continue
		}
		last := path[len(path)-1]
		value, ok := table[last].(string)
		if !ok || value == "" {
			continue
		}
		fm.addField(key, value, func(s string) { table[last] = s })
	}
	return nil
}

// changed reports whether any translated value differs from the source.
func (fm *frontMatter) changed() bool {
	for _, f := range fm.fields {
		if f.root.PlainText() != f.original {
			return true
		}
	}
	return false
}

// render returns the front matter block. It is the original block unless a
// translated value changed.
func (fm *frontMatter) render() ([]byte, error) {
	if !fm.changed() {
		return fm.block, nil
	}
	for _, f := range fm.fields {
		f.set(f.root.PlainText())
	}

	var content []byte
	if fm.yamlDoc != nil {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(fm.yamlDoc); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		content = bytes.TrimPrefix(buf.Bytes(), []byte("---\n"))
	} else {
		var err error
		content, err = toml.Marshal(fm.tomlDoc)
		if err != nil {
			return nil, err
		}
	}

	var out bytes.Buffer
	out.WriteString(fm.delim + "\n")
	out.Write(content)
	if len(content) > 0 && content[len(content)-1] != '\n' {
		out.WriteByte('\n')
	}
	out.WriteString(fm.delim + "\n")
	return out.Bytes(), nil
}
