// Package document splits page text into ordered blocks for translation and
// renders the translated page back.
//
// A document is plain text or Markdown:
//
//   - YAML front matter (between --- delimiters) contributes one block per
//     string field, keyed "fm:<field>". Other fields are kept verbatim.
//
//   - Fenced code blocks (``` or ~~~), horizontal rules and HTML blocks are
//     kept verbatim and never sent for translation.
//
//   - Headings (# to ######) are their own blocks; the marker is kept and
//     only the heading text is translated.
//
//   - Everything else is split into paragraphs on blank lines.
//
// Each translatable block can be cut into chunks (see segment.Chunk); the
// translations of the chunks are joined with a space when the document is
// rendered. Untranslated chunks fall back to their source text.
package document

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind classifies a block.
type Kind int

const (
	// Paragraph is translatable body text.
	Paragraph Kind = iota
	// Heading is a Markdown heading; Prefix holds its marker.
	Heading
	// FrontMatter is a string field of the YAML front matter.
	FrontMatter
	// Verbatim is copied unchanged: code, rules, HTML.
	Verbatim
)

func (k Kind) String() string {
	switch k {
	case Paragraph:
		return "paragraph"
	case Heading:
		return "heading"
	case FrontMatter:
		return "front-matter"
	case Verbatim:
		return "verbatim"
	}
	return "unknown"
}

// Block is one unit of the document in source order.
type Block struct {
	// Key identifies the block ("fm:title", "b:3").
	Key  string
	Kind Kind
	// Prefix is the heading marker including its trailing space ("## ").
	Prefix string
	// Source is the text to translate (or the verbatim content).
	Source string
	// Chunks is how Source was split for translation; nil means one chunk.
	Chunks []string
	// Translations holds one entry per chunk; empty means untranslated.
	Translations []string
}

// Translatable reports whether the block's text is sent for translation.
func (b Block) Translatable() bool {
	return b.Kind != Verbatim
}

// Translated reports whether every chunk of the block has a translation.
func (b Block) Translated() bool {
	n := max(len(b.Chunks), 1)
	if len(b.Translations) < n {
		return false
	}
	for _, t := range b.Translations[:n] {
		if t == "" {
			return false
		}
	}
	return true
}

// Render returns the block's output text.
func (b Block) Render() string {
	if b.Kind == Verbatim {
		return b.Source
	}
	chunks := b.Chunks
	if len(chunks) == 0 {
		chunks = []string{b.Source}
	}
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		if i < len(b.Translations) && b.Translations[i] != "" {
			parts[i] = b.Translations[i]
		} else {
			parts[i] = c
		}
	}
	return b.Prefix + strings.Join(parts, " ")
}

// Document is a parsed page.
type Document struct {
	blocks []Block
	// fmNode is the parsed front matter for round-trip; nil when absent.
	fmNode *yaml.Node
	// fmRaw is front matter that did not parse as a YAML mapping.
	fmRaw string
}

// ---------------------------------------------------------------------------
// Parsing
// ---------------------------------------------------------------------------

// frontmatterBlock matches a YAML front matter block at the start of the file.
var frontmatterBlock = regexp.MustCompile(`(?s)^---\r?\n(.*?)\r?\n---\r?\n?`)

var (
	headingLine = regexp.MustCompile(`^(#{1,6}\s+)(.*?)(?:\s+#+)?\s*$`)
	ruleLine    = regexp.MustCompile(`^(?:(?:-\s*){3,}|(?:\*\s*){3,}|(?:_\s*){3,})$`)
)

// Parse splits data into blocks.
func Parse(data []byte) (*Document, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	d := &Document{}

	if m := frontmatterBlock.FindStringSubmatchIndex(text); m != nil {
		d.parseFrontMatter(text[m[2]:m[3]])
		text = text[m[1]:]
	}

	d.parseBody(text)
	return d, nil
}

func (d *Document) parseFrontMatter(raw string) {
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(raw), &node); err != nil || len(node.Content) == 0 || node.Content[0].Kind != yaml.MappingNode {
		d.fmRaw = raw
		return
	}
	d.fmNode = &node
	root := node.Content[0]
	for i := 0; i+1 < len(root.Content); i += 2 {
		keyNode, valNode := root.Content[i], root.Content[i+1]
		if valNode.Kind != yaml.ScalarNode || valNode.Tag != "!!str" || strings.TrimSpace(valNode.Value) == "" {
			continue
		}
		d.blocks = append(d.blocks, Block{
			Key:    "fm:" + keyNode.Value,
			Kind:   FrontMatter,
			Source: valNode.Value,
		})
	}
}

func (d *Document) parseBody(text string) {
	lines := strings.Split(text, "\n")
	var para []string

	flush := func() {
		if len(para) == 0 {
			return
		}
		body := strings.Join(para, "\n")
		kind := Paragraph
		if strings.HasPrefix(strings.TrimSpace(para[0]), "<") {
			kind = Verbatim
		}
		d.add(Block{Kind: kind, Source: body})
		para = nil
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~"):
			flush()
			fence := trimmed[:3]
			code := []string{line}
			for i+1 < len(lines) {
				i++
				code = append(code, lines[i])
				if strings.HasPrefix(strings.TrimSpace(lines[i]), fence) {
					break
				}
			}
			d.add(Block{Kind: Verbatim, Source: strings.Join(code, "\n")})

		case trimmed == "":
			flush()

		case ruleLine.MatchString(trimmed):
			flush()
			d.add(Block{Kind: Verbatim, Source: trimmed})

		case headingLine.MatchString(trimmed):
			flush()
			m := headingLine.FindStringSubmatch(trimmed)
			if m[2] == "" {
				d.add(Block{Kind: Verbatim, Source: trimmed})
				continue
			}
			d.add(Block{Kind: Heading, Prefix: strings.TrimSpace(m[1]) + " ", Source: m[2]})

		default:
			para = append(para, line)
		}
	}
	flush()
}

func (d *Document) add(b Block) {
	b.Key = fmt.Sprintf("b:%d", len(d.blocks))
	d.blocks = append(d.blocks, b)
}

// ---------------------------------------------------------------------------
// Querying and updating
// ---------------------------------------------------------------------------

// Len returns the number of blocks.
func (d *Document) Len() int {
	return len(d.blocks)
}

// Block returns block i.
func (d *Document) Block(i int) Block {
	return d.blocks[i]
}

// Blocks returns a copy of all blocks in document order.
func (d *Document) Blocks() []Block {
	out := make([]Block, len(d.blocks))
	copy(out, d.blocks)
	return out
}

// SetChunks records how block i was split for translation and resets its
// translations.
func (d *Document) SetChunks(i int, chunks []string) error {
	if err := d.check(i); err != nil {
		return err
	}
	d.blocks[i].Chunks = append([]string(nil), chunks...)
	d.blocks[i].Translations = make([]string, max(len(chunks), 1))
	return nil
}

// SetTranslation stores the translation of chunk part of block i.
func (d *Document) SetTranslation(i, part int, text string) error {
	if err := d.check(i); err != nil {
		return err
	}
	b := &d.blocks[i]
	n := max(len(b.Chunks), 1)
	if part < 0 || part >= n {
		return fmt.Errorf("block %s has %d chunks, got chunk %d", b.Key, n, part)
	}
	if len(b.Translations) < n {
		b.Translations = append(b.Translations, make([]string, n-len(b.Translations))...)
	}
	b.Translations[part] = strings.TrimSpace(text)
	return nil
}

func (d *Document) check(i int) error {
	if i < 0 || i >= len(d.blocks) {
		return fmt.Errorf("block %d out of range [0,%d)", i, len(d.blocks))
	}
	if !d.blocks[i].Translatable() {
		return fmt.Errorf("block %s is not translatable", d.blocks[i].Key)
	}
	return nil
}

// Stats returns (total, translated, percent) over translatable blocks.
func (d *Document) Stats() (int, int, float64) {
	total, translated := 0, 0
	for _, b := range d.blocks {
		if !b.Translatable() {
			continue
		}
		total++
		if b.Translated() {
			translated++
		}
	}
	pct := 0.0
	if total > 0 {
		pct = float64(translated) / float64(total) * 100
	}
	return total, translated, pct
}

// ---------------------------------------------------------------------------
// Marshaling
// ---------------------------------------------------------------------------

// Marshal renders the document with translations applied.
func (d *Document) Marshal() ([]byte, error) {
	var buf bytes.Buffer

	switch {
	case d.fmNode != nil:
		fm, err := d.renderFrontMatter()
		if err != nil {
			return nil, err
		}
		buf.WriteString("---\n")
		buf.WriteString(fm)
		buf.WriteString("\n---\n\n")
	case d.fmRaw != "":
		buf.WriteString("---\n")
		buf.WriteString(d.fmRaw)
		buf.WriteString("\n---\n\n")
	}

	first := true
	for _, b := range d.blocks {
		if b.Kind == FrontMatter {
			continue
		}
		if !first {
			buf.WriteString("\n\n")
		}
		buf.WriteString(b.Render())
		first = false
	}

	out := bytes.TrimRight(buf.Bytes(), "\n")
	return append(out, '\n'), nil
}

func (d *Document) renderFrontMatter() (string, error) {
	translated := make(map[string]string)
	for _, b := range d.blocks {
		if b.Kind == FrontMatter && b.Translated() {
			translated[strings.TrimPrefix(b.Key, "fm:")] = b.Render()
		}
	}

	root := d.fmNode.Content[0]
	for i := 0; i+1 < len(root.Content); i += 2 {
		if v, ok := translated[root.Content[i].Value]; ok {
			root.Content[i+1].Value = v
		}
	}

	data, err := yaml.Marshal(d.fmNode)
	if err != nil {
		return "", fmt.Errorf("marshaling front matter: %w", err)
	}
	fm := strings.TrimSpace(string(data))
	fm = strings.TrimSpace(strings.TrimPrefix(fm, "---"))
	return fm, nil
}

// WriteFile renders the document and writes it to path.
func (d *Document) WriteFile(path string) error {
	data, err := d.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
