package document

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sample = `---
title: Hello World
date: 2024-01-01
tags: [a, b]
---

# Getting started

This is the intro.
It spans two lines.

` + "```sh\n$ make install\n\n$ make test\n```" + `

---

## Usage ##

<div class="note">Raw HTML</div>

Last paragraph.
`

func TestParseBlocks(t *testing.T) {
	d, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	want := []struct {
		key    string
		kind   Kind
		prefix string
		source string
	}{
		{"fm:title", FrontMatter, "", "Hello World"},
		{"b:1", Heading, "# ", "Getting started"},
		{"b:2", Paragraph, "", "This is the intro.\nIt spans two lines."},
		{"b:3", Verbatim, "", "```sh\n$ make install\n\n$ make test\n```"},
		{"b:4", Verbatim, "", "---"},
		{"b:5", Heading, "## ", "Usage"},
		{"b:6", Verbatim, "", `<div class="note">Raw HTML</div>`},
		{"b:7", Paragraph, "", "Last paragraph."},
	}

	blocks := d.Blocks()
	if len(blocks) != len(want) {
		for _, b := range blocks {
			t.Logf("%s %s %q", b.Key, b.Kind, b.Source)
		}
		t.Fatalf("got %d blocks, want %d", len(blocks), len(want))
	}
	for i, w := range want {
		b := blocks[i]
		if b.Key != w.key || b.Kind != w.kind || b.Prefix != w.prefix || b.Source != w.source {
			t.Errorf("block %d = {%s %s %q %q}, want {%s %s %q %q}",
				i, b.Key, b.Kind, b.Prefix, b.Source, w.key, w.kind, w.prefix, w.source)
		}
	}
}

func TestUnterminatedFenceRunsToEnd(t *testing.T) {
	d, _ := Parse([]byte("Intro text here.\n\n```\ncode\n\nmore code\n"))
	if d.Len() != 2 {
		t.Fatalf("got %d blocks, want 2", d.Len())
	}
	if b := d.Block(1); b.Kind != Verbatim || !strings.Contains(b.Source, "more code") {
		t.Fatalf("unexpected code block: %#v", b)
	}
}

func TestMarshalUntranslatedKeepsSource(t *testing.T) {
	src := "# Title\n\nFirst paragraph.\n\nSecond paragraph.\n"
	d, _ := Parse([]byte(src))
	out, err := d.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(out) != src {
		t.Fatalf("Marshal = %q, want %q", out, src)
	}
}

func TestMarshalAppliesTranslations(t *testing.T) {
	d, err := Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}

	set := func(i, part int, text string) {
		t.Helper()
		if err := d.SetTranslation(i, part, text); err != nil {
			t.Fatalf("SetTranslation(%d, %d): %v", i, part, err)
		}
	}
	set(0, 0, "Hallo Welt")
	set(1, 0, "Erste Schritte")
	if err := d.SetChunks(2, []string{"This is the intro.", "It spans two lines."}); err != nil {
		t.Fatal(err)
	}
	set(2, 0, "Das ist die Einleitung.")
	set(2, 1, " Sie hat zwei Zeilen. ")
	set(5, 0, "Verwendung")

	out, err := d.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got := string(out)

	for _, want := range []string{
		"---\ntitle: Hallo Welt\ndate: 2024-01-01\n",
		"\n---\n\n# Erste Schritte\n\nDas ist die Einleitung. Sie hat zwei Zeilen.\n\n```sh\n$ make install\n\n$ make test\n```\n\n---\n\n## Verwendung\n\n",
		"<div class=\"note\">Raw HTML</div>\n\nLast paragraph.\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q\n--- got ---\n%s", want, got)
		}
	}
	if !strings.HasSuffix(got, "Last paragraph.\n") {
		t.Errorf("untranslated block should keep its source: %q", got)
	}
}

func TestPartialChunkTranslationFallsBack(t *testing.T) {
	d, _ := Parse([]byte("One. Two. Three.\n"))
	if err := d.SetChunks(0, []string{"One.", "Two.", "Three."}); err != nil {
		t.Fatal(err)
	}
	if err := d.SetTranslation(0, 1, "Zwei."); err != nil {
		t.Fatal(err)
	}
	if got := d.Block(0).Render(); got != "One. Zwei. Three." {
		t.Fatalf("Render = %q", got)
	}
	if d.Block(0).Translated() {
		t.Fatalf("block with missing chunks reported as translated")
	}
}

func TestSetTranslationErrors(t *testing.T) {
	d, _ := Parse([]byte("Text paragraph.\n\n---\n"))
	if err := d.SetTranslation(5, 0, "x"); err == nil {
		t.Error("expected out-of-range error")
	}
	if err := d.SetTranslation(1, 0, "x"); err == nil {
		t.Error("expected error for verbatim block")
	}
	if err := d.SetTranslation(0, 1, "x"); err == nil {
		t.Error("expected error for missing chunk")
	}
}

func TestStats(t *testing.T) {
	d, _ := Parse([]byte("# A heading\n\nBody text.\n\n```\ncode\n```\n"))
	total, translated, pct := d.Stats()
	if total != 2 || translated != 0 || pct != 0 {
		t.Fatalf("Stats = %d, %d, %.0f", total, translated, pct)
	}
	_ = d.SetTranslation(0, 0, "Eine Überschrift")
	total, translated, pct = d.Stats()
	if total != 2 || translated != 1 || pct != 50 {
		t.Fatalf("Stats = %d, %d, %.0f", total, translated, pct)
	}
}

func TestInvalidFrontMatterKeptVerbatim(t *testing.T) {
	src := "---\n: not yaml : [\n---\n\nBody text.\n"
	d, _ := Parse([]byte(src))
	if d.Len() != 1 {
		t.Fatalf("got %d blocks, want 1", d.Len())
	}
	out, _ := d.Marshal()
	if string(out) != src {
		t.Fatalf("Marshal = %q, want %q", out, src)
	}
}

func TestWriteFile(t *testing.T) {
	d, _ := Parse([]byte("Hello there.\n"))
	_ = d.SetTranslation(0, 0, "Salut.")
	path := filepath.Join(t.TempDir(), "out", "page.md")
	if err := d.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	back, _ := Parse(data)
	if back.Block(0).Source != "Salut." {
		t.Fatalf("round trip = %q", back.Block(0).Source)
	}
}
