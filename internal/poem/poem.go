// Package poem holds the poem model, the plain-text corpus parser and an
// in-memory repository that serves poems by ID.
package poem

import (
	"bufio"
	"io"
	"strings"
)

// Poem is one entry of the corpus. It is read-only once loaded.
type Poem struct {
	ID          int      `json:"id"`
	Title       string   `json:"title"`
	Author      string   `json:"author"`
	Tags        []string `json:"tags"`
	Content     []string `json:"content"`
	Translation []string `json:"translation"`
}

// Text joins the content lines with newlines.
func (p Poem) Text() string { return strings.Join(p.Content, "\n") }

// TranslationText joins the translation lines with newlines.
func (p Poem) TranslationText() string { return strings.Join(p.Translation, "\n") }

// Describe renders the poem as the information block handed to a language
// model: title, author, the original text and the translation, or a note
// that there is none. The block ends with a newline.
func (p Poem) Describe() string {
	var b strings.Builder
	b.WriteString("【当前诗词信息】\n")
	b.WriteString("标题：" + p.Title + "\n")
	b.WriteString("作者：" + p.Author + "\n")
	b.WriteString("原文：\n")
	b.WriteString(p.Text() + "\n")
	if tr := p.TranslationText(); strings.TrimSpace(tr) != "" {
		b.WriteString("\n译文：\n")
		b.WriteString(tr + "\n")
	} else {
		b.WriteString("\n(暂无译文)\n")
	}
	return b.String()
}

const (
	blockSeparator = "\n\n\n"
	tagsPrefix     = "Tags:"
)

// Parse reads a corpus. Poems are separated by two blank lines; within a
// block, line 0 is the title, line 1 the author and line 2 an optional
// "Tags: a,b" line. Content lines follow until the first blank line, and
// everything after it is translation. Blocks with fewer than three lines are
// skipped but still consume an ID, so IDs stay stable across corpus edits
// that only touch other blocks.
func Parse(r io.Reader) ([]Poem, error) {
	raw, err := io.ReadAll(bufio.NewReader(r))
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(strings.ReplaceAll(string(raw), "\r\n", "\n"))
	if text == "" {
		return nil, nil
	}

	var poems []Poem
	for idx, block := range strings.Split(text, blockSeparator) {
		lines := strings.Split(block, "\n")
		if len(lines) < 3 {
			continue
		}
		p := Poem{
			ID:     idx,
			Title:  strings.TrimSpace(lines[0]),
			Author: strings.TrimSpace(lines[1]),
			Tags:   parseTags(strings.TrimSpace(lines[2])),
		}

		inTranslation := false
		for _, line := range lines[3:] {
			line = strings.TrimSpace(line)
			if line == "" {
				inTranslation = true
				continue
			}
			if inTranslation {
				p.Translation = append(p.Translation, line)
			} else {
				p.Content = append(p.Content, line)
			}
		}
		poems = append(poems, p)
	}
	return poems, nil
}

func parseTags(line string) []string {
	if !strings.HasPrefix(line, tagsPrefix) {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(line[len(tagsPrefix):], ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
