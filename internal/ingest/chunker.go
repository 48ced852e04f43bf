package ingest

import (
	"strings"
	"unicode"
)

const (
	// DefaultMaxChars is the target maximum chunk length in characters
	DefaultMaxChars = 1200

	// minMaxChars keeps tiny limits from producing one-word chunks
	minMaxChars = 100
)

// Chunker packs paragraphs into chunks of at most MaxChars characters.
// Each chunk after the first repeats the last paragraph of the previous
// chunk when it fits, so a passage spanning a boundary is retrievable
// from either side.
type Chunker struct {
	MaxChars int
	Overlap  bool
}

// NewChunker creates a Chunker; maxChars <= 0 uses DefaultMaxChars
func NewChunker(maxChars int) *Chunker {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if maxChars < minMaxChars {
		maxChars = minMaxChars
	}
	return &Chunker{MaxChars: maxChars, Overlap: true}
}

// Split returns the chunk texts of text in document order
func (c *Chunker) Split(text string) []string {
	paragraphs := c.paragraphs(text)
	if len(paragraphs) == 0 {
		return nil
	}

	var (
		chunks  []string
		current []string
		size    int
	)

	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, strings.Join(current, "\n\n"))
		}
	}

	for _, p := range paragraphs {
		if len(current) > 0 && size+2+len(p) > c.MaxChars {
			flush()
			last := current[len(current)-1]
			current, size = nil, 0
			if c.Overlap && len(last)+2+len(p) <= c.MaxChars {
				current = []string{last}
				size = len(last)
			}
		}
		if len(current) > 0 {
			size += 2
		}
		current = append(current, p)
		size += len(p)
	}
	flush()

	return chunks
}

// paragraphs splits text on blank lines, collapses inner whitespace and
// breaks paragraphs longer than MaxChars at word boundaries. A line holding
// only whitespace counts as blank.
func (c *Chunker) paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var (
		out   []string
		block []string
	)
	flush := func() {
		p := strings.Join(strings.Fields(strings.Join(block, " ")), " ")
		block = block[:0]
		if p != "" {
			out = append(out, c.splitLong(p)...)
		}
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		block = append(block, line)
	}
	flush()
	return out
}

// splitLong breaks p into pieces of at most MaxChars, preferring sentence
// ends, then spaces
func (c *Chunker) splitLong(p string) []string {
	var out []string
	for len(p) > c.MaxChars {
		cut := c.cutPoint(p)
		out = append(out, strings.TrimSpace(p[:cut]))
		p = strings.TrimSpace(p[cut:])
	}
	if p != "" {
		out = append(out, p)
	}
	return out
}

func (c *Chunker) cutPoint(p string) int {
	window := p[:c.MaxChars]
	if i := strings.LastIndexAny(window, ".!?"); i > c.MaxChars/2 {
		return i + 1
	}
	if i := strings.LastIndexFunc(window, unicode.IsSpace); i > 0 {
		return i
	}
	// No break point: cut on a rune boundary
	cut := c.MaxChars
	for cut > 0 && !isRuneStart(p[cut]) {
		cut--
	}
	if cut == 0 {
		return c.MaxChars
	}
	return cut
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
