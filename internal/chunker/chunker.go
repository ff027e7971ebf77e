// Package chunker splits extracted document text into bounded segments
// suitable for embedding.
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	DefaultMaxLength = 500
	DefaultMinLength = 20
)

// Chunker accumulates whole sentences into chunks of at most maxLength runes.
// Sentences longer than maxLength are broken on whitespace, and single words
// longer than that are cut. Chunks shorter than minLength are dropped.
type Chunker struct {
	maxLength int
	minLength int
	splitter  *regexp.Regexp
}

func New(maxLength, minLength int) *Chunker {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	if minLength < 0 || minLength >= maxLength {
		minLength = DefaultMinLength
	}
	return &Chunker{
		maxLength: maxLength,
		minLength: minLength,
		// ؟ is the Arabic-script question mark.
		splitter: regexp.MustCompile(`[^.!?؟]+[.!?؟]+|[^.!?؟]+$`),
	}
}

func (c *Chunker) MaxLength() int { return c.maxLength }

// Split is deterministic and does no I/O.
func (c *Chunker) Split(text string) []string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return nil
	}

	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if curLen == 0 {
			return
		}
		if chunk := strings.TrimSpace(cur.String()); utf8.RuneCountInString(chunk) >= c.minLength {
			chunks = append(chunks, chunk)
		}
		cur.Reset()
		curLen = 0
	}

	for _, unit := range c.units(text) {
		n := utf8.RuneCountInString(unit)
		if curLen > 0 && curLen+1+n > c.maxLength {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(unit)
		curLen += n
	}
	flush()
	return chunks
}

// units returns sentences, with oversize sentences replaced by word runs
// that each fit in maxLength.
func (c *Chunker) units(text string) []string {
	var out []string
	for _, sentence := range c.splitter.FindAllString(text, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		if utf8.RuneCountInString(sentence) <= c.maxLength {
			out = append(out, sentence)
			continue
		}
		out = append(out, c.wordRuns(sentence)...)
	}
	return out
}

func (c *Chunker) wordRuns(sentence string) []string {
	var (
		runs   []string
		cur    []string
		curLen int
	)
	for _, word := range strings.Fields(sentence) {
		for _, piece := range c.cut(word) {
			n := utf8.RuneCountInString(piece)
			if curLen > 0 && curLen+1+n > c.maxLength {
				runs = append(runs, strings.Join(cur, " "))
				cur, curLen = nil, 0
			}
			if curLen > 0 {
				curLen++
			}
			cur = append(cur, piece)
			curLen += n
		}
	}
	if len(cur) > 0 {
		runs = append(runs, strings.Join(cur, " "))
	}
	return runs
}

func (c *Chunker) cut(word string) []string {
	runes := []rune(word)
	if len(runes) <= c.maxLength {
		return []string{word}
	}
	var pieces []string
	for start := 0; start < len(runes); start += c.maxLength {
		end := min(start+c.maxLength, len(runes))
		pieces = append(pieces, string(runes[start:end]))
	}
	return pieces
}
