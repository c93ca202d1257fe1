package app

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var blankRuns = regexp.MustCompile(`\n{3,}`)
var paragraphBreak = regexp.MustCompile(`\n{2,}`)

// normalizeTextPreserveNewlines drops invisible and control runes, folds
// horizontal whitespace per line and keeps at most one blank line between
// paragraphs.
func normalizeTextPreserveNewlines(text string) string {
	text = strings.ToValidUTF8(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.Map(func(r rune) rune {
		switch {
		case r == '\n':
			return r
		case r == '\t' || r == '\u00a0' || r == '\u202f':
			return ' '
		case unicode.Is(unicode.Cf, r) || unicode.IsControl(r):
			return -1
		}
		return r
	}, text)
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	text = blankRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(text)
}

// chunkParagraphs packs paragraphs into chunks of at most size runes and
// prefixes every chunk after the first with the last overlap runes of the
// previous one. Paragraphs longer than size are cut into rune windows first.
func chunkParagraphs(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	var chunks []string
	var cur string
	for _, para := range paragraphBreak.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		pieces := []string{para}
		if utf8.RuneCountInString(para) > size {
			pieces = chunkRunes(para, size, 0)
		}
		for _, piece := range pieces {
			if cur == "" {
				cur = piece
				continue
			}
			if utf8.RuneCountInString(cur)+utf8.RuneCountInString(piece)+2 <= size {
				cur = cur + "\n\n" + piece
				continue
			}
			chunks = append(chunks, cur)
			cur = piece
		}
	}
	if cur != "" {
		chunks = append(chunks, cur)
	}
	if overlap <= 0 || len(chunks) < 2 {
		return chunks
	}
	out := make([]string, len(chunks))
	out[0] = chunks[0]
	for i := 1; i < len(chunks); i++ {
		out[i] = strings.TrimSpace(tailRunes(chunks[i-1], overlap) + " " + chunks[i])
	}
	return out
}

// chunkRunes cuts text into windows of size runes advancing by size-overlap.
func chunkRunes(text string, size, overlap int) []string {
	runes := []rune(text)
	if size <= 0 || len(runes) == 0 {
		return nil
	}
	step := size - overlap
	if step <= 0 {
		step = size
	}
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := min(start+size, len(runes))
		if part := strings.TrimSpace(string(runes[start:end])); part != "" {
			chunks = append(chunks, part)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

func tailRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
