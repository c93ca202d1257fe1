package app

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestNormalizeTextPreserveNewlines(t *testing.T) {
	in := "  Привет,\t\u00a0мир!\r\n\r\n\r\n\r\nВторая\u200b стро\u00adка\u202fздесь  \n"
	require.Equal(t, "Привет, мир!\n\nВторая строка здесь", normalizeTextPreserveNewlines(in))
}

func TestNormalizeDropsInvalidUTF8AndControls(t *testing.T) {
	in := "a\x00b\xffc\x07\n\n\n\nd"
	require.Equal(t, "abc\n\nd", normalizeTextPreserveNewlines(in))
}

func TestChunkParagraphsPacksAndOverlaps(t *testing.T) {
	text := "aaaa\n\nbbbb\n\ncccc"

	require.Equal(t, []string{"aaaa\n\nbbbb", "cccc"}, chunkParagraphs(text, 10, 0))
	require.Equal(t, []string{"aaaa\n\nbbbb", "bbb cccc"}, chunkParagraphs(text, 10, 3))
}

func TestChunkParagraphsSplitsLongParagraph(t *testing.T) {
	chunks := chunkParagraphs(strings.Repeat("я", 25), 10, 0)
	require.Len(t, chunks, 3)
	for i, want := range []int{10, 10, 5} {
		require.Equal(t, want, utf8.RuneCountInString(chunks[i]), "chunk %d", i)
	}
}

func TestChunkParagraphsDeterministic(t *testing.T) {
	text := strings.Repeat("Правило сложения дробей с одинаковыми знаменателями.\n\n", 40)
	first := chunkParagraphs(text, 200, 30)
	second := chunkParagraphs(text, 200, 30)
	require.NotEmpty(t, first)
	require.Equal(t, first, second)
	for _, chunk := range first {
		require.LessOrEqual(t, utf8.RuneCountInString(chunk), 200+30+1)
	}
	require.Empty(t, chunkParagraphs("", 100, 10))
}

func TestChunkRunesWindows(t *testing.T) {
	require.Equal(t, []string{"abcd", "cdef", "efgh", "ghij"}, chunkRunes("abcdefghij", 4, 2))
	require.Nil(t, chunkRunes("abc", 0, 0))
}
