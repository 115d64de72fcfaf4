package service

import (
	"strings"
	"testing"
)

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "w"
	}
	return strings.Join(parts, " ")
}

func TestChunkWords(t *testing.T) {
	testCases := []struct {
		name       string
		text       string
		size       int
		overlap    int
		wantChunks int
	}{
		{
			name:       "empty text",
			text:       "",
			size:       500,
			overlap:    50,
			wantChunks: 0,
		},
		{
			name:       "fewer words than chunk size",
			text:       words(100),
			size:       500,
			overlap:    50,
			wantChunks: 1,
		},
		{
			name:       "exactly chunk size",
			text:       words(500),
			size:       500,
			overlap:    50,
			wantChunks: 1,
		},
		{
			name: "one word past chunk size",
			text: words(501),
			size: 500, overlap: 50,
			// second chunk starts at word 450
			wantChunks: 2,
		},
		{
			name:       "two full steps",
			text:       words(950),
			size:       500,
			overlap:    50,
			wantChunks: 2,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			chunks := ChunkWords(tc.text, tc.size, tc.overlap)
			if len(chunks) != tc.wantChunks {
				t.Errorf("chunks = %d, want %d", len(chunks), tc.wantChunks)
			}
			for i, c := range chunks {
				if n := len(strings.Fields(c)); n > tc.size {
					t.Errorf("chunk %d has %d words, max %d", i, n, tc.size)
				}
			}
		})
	}
}

func TestChunkWordsOverlap(t *testing.T) {
	text := "a b c d e f g h i j"
	chunks := ChunkWords(text, 4, 2)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	if chunks[0] != "a b c d" {
		t.Errorf("chunks[0] = %q", chunks[0])
	}
	// Step is size-overlap = 2, so the second chunk starts at "c".
	if chunks[1] != "c d e f" {
		t.Errorf("chunks[1] = %q", chunks[1])
	}

	// Every word must appear in at least one chunk.
	joined := strings.Join(chunks, " ")
	for _, w := range strings.Fields(text) {
		if !strings.Contains(joined, w) {
			t.Errorf("word %q lost in chunking", w)
		}
	}
}

func TestChunkWordsInvalidParamsFallBack(t *testing.T) {
	// Overlap >= size would loop forever; the defaults take over instead.
	chunks := ChunkWords(words(10), 5, 5)
	if len(chunks) != 1 {
		t.Errorf("chunks = %d, want 1", len(chunks))
	}
}
