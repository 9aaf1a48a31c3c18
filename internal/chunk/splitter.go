package chunk

import (
	"fmt"
	"strings"
)

// minChunkLen is the smallest trailing chunk worth indexing. A tail shorter
// than this carries no retrievable signal and is dropped.
const minChunkLen = 50

// Chunk is one bounded text span cut from a paper's extracted content.
// Chunks live only for the duration of a processing run; the vector-store
// document derived from a chunk is what survives.
type Chunk struct {
	PaperID string
	Index   int
	Text    string
	Length  int
}

// ID returns the vector-store document id for the chunk: the paper id plus
// the chunk ordinal. Stable across reprocessing, so re-indexing a paper
// overwrites its previous chunks instead of duplicating them.
func (c Chunk) ID() string {
	return fmt.Sprintf("%s_%d", c.PaperID, c.Index)
}

// Splitter cuts text into overlapping character windows.
type Splitter struct {
	Size    int
	Overlap int
}

// Split slides a window of Size characters over the text, advancing by
// Size-Overlap each step. The final window may be shorter; if it falls below
// minChunkLen it is dropped rather than emitted (unless it is the only
// chunk, so short papers still index).
func (s Splitter) Split(paperID, text string) []Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	step := s.Size - s.Overlap
	runes := []rune(text)

	var chunks []Chunk
	for start := 0; start < len(runes); start += step {
		end := start + s.Size
		if end > len(runes) {
			end = len(runes)
		}
		span := string(runes[start:end])
		// Only a short partial tail is dropped; full windows always index,
		// even when the configured size is below minChunkLen.
		if len(chunks) > 0 && end-start < s.Size && end-start < minChunkLen {
			break
		}
		chunks = append(chunks, Chunk{
			PaperID: paperID,
			Index:   len(chunks),
			Text:    span,
			Length:  end - start,
		})
		if end == len(runes) {
			break
		}
	}
	return chunks
}
