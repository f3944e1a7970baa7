package documents

import "fmt"

// Chunker splits text into fixed-size windows with overlap between
// consecutive chunks, so context spanning a boundary appears in both.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker. Overlap must be smaller than the
// window size or the window would never advance.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split slices text into chunks. Text that fits one window produces a
// single chunk; empty text produces none. Offsets are rune-based so a
// multi-byte character never straddles a boundary.
func (c *Chunker) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var chunks []string
	start := 0
	for {
		end := start + c.size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			return chunks
		}
		chunks = append(chunks, string(runes[start:end]))
		start = end - c.overlap
	}
}
