package vectorengine

import "strings"

// Chunk is a bounded text slice produced by the splitter, the unit of
// embedding.
type Chunk struct {
	Index int
	Text  string
}

// ChunkingOptions configures a ChunkSplitter: target chunk size (runes),
// overlap between consecutive chunks, and the separator hierarchy tried
// from coarsest to finest.
type ChunkingOptions struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

// DefaultSeparators mirrors the coarse-to-fine hierarchy used by common
// recursive text splitters: paragraph, line, sentence, word, character.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

func (o ChunkingOptions) normalized() ChunkingOptions {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 1024
	}
	if o.ChunkOverlap < 0 {
		o.ChunkOverlap = 0
	}
	if o.ChunkOverlap >= o.ChunkSize {
		o.ChunkOverlap = o.ChunkSize / 4
	}
	if len(o.Separators) == 0 {
		o.Separators = DefaultSeparators
	}
	return o
}

// ChunkSplitter splits text into Chunks.
type ChunkSplitter interface {
	Split(text string, opt ChunkingOptions) []Chunk
}

// RecursiveSplitter implements a recursive separator-hierarchy splitter:
// it tries the coarsest configured separator first, recursing into any
// piece still larger than ChunkSize using the next separator, then
// packs the resulting pieces into chunks of about ChunkSize runes with
// ChunkOverlap runes of overlap between consecutive chunks; a chunk
// that starts with carried overlap can reach ChunkSize+ChunkOverlap.
type RecursiveSplitter struct{}

func (RecursiveSplitter) Split(text string, opt ChunkingOptions) []Chunk {
	opt = opt.normalized()
	if strings.TrimSpace(text) == "" {
		return nil
	}
	pieces := splitRecursive(text, opt.Separators, opt.ChunkSize)
	return pack(pieces, opt.ChunkSize, opt.ChunkOverlap)
}

// splitRecursive breaks text into pieces no longer than limit where
// possible, preferring to cut on the coarsest available separator.
func splitRecursive(text string, seps []string, limit int) []string {
	if len([]rune(text)) <= limit || len(seps) == 0 {
		return []string{text}
	}
	sep, rest := seps[0], seps[1:]
	var parts []string
	if sep == "" {
		parts = splitEvery(text, limit)
	} else {
		parts = strings.Split(text, sep)
	}
	var out []string
	for i, p := range parts {
		if p == "" {
			continue
		}
		if sep != "" && i < len(parts)-1 {
			p += sep
		}
		if len([]rune(p)) > limit {
			out = append(out, splitRecursive(p, rest, limit)...)
		} else {
			out = append(out, p)
		}
	}
	return out
}

func splitEvery(text string, n int) []string {
	r := []rune(text)
	var out []string
	for i := 0; i < len(r); i += n {
		end := i + n
		if end > len(r) {
			end = len(r)
		}
		out = append(out, string(r[i:end]))
	}
	return out
}

// pack merges consecutive small pieces into chunks up to size, carrying
// overlap runes from the tail of one chunk into the start of the next;
// with the carried overlap a chunk can reach size+overlap runes.
func pack(pieces []string, size, overlap int) []Chunk {
	var chunks []Chunk
	var buf strings.Builder
	idx := 0

	flush := func() {
		s := strings.TrimSpace(buf.String())
		if s == "" {
			return
		}
		chunks = append(chunks, Chunk{Index: idx, Text: s})
		idx++
		if overlap > 0 {
			r := []rune(s)
			start := len(r) - overlap
			if start < 0 {
				start = 0
			}
			buf.Reset()
			buf.WriteString(string(r[start:]))
		} else {
			buf.Reset()
		}
	}

	for _, p := range pieces {
		if buf.Len() > 0 && len([]rune(buf.String()))+len([]rune(p)) > size {
			flush()
		}
		buf.WriteString(p)
		if len([]rune(buf.String())) >= size {
			flush()
		}
	}
	if s := strings.TrimSpace(buf.String()); s != "" {
		chunks = append(chunks, Chunk{Index: idx, Text: s})
	}

	if len(chunks) > 1 {
		for i := range chunks {
			chunks[i].Index = i
		}
	}
	return chunks
}
