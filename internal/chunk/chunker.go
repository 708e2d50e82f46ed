package chunk

import (
	"regexp"
	"strings"
)

// paragraphBoundary splits on one or more blank lines.
var paragraphBoundary = regexp.MustCompile(`\n[ \t]*\n+`)

// sentenceBoundary splits a paragraph into sentences on common Latin and
// CJK terminators, keeping the terminator with the preceding sentence.
var sentenceBoundary = regexp.MustCompile(`([.!?。！？]+|\n)`)

// TextChunker implements Chunker over arbitrary plain text using the
// fixed/paragraph/semantic strategies from spec §4.2. The boundary
// detection + greedy-merge-with-token-budget + overflow-split shape is
// the same one the teacher's markdown chunker uses for header/
// paragraph boundaries, generalized here to plain blank-line and
// sentence boundaries instead of markdown structure.
type TextChunker struct{}

// NewTextChunker constructs a TextChunker.
func NewTextChunker() *TextChunker {
	return &TextChunker{}
}

// Chunk splits text per opts.Strategy, falling back to paragraph when
// unset.
func (c *TextChunker) Chunk(text, docID string, meta Meta, opts Options) []Chunk {
	opts = normalizeOptions(opts)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var spans []span
	switch opts.Strategy {
	case StrategyFixed:
		spans = chunkFixed(text, opts.MaxChunkSize, opts.Overlap)
	case StrategySemantic:
		spans = chunkSemantic(text, opts.MaxChunkSize)
	default:
		spans = chunkParagraph(text, opts.MaxChunkSize, opts.Overlap)
	}

	chunks := make([]Chunk, 0, len(spans))
	for i, sp := range spans {
		chunks = append(chunks, Chunk{
			DocID:       docID,
			ChunkIndex:  i,
			Content:     sp.text,
			StartOffset: sp.start,
			EndOffset:   sp.end,
			Filename:    meta.Filename,
			HostID:      meta.HostID,
			Tags:        meta.Tags,
		})
	}
	return chunks
}

// span is an offset-tagged slice of the source text, measured in runes
// so that a window boundary never lands mid-codepoint.
type span struct {
	text       string
	start, end int
}

// chunkFixed slides a maxChunkSize-rune window with overlap runes of
// back-overlap between consecutive windows.
func chunkFixed(text string, maxChunkSize, overlap int) []span {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}
	if overlap >= maxChunkSize {
		overlap = maxChunkSize / 2
	}

	var spans []span
	start := 0
	for start < n {
		end := start + maxChunkSize
		if end > n {
			end = n
		}
		spans = append(spans, span{
			text:  string(runes[start:end]),
			start: start,
			end:   end,
		})
		if end == n {
			break
		}
		start = end - overlap
		if start < 0 {
			start = 0
		}
	}
	return spans
}

// chunkParagraph splits on blank-line boundaries, then greedily merges
// adjacent paragraphs until the next addition would exceed
// maxChunkSize. A single paragraph larger than the budget falls back to
// chunkFixed on itself.
func chunkParagraph(text string, maxChunkSize, overlap int) []span {
	paras := splitParagraphs(text)
	if len(paras) == 0 {
		return nil
	}
	return mergeGreedy(paras, maxChunkSize, overlap)
}

// chunkSemantic chunks paragraph-first, then further splits any
// paragraph (or merged group) still over budget on sentence
// boundaries, merging sentences greedily within that budget.
func chunkSemantic(text string, maxChunkSize int) []span {
	paras := splitParagraphs(text)
	if len(paras) == 0 {
		return nil
	}

	var units []span
	for _, p := range paras {
		if runeLen(p.text) <= maxChunkSize {
			units = append(units, p)
			continue
		}
		units = append(units, splitSentences(p, maxChunkSize)...)
	}
	return mergeGreedy(units, maxChunkSize, 0)
}

// splitParagraphs breaks text on blank lines, recording each
// paragraph's rune offsets in the original text.
func splitParagraphs(text string) []span {
	runes := []rune(text)
	locs := paragraphBoundary.FindAllStringIndex(text, -1)

	byteToRune := byteOffsetIndex(text)

	var spans []span
	prevByte := 0
	for _, loc := range locs {
		segment := text[prevByte:loc[0]]
		if strings.TrimSpace(segment) != "" {
			spans = append(spans, span{
				text:  strings.TrimSpace(segment),
				start: byteToRune[prevByte],
				end:   byteToRune[loc[0]],
			})
		}
		prevByte = loc[1]
	}
	tail := text[prevByte:]
	if strings.TrimSpace(tail) != "" {
		spans = append(spans, span{
			text:  strings.TrimSpace(tail),
			start: byteToRune[prevByte],
			end:   len(runes),
		})
	}
	if len(spans) == 0 && strings.TrimSpace(text) != "" {
		spans = append(spans, span{text: strings.TrimSpace(text), start: 0, end: len(runes)})
	}
	return spans
}

// splitSentences further splits a single paragraph span on sentence
// terminators, greedily merging sentences up to maxChunkSize so that a
// dense paragraph of short sentences doesn't explode into one chunk per
// sentence.
func splitSentences(p span, maxChunkSize int) []span {
	parts := sentenceBoundary.Split(p.text, -1)
	terms := sentenceBoundary.FindAllString(p.text, -1)

	var sentences []string
	for i, part := range parts {
		s := part
		if i < len(terms) {
			s += terms[i]
		}
		if strings.TrimSpace(s) != "" {
			sentences = append(sentences, strings.TrimSpace(s))
		}
	}
	if len(sentences) == 0 {
		return []span{p}
	}

	var spans []span
	offset := p.start
	for _, s := range sentences {
		l := runeLen(s)
		spans = append(spans, span{text: s, start: offset, end: offset + l})
		offset += l
	}
	return spans
}

// mergeGreedy merges consecutive units until the next addition would
// exceed maxChunkSize, starting a new chunk at that point. A single
// unit already over budget is chunked on its own via chunkFixed and its
// pieces are inserted as-is (spec §4.2: "Single paragraphs larger than
// the budget fall back to fixed on themselves").
func mergeGreedy(units []span, maxChunkSize, overlap int) []span {
	var out []span
	var cur strings.Builder
	curStart, curEnd := -1, -1

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		out = append(out, span{text: cur.String(), start: curStart, end: curEnd})
		cur.Reset()
		curStart, curEnd = -1, -1
	}

	for _, u := range units {
		if runeLen(u.text) > maxChunkSize {
			flush()
			out = append(out, chunkFixed(u.text, maxChunkSize, overlap)...)
			continue
		}
		candidateLen := cur.Len()
		if candidateLen > 0 {
			candidateLen += 2 // paragraph join ("\n\n")
		}
		candidateLen += runeLen(u.text)

		if cur.Len() > 0 && candidateLen > maxChunkSize {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		} else {
			curStart = u.start
		}
		cur.WriteString(u.text)
		curEnd = u.end
	}
	flush()
	return out
}

func runeLen(s string) int {
	return len([]rune(s))
}

// byteOffsetIndex maps each byte offset that begins a rune to that
// rune's index, so regexp byte offsets (which FindAllStringIndex
// returns) can be translated into rune offsets for Chunk.StartOffset/
// EndOffset.
func byteOffsetIndex(s string) map[int]int {
	idx := make(map[int]int, len(s))
	runeIdx := 0
	for byteIdx := range s {
		idx[byteIdx] = runeIdx
		runeIdx++
	}
	idx[len(s)] = runeIdx
	return idx
}

var _ Chunker = (*TextChunker)(nil)
