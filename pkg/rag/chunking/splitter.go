package chunking

import (
	"context"
	"regexp"
	"strconv"
	"unicode/utf8"
)

// Chunk is one ordered slice of a document. StartChar and EndChar are rune
// offsets into the converted markdown; EndChar is exclusive.
type Chunk struct {
	Index      int    `json:"index"`
	Content    string `json:"content"`
	PageNumber *int   `json:"pageNumber,omitempty"`
	StartChar  int    `json:"startChar"`
	EndChar    int    `json:"endChar"`
}

type Options struct {
	ChunkSize int
	Overlap   int
}

func DefaultOptions() Options {
	return Options{ChunkSize: 1000, Overlap: 200}
}

// pageMarker matches the markers the converter injects into PDF markdown.
var pageMarker = regexp.MustCompile(`<!--\s*Page\s+(\d+)\s*-->`)

type marker struct {
	pos  int
	page int
}

// Split cuts text into chunks of at most ChunkSize runes, each starting
// ChunkSize-Overlap runes after the previous one. The final chunk always ends
// at the end of the text. Empty text yields no chunks.
func Split(text string, opts Options) []Chunk {
	var chunks []Chunk
	walk(context.Background(), text, opts, func(c Chunk) bool {
		chunks = append(chunks, c)
		return true
	})
	return chunks
}

// Stream produces the same chunks as Split on an unbuffered channel, so the
// consumer decides the pace. The channel is closed when the text is
// exhausted or ctx is done.
func Stream(ctx context.Context, text string, opts Options) <-chan Chunk {
	out := make(chan Chunk)
	go func() {
		defer close(out)
		walk(ctx, text, opts, func(c Chunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return out
}

// ExpectedCount returns how many chunks Split produces for a text of n runes.
func ExpectedCount(n int, opts Options) int {
	if n == 0 {
		return 0
	}
	size, step := normalize(opts)
	if n <= size {
		return 1
	}
	return (n-size+step-1)/step + 1
}

func normalize(opts Options) (size, step int) {
	size = opts.ChunkSize
	if size <= 0 {
		size = DefaultOptions().ChunkSize
	}
	step = size - opts.Overlap
	if step <= 0 {
		step = size // fallback if overlap >= chunkSize
	}
	return size, step
}

func walk(ctx context.Context, text string, opts Options, yield func(Chunk) bool) {
	if text == "" {
		return
	}

	runes := []rune(text)
	totalLen := len(runes)
	size, step := normalize(opts)
	markers := findMarkers(text)

	index := 0
	for i := 0; i < totalLen; i += step {
		if ctx.Err() != nil {
			return
		}

		end := i + size
		if end > totalLen {
			end = totalLen
		}

		c := Chunk{
			Index:      index,
			Content:    string(runes[i:end]),
			PageNumber: pageAt(markers, i, end),
			StartChar:  i,
			EndChar:    end,
		}
		if !yield(c) {
			return
		}
		index++

		if end == totalLen {
			break
		}
	}
}

func findMarkers(text string) []marker {
	locs := pageMarker.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}

	markers := make([]marker, 0, len(locs))
	for _, loc := range locs {
		page, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		markers = append(markers, marker{
			pos:  utf8.RuneCountInString(text[:loc[0]]),
			page: page,
		})
	}
	return markers
}

// pageAt returns the page in effect at start, or the first page that begins
// inside [start, end) when no marker precedes the chunk.
func pageAt(markers []marker, start, end int) *int {
	var current *int
	for i := range markers {
		m := markers[i]
		if m.pos <= start {
			page := m.page
			current = &page
			continue
		}
		if current == nil && m.pos < end {
			page := m.page
			return &page
		}
		break
	}
	return current
}
