// Package chunker turns raw document bytes into an ordered, lazy sequence
// of text fragments prepared for embedding.
//
// Splitting happens in two stages: a structure-aware parse extracts
// elements (paragraphs, headings, tables) with their metadata, then each
// element is cut into fixed-size overlapping windows. When structural
// parsing yields nothing, a plain per-page text extraction is used as a
// fallback.
package chunker

import (
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/tomibot/ragserver/internal/log"
)

// ErrNoExtractableText indicates that neither the structural parse nor the
// plain-text fallback produced any usable text.
var ErrNoExtractableText = errors.New("no extractable text in document")

// Metadata keys attached to every produced chunk.
const (
	MetaChunkIndex     = "chunk_index"
	MetaLength         = "length"
	MetaPageNumber     = "page_number"
	MetaSectionHeaders = "section_headers"
	MetaElementType    = "element_type"
)

// Element type values, mirroring the structural categories of the parser.
const (
	elementTitle     = "Title"
	elementNarrative = "NarrativeText"
	elementListItem  = "ListItem"
	elementTable     = "Table"
	elementPage      = "Page"
)

// Chunk is a bounded fragment of a document's text prepared for embedding.
// Chunks are immutable once produced and are not persisted as entities;
// only their vector and payload survive in the vector index.
type Chunk struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// LengthFunc measures text length for window budgeting.
// The default counts runes.
type LengthFunc func(string) int

func runeCount(s string) int { return utf8.RuneCountInString(s) }

// Config tunes the chunker. Zero size and overlap fall back to a window of
// 1000 with an overlap of 120.
type Config struct {
	ChunkSize      int
	ChunkOverlap   int
	PreserveTables bool
	Length         LengthFunc
}

// Chunker splits documents into overlapping windows.
// Safe for concurrent use; Split does not mutate Chunker state.
type Chunker struct {
	size           int
	overlap        int
	preserveTables bool
	length         LengthFunc
	logger         log.Logger
}

// New creates a Chunker. logger may be nil.
func New(cfg Config, logger log.Logger) *Chunker {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = 120
	}
	if cfg.Length == nil {
		cfg.Length = runeCount
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Chunker{
		size:           cfg.ChunkSize,
		overlap:        cfg.ChunkOverlap,
		preserveTables: cfg.PreserveTables,
		length:         cfg.Length,
		logger:         logger,
	}
}

// Split parses data and returns a finite, single-pass sequence of chunks.
// base metadata is merged into every chunk before windowing. Chunk
// boundaries are deterministic for identical input; ids are freshly
// generated each run.
//
// Returns ErrNoExtractableText when no usable text can be extracted by any
// strategy, or a parse error when the structural parser fails outright.
func (c *Chunker) Split(data []byte, fileName string, base map[string]string) (iter.Seq[Chunk], error) {
	elements, err := parseElements(data, fileName)
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", fileName, err)
	}
	if len(elements) == 0 {
		// Structural parse found nothing; fall back to plain page text.
		elements = plainElements(string(data))
	}
	if len(elements) == 0 {
		return nil, fmt.Errorf("%q: %w", fileName, ErrNoExtractableText)
	}

	c.logger.Debug("document parsed", "file_name", fileName, "elements", len(elements))

	split := &splitter{size: c.size, overlap: c.overlap, length: c.length}

	return func(yield func(Chunk) bool) {
		chunkIndex := 0
		for _, el := range elements {
			pieces := c.window(split, el)
			for _, piece := range pieces {
				piece = strings.TrimSpace(piece)
				if piece == "" {
					continue
				}
				meta := make(map[string]string, len(base)+len(el.meta)+2)
				for k, v := range base {
					meta[k] = v
				}
				for k, v := range el.meta {
					meta[k] = v
				}
				meta[MetaChunkIndex] = strconv.Itoa(chunkIndex)
				meta[MetaLength] = strconv.Itoa(runeCount(piece))
				chunkIndex++

				if !yield(Chunk{
					ID:       uuid.NewString(),
					Content:  piece,
					Metadata: meta,
				}) {
					return
				}
			}
		}
	}, nil
}

// window cuts one element into size-bounded pieces. Tables are kept as a
// single block when table preservation is enabled.
func (c *Chunker) window(split *splitter, el element) []string {
	if el.isTable && c.preserveTables {
		return []string{el.text}
	}
	return split.split(el.text)
}
