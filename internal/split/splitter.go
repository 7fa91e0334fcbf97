// Package split turns Markdown content into ordered chunks.
//
// All strategies are pure and deterministic: the same content and config
// always produce the same chunks, emitted in reading order.
package split

import (
	"strings"

	"github.com/docuforge/kbase/internal/kberrors"
)

// tokensPerChar is the character-to-token estimate used by the token-aware
// strategy.
const tokensPerChar = 4

// Strategy names accepted by New.
const (
	StrategyFixedChar         = "fixed-char"
	StrategyRecursiveSep      = "recursive-separator"
	StrategyTokenAware        = "token-aware"
	StrategySemanticParagraph = "semantic-paragraph"
)

// Config configures a splitter.
type Config struct {
	Strategy string
	// ChunkSize is the target chunk size: characters for fixed-char,
	// recursive-separator, and semantic-paragraph, tokens for token-aware.
	ChunkSize int
	// OverlapPercent is the overlap between adjacent chunks, 0-90.
	OverlapPercent int
	// Delimiters is the ordered separator list for recursive-separator.
	Delimiters []string
}

// Splitter splits content into chunk texts.
type Splitter interface {
	Split(content string) []string
}

// New returns the splitter for cfg.Strategy.
func New(cfg Config) (Splitter, error) {
	if cfg.ChunkSize <= 0 {
		return nil, kberrors.Validation("chunk_size must be positive, got %d", cfg.ChunkSize)
	}
	if cfg.OverlapPercent < 0 || cfg.OverlapPercent > 90 {
		return nil, kberrors.Validation("overlap_percent must be in [0,90], got %d", cfg.OverlapPercent)
	}

	switch cfg.Strategy {
	case StrategyFixedChar:
		return &fixedCharSplitter{cfg: cfg}, nil
	case StrategyRecursiveSep:
		delims := cfg.Delimiters
		if len(delims) == 0 {
			delims = []string{"\n\n", "\n", ". ", " "}
		}
		return &recursiveSplitter{cfg: cfg, delimiters: delims}, nil
	case StrategyTokenAware:
		return &tokenAwareSplitter{cfg: cfg}, nil
	case StrategySemanticParagraph:
		return &paragraphSplitter{cfg: cfg}, nil
	default:
		return nil, kberrors.Validation("unknown split strategy %q", cfg.Strategy)
	}
}

// overlapBudget converts the percent overlap to an absolute budget in the
// strategy's size unit. Capped at half the chunk size so chunks stay within
// 1.5x the target.
func (c Config) overlapBudget() int {
	o := c.ChunkSize * c.OverlapPercent / 100
	if o > c.ChunkSize/2 {
		o = c.ChunkSize / 2
	}
	return o
}

// normalizeWhitespace collapses all whitespace runs to single spaces.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// fixedCharSplitter slides a fixed-size window over whitespace-normalized
// text with backward overlap.
type fixedCharSplitter struct {
	cfg Config
}

func (s *fixedCharSplitter) Split(content string) []string {
	cleaned := []rune(normalizeWhitespace(content))
	if len(cleaned) == 0 {
		return nil
	}

	overlap := s.cfg.overlapBudget()
	var chunks []string
	start := 0
	for start < len(cleaned) {
		end := start + s.cfg.ChunkSize
		if end > len(cleaned) {
			end = len(cleaned)
		}
		chunk := strings.TrimSpace(string(cleaned[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= len(cleaned) {
			break
		}
		start = end - overlap
		if start < 0 {
			start = 0
		}
	}
	return chunks
}

// recursiveSplitter splits on the first delimiter present, recursing with
// the remaining delimiters for oversize pieces, then reassembles pieces
// into chunks near the target size.
type recursiveSplitter struct {
	cfg        Config
	delimiters []string
}

func (s *recursiveSplitter) Split(content string) []string {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	atoms := s.decompose(content, s.delimiters)
	return assemble(atoms, "", runeLen, s.cfg.ChunkSize, s.cfg.overlapBudget())
}

// decompose breaks text into pieces no larger than ChunkSize.
// Delimiters are kept attached to the preceding piece so reassembly
// reproduces the original text.
func (s *recursiveSplitter) decompose(text string, delims []string) []string {
	if runeLen(text) <= s.cfg.ChunkSize {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}
	if len(delims) == 0 {
		return hardSplit(text, s.cfg.ChunkSize)
	}

	sep := delims[0]
	rest := delims[1:]
	parts := strings.SplitAfter(text, sep)
	if len(parts) == 1 {
		return s.decompose(text, rest)
	}

	var atoms []string
	for _, part := range parts {
		atoms = append(atoms, s.decompose(part, rest)...)
	}
	return atoms
}

// tokenAwareSplitter accumulates whitespace-delimited words under a token
// budget, estimating tokens from character counts.
type tokenAwareSplitter struct {
	cfg Config
}

func (s *tokenAwareSplitter) Split(content string) []string {
	words := strings.Fields(content)
	if len(words) == 0 {
		return nil
	}
	return assemble(words, " ", tokenLen, s.cfg.ChunkSize, s.cfg.overlapBudget())
}

// paragraphSplitter treats blank-line paragraphs as the atomic unit,
// packing whole paragraphs into chunks. Oversize paragraphs fall back to
// fixed windows.
type paragraphSplitter struct {
	cfg Config
}

func (s *paragraphSplitter) Split(content string) []string {
	var atoms []string
	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if runeLen(para) > s.cfg.ChunkSize {
			atoms = append(atoms, hardSplit(para, s.cfg.ChunkSize)...)
			continue
		}
		atoms = append(atoms, para)
	}
	return assemble(atoms, "\n\n", runeLen, s.cfg.ChunkSize, s.cfg.overlapBudget())
}

// hardSplit cuts text into fixed rune windows without overlap.
func hardSplit(text string, size int) []string {
	runes := []rune(text)
	var out []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

func runeLen(s string) int {
	return len([]rune(s))
}

func tokenLen(s string) int {
	n := len(s) / tokensPerChar
	if n == 0 && s != "" {
		n = 1
	}
	return n
}

// assemble greedily packs atoms into chunks of at most size (by sizeFn),
// seeding each chunk after the first with trailing atoms of the previous
// chunk up to the overlap budget. Every chunk contains at least one fresh
// atom, so the sequence always advances.
func assemble(atoms []string, joiner string, sizeFn func(string) int, size, overlap int) []string {
	if len(atoms) == 0 {
		return nil
	}

	var chunks []string
	var current []string
	currentSize := 0
	fresh := 0

	flush := func() {
		if fresh == 0 {
			return
		}
		chunk := strings.TrimSpace(strings.Join(current, joiner))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		// Seed the next chunk with trailing atoms within the overlap budget.
		var seed []string
		seedSize := 0
		for i := len(current) - 1; i >= 0; i-- {
			n := sizeFn(current[i])
			if seedSize+n > overlap {
				break
			}
			seed = append([]string{current[i]}, seed...)
			seedSize += n
		}
		current = seed
		currentSize = seedSize
		fresh = 0
	}

	for _, atom := range atoms {
		n := sizeFn(atom)
		if fresh > 0 && currentSize+n > size {
			flush()
		}
		current = append(current, atom)
		currentSize += n
		fresh++
	}
	flush()

	return chunks
}
