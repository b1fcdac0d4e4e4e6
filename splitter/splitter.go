package splitter

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Strategy names a splitting algorithm.
type Strategy string

const (
	StrategyAuto  Strategy = "auto"
	StrategyToken Strategy = "token"
)

// Splitter cuts text into chunks.
type Splitter interface {
	Split(ctx context.Context, text string) ([]string, error)
}

// TokenCounter measures text length in model tokens.
type TokenCounter interface {
	CountTokens(text string) int
}

// EstimateCounter approximates tokens: one per CJK rune, one per four other
// non-space runes.
type EstimateCounter struct{}

// CountTokens implements TokenCounter.
func (EstimateCounter) CountTokens(text string) int {
	cjk, other := 0, 0
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r):
			cjk++
		case !unicode.IsSpace(r):
			other++
		}
	}
	return cjk + (other+3)/4
}

// Options configures a splitter.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
	// Model is the embedding model whose tokenizer the token strategy counts
	// with when Counter is nil. Models without a known tokenizer fall back to
	// EstimateCounter.
	Model   string
	Counter TokenCounter
}

// DefaultSeparators are tried in order, coarsest first.
var DefaultSeparators = []string{"\n\n", "\n", "。", "！", "？", ". ", "! ", "? ", "；", "; ", "，", ", ", " ", ""}

// New returns the splitter for strategy. An empty strategy means auto.
func New(strategy Strategy, optFns ...func(o *Options)) (Splitter, error) {
	opts := Options{
		ChunkSize:    1000,
		ChunkOverlap: 100,
		Separators:   DefaultSeparators,
	}
	switch strategy {
	case StrategyToken:
		opts.ChunkSize = 500
		opts.ChunkOverlap = 50
	case StrategyAuto, "":
	default:
		return nil, fmt.Errorf("unknown split strategy %q", strategy)
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive")
	}
	if opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = 0
	}

	if opts.Counter == nil {
		opts.Counter = EstimateCounter{}
		if opts.Model != "" {
			if c, err := CounterForModel(opts.Model); err == nil {
				opts.Counter = c
			}
		}
	}

	length := func(s string) int { return utf8.RuneCountInString(s) }
	if strategy == StrategyToken {
		length = opts.Counter.CountTokens
	}
	return &recursive{opts: opts, length: length}, nil
}

// recursive splits on the coarsest separator that yields pieces within the
// chunk size, recursing into pieces that are still too large, then merges
// adjacent pieces back up to the chunk size.
type recursive struct {
	opts   Options
	length func(string) int
}

func (r *recursive) Split(ctx context.Context, text string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return []string{}, nil
	}
	return r.split(text, r.opts.Separators), nil
}

func (r *recursive) split(text string, seps []string) []string {
	sep, rest := "", []string(nil)
	for i, s := range seps {
		if s == "" || strings.Contains(text, s) {
			sep, rest = s, seps[i+1:]
			break
		}
	}

	var pieces []string
	if sep == "" {
		pieces = splitRunes(text)
	} else {
		pieces = strings.SplitAfter(text, sep)
	}

	var (
		out  []string
		good []string
	)
	for _, p := range pieces {
		if p == "" {
			continue
		}
		if r.length(p) <= r.opts.ChunkSize {
			good = append(good, p)
			continue
		}
		if len(good) > 0 {
			out = append(out, r.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			out = append(out, strings.TrimSpace(p))
			continue
		}
		out = append(out, r.split(p, rest)...)
	}
	if len(good) > 0 {
		out = append(out, r.merge(good)...)
	}
	return out
}

func (r *recursive) merge(pieces []string) []string {
	var (
		out     []string
		current []string
		total   int
	)
	flush := func() {
		if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
			out = append(out, chunk)
		}
	}
	for _, p := range pieces {
		n := r.length(p)
		if total+n > r.opts.ChunkSize && len(current) > 0 {
			flush()
			// keep a tail within the overlap budget
			for total > r.opts.ChunkOverlap && len(current) > 0 {
				total -= r.length(current[0])
				current = current[1:]
			}
			for len(current) > 0 && total+n > r.opts.ChunkSize {
				total -= r.length(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
	}
	if len(current) > 0 {
		flush()
	}
	return out
}

func splitRunes(s string) []string {
	out := make([]string, 0, utf8.RuneCountInString(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
