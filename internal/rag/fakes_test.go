package rag

import (
	"context"
	"errors"
	"hash/fnv"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"document-rag/internal/parser"
)

// pagedExtractor serves fixed page texts the way a real extractor would.
type pagedExtractor struct {
	pages []string
	err   error
	// failPage makes the single-page extraction of that page fail.
	failPage int

	mu    sync.Mutex
	calls [][2]int
}

func (p *pagedExtractor) Extract(_ context.Context, _ []byte, pageMin, pageMax int) (parser.Extraction, error) {
	p.mu.Lock()
	p.calls = append(p.calls, [2]int{pageMin, pageMax})
	p.mu.Unlock()

	if p.err != nil {
		return parser.Extraction{}, p.err
	}
	if p.failPage > 0 && pageMin == p.failPage && pageMax == p.failPage {
		return parser.Extraction{}, &parser.ExtractionError{Format: "fake", Page: p.failPage, Cause: errors.New("corrupt page")}
	}
	out := parser.Extraction{PageCount: len(p.pages)}
	if pageMax == parser.AllPages || pageMax > len(p.pages) {
		pageMax = len(p.pages)
	}
	if pageMin < 1 {
		pageMin = 1
	}
	if pageMin <= pageMax {
		out.Text = strings.Join(p.pages[pageMin-1:pageMax], "\n")
	}
	return out, nil
}

// hashEmbedder returns a deterministic 8-dimensional vector per text and can be
// told to fail on its nth call.
type hashEmbedder struct {
	failOn int
	jitter bool

	mu    sync.Mutex
	calls int
	texts []string
}

var errProvider = errors.New("provider unavailable")

func (h *hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h.mu.Lock()
	h.calls++
	n := h.calls
	h.texts = append(h.texts, text)
	h.mu.Unlock()

	if h.jitter {
		select {
		case <-time.After(time.Duration(rand.IntN(3)) * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if h.failOn > 0 && n == h.failOn {
		return nil, errProvider
	}
	return vectorFor(text), nil
}

func (h *hashEmbedder) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func vectorFor(text string) []float32 {
	f := fnv.New64a()
	_, _ = f.Write([]byte(text))
	sum := f.Sum64()
	vec := make([]float32, 8)
	for i := range vec {
		vec[i] = float32((sum>>(i*8))&0xff) + 1
	}
	return vec
}

// scriptedGenerator records prompts and returns a canned reply.
type scriptedGenerator struct {
	reply   string
	err     error
	prompts []string
}

func (g *scriptedGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

// scriptedEmbedder delays or fails specific texts. Delays honour ctx so
// cancelled calls return early.
type scriptedEmbedder struct {
	delay map[string]time.Duration
	fail  map[string]time.Duration
}

func (s *scriptedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	wait, failing := s.fail[text]
	if !failing {
		wait = s.delay[text]
	}
	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failing {
		return nil, errProvider
	}
	return vectorFor(text), nil
}
