package service

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var errTransport = errors.New("transport failure")

// hashEmbed maps character trigrams into a fixed number of buckets, so
// texts sharing substrings get similar vectors.
func hashEmbed(text string, dim int) []float32 {
	vector := make([]float32, dim)
	runes := []rune(strings.ToLower(text))
	if len(runes) < 3 {
		runes = append(runes, []rune("   ")...)
	}
	for i := 0; i+3 <= len(runes); i++ {
		h := fnv.New32a()
		h.Write([]byte(string(runes[i : i+3])))
		vector[h.Sum32()%uint32(dim)]++
	}
	var norm float64
	for _, v := range vector {
		norm += float64(v * v)
	}
	norm = math.Sqrt(norm)
	for i := range vector {
		vector[i] = float32(float64(vector[i]) / norm)
	}
	return vector
}

// scriptedProvider embeds with hashEmbed and fails texts listed in
// failures: a negative count fails forever, n fails the first n calls.
type scriptedProvider struct {
	dim      int
	delay    time.Duration
	failures map[string]int

	mu    sync.Mutex
	calls map[string]int
	texts []string

	inFlight    int32
	maxInFlight int32
}

func newScriptedProvider(dim int) *scriptedProvider {
	return &scriptedProvider{
		dim:      dim,
		failures: make(map[string]int),
		calls:    make(map[string]int),
	}
}

func (p *scriptedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	current := atomic.AddInt32(&p.inFlight, 1)
	defer atomic.AddInt32(&p.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&p.maxInFlight)
		if current <= seen || atomic.CompareAndSwapInt32(&p.maxInFlight, seen, current) {
			break
		}
	}

	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.delay):
		}
	}

	p.mu.Lock()
	p.calls[text]++
	p.texts = append(p.texts, text)
	n := p.calls[text]
	rule, scripted := p.failures[text]
	p.mu.Unlock()

	if scripted && (rule < 0 || n <= rule) {
		return nil, errTransport
	}
	return hashEmbed(text, p.dim), nil
}

func (p *scriptedProvider) callCount(text string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[text]
}

func (p *scriptedProvider) totalCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.texts)
}
