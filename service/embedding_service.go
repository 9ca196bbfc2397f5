package service

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tieubaoca/docrag/types"
)

// EmbeddingProvider turns one text into one vector.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type EmbeddingConfig struct {
	BatchSize         int
	Workers           int
	MaxAttempts       int
	RetryDelay        time.Duration
	MaxTextChars      int
	DefaultDimension  int
	AllowDegraded     bool
	RequestsPerSecond float64
}

// EmbeddingService adds truncation, retries, bounded concurrency and
// zero-vector fallback on top of an EmbeddingProvider.
type EmbeddingService struct {
	provider EmbeddingProvider
	config   EmbeddingConfig
	limiter  *rate.Limiter
}

func NewEmbeddingService(provider EmbeddingProvider, config EmbeddingConfig) *EmbeddingService {
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}
	if config.Workers <= 0 {
		config.Workers = 3
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.MaxTextChars <= 0 {
		config.MaxTextChars = 25000
	}
	if config.DefaultDimension <= 0 {
		config.DefaultDimension = 768
	}

	s := &EmbeddingService{provider: provider, config: config}
	if config.RequestsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Workers)
	}
	return s
}

// EmbedOne embeds a single text, retrying with linear backoff.
func (s *EmbeddingService) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vector, err := s.embedWithRetry(ctx, s.truncate(text), s.config.MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrEmbedding, err)
	}
	return vector, nil
}

// EmbedMany embeds texts in groups of BatchSize with at most Workers groups
// in flight. The result has one entry per text, in input order. Texts that
// still fail after one more individual attempt get a zero vector and are
// flagged Degraded, unless AllowDegraded is off.
func (s *EmbeddingService) EmbedMany(ctx context.Context, texts []string) ([]types.Embedding, error) {
	results := make([]types.Embedding, len(texts))
	if len(texts) == 0 {
		return results, nil
	}

	failed := make([]bool, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Workers)
	for start := 0; start < len(texts); start += s.config.BatchSize {
		end := min(start+s.config.BatchSize, len(texts))
		g.Go(func() error {
			for i := start; i < end; i++ {
				vector, err := s.embedWithRetry(gctx, s.truncate(texts[i]), s.config.MaxAttempts)
				if err != nil {
					if ctxErr := gctx.Err(); ctxErr != nil {
						return ctxErr
					}
					zap.S().Warnf("Embedding of text %d failed after %d attempts: %v", i, s.config.MaxAttempts, err)
					failed[i] = true
					continue
				}
				results[i].Vector = vector
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrEmbedding, err)
	}

	degraded := 0
	for i := range texts {
		if !failed[i] {
			continue
		}
		vector, err := s.embedWithRetry(ctx, s.truncate(texts[i]), 1)
		if err == nil {
			results[i].Vector = vector
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrEmbedding, ctxErr)
		}
		results[i].Degraded = true
		degraded++
	}

	if degraded == 0 {
		return results, nil
	}
	if !s.config.AllowDegraded {
		return nil, fmt.Errorf("%w: %d of %d texts could not be embedded", types.ErrEmbedding, degraded, len(texts))
	}

	dimension := s.config.DefaultDimension
	for _, r := range results {
		if !r.Degraded {
			dimension = len(r.Vector)
			break
		}
	}
	for i := range results {
		if results[i].Degraded {
			results[i].Vector = make([]float32, dimension)
		}
	}
	zap.S().Warnf("%d of %d texts fell back to zero vectors", degraded, len(texts))
	return results, nil
}

func (s *EmbeddingService) embedWithRetry(ctx context.Context, text string, attempts int) ([]float32, error) {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		vector, err := s.provider.Embed(ctx, text)
		if err == nil {
			return vector, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		zap.S().Debugf("Embedding attempt %d/%d failed: %v", attempt, attempts, err)
		if err := sleepContext(ctx, s.config.RetryDelay*time.Duration(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (s *EmbeddingService) truncate(text string) string {
	if utf8.RuneCountInString(text) <= s.config.MaxTextChars {
		return text
	}
	zap.S().Debugf("Truncating text of %d characters to %d", utf8.RuneCountInString(text), s.config.MaxTextChars)
	return string([]rune(text)[:s.config.MaxTextChars])
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
