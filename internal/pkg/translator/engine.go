package translator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/transponster/bot/internal/pkg/cmdapp"
	"github.com/transponster/bot/internal/pkg/metrics"
	"github.com/transponster/bot/internal/pkg/utils"
)

// Backend issues one structured request returning a string array of
// the requested schema field
type Backend interface {
	CompleteStrings(ctx context.Context, systemPrompt, userContent, field string, n int) ([]string, error)
}

// Defaults of the batch transform
const (
	DefaultChunkSize   = 20
	DefaultConcurrency = 8
	DefaultTimeout     = 30 * time.Second
)

// Engine is a validated batch transform over an ordered line sequence.
// It guarantees len(output) == len(input) with element order preserved:
// a chunk whose response has the wrong length is retried once whole, then
// transformed line by line - a single line request cannot mismatch.
type Engine struct {
	cli         Backend
	system      string
	field       string
	chunkSize   int
	concurrency int64
	timeout     time.Duration
	fallbacks   prometheus.Counter
}

func newEngine(cli Backend, system, field string) (*Engine, error) {
	if cli == nil {
		return nil, errors.New("No llm backend")
	}
	res := &Engine{cli: cli, system: system, field: field,
		chunkSize: DefaultChunkSize, concurrency: DefaultConcurrency, timeout: DefaultTimeout,
		fallbacks: metrics.NewFallbackCounter()}
	metrics.Register(res.fallbacks)
	if v := cmdapp.Config.GetInt("translator.chunk"); v > 0 {
		res.chunkSize = v
	}
	if v := cmdapp.Config.GetInt64("translator.concurrency"); v > 0 {
		res.concurrency = v
	}
	if v := cmdapp.Config.GetDuration("translator.timeout"); v > 0 {
		res.timeout = v
	}
	return res, nil
}

// NewTranslateEngine builds the translation instantiation of the engine
func NewTranslateEngine(cli Backend, targetLang string) (*Engine, error) {
	system := "You are a professional translator. Translate every element of the " +
		"given JSON array into " + targetLang + ". Return a JSON object with a " +
		"\"translated\" array holding exactly one translation per input element, " +
		"in the same order. Never merge or split lines."
	return newEngine(cli, system, "translated")
}

// NewCleanupEngine builds the filler word removal instantiation of the engine
func NewCleanupEngine(cli Backend) (*Engine, error) {
	system := "You are an editor. Remove filler words, false starts and " +
		"disfluencies from every element of the given JSON array, keeping the " +
		"meaning and language unchanged. Return a JSON object with a \"cleaned\" " +
		"array holding exactly one cleaned string per input element, in the same " +
		"order. Never merge or split lines."
	return newEngine(cli, system, "cleaned")
}

// Transform maps lines to transformed lines, preserving count and order
func (e *Engine) Transform(ctx context.Context, lines []string) ([]string, error) {
	if len(lines) == 0 {
		return []string{}, nil
	}

	chunks := chunk(lines, e.chunkSize)
	results := make([][]string, len(chunks))
	sem := semaphore.NewWeighted(e.concurrency)

	g, gCtx := errgroup.WithContext(ctx)
	for i, ch := range chunks {
		i, ch := i, ch
		g.Go(func() error {
			if err := sem.Acquire(gCtx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			res, err := e.transformChunk(gCtx, ch)
			if err != nil {
				return errors.Wrapf(err, "chunk %d failed", i+1)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := make([]string, 0, len(lines))
	for _, r := range results {
		res = append(res, r...)
	}
	return res, nil
}

// transformChunk tries the whole chunk twice, then falls back to single lines
func (e *Engine) transformChunk(ctx context.Context, lines []string) ([]string, error) {
	for attempt := 1; attempt <= 2; attempt++ {
		res, err := e.request(ctx, lines)
		if err == nil {
			return res, nil
		}
		// a rejected request stays rejected, retrying can't help
		if errors.Is(err, utils.ErrWrongHTTPCall) {
			return nil, err
		}
		cmdapp.Log.Warnf("Chunk transform attempt %d failed: %v", attempt, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	cmdapp.Log.Warnf("Falling back to line by line transform of %d lines", len(lines))
	if e.fallbacks != nil {
		e.fallbacks.Inc()
	}
	res := make([]string, 0, len(lines))
	for _, line := range lines {
		lr, err := e.request(ctx, []string{line})
		if err != nil {
			return nil, err
		}
		res = append(res, lr[0])
	}
	return res, nil
}

func (e *Engine) request(ctx context.Context, lines []string) ([]string, error) {
	data, err := json.Marshal(lines)
	if err != nil {
		return nil, errors.Wrap(err, "Can't marshal lines")
	}
	rCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	res, err := e.cli.CompleteStrings(rCtx, e.system, string(data), e.field, len(lines))
	if err != nil {
		return nil, err
	}
	if len(res) != len(lines) {
		return nil, errors.Errorf("got %d lines, wanted %d", len(res), len(lines))
	}
	return res, nil
}

func chunk(lines []string, size int) [][]string {
	var res [][]string
	for i := 0; i < len(lines); i += size {
		end := i + size
		if end > len(lines) {
			end = len(lines)
		}
		res = append(res, lines[i:end])
	}
	return res
}
