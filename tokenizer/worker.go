package tokenizer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tokengauge/tokengauge/tokens"
)

// Encoder counts tokens with a real tokenizer. Implementations wrap an
// external tokenization library initialized from a downloaded asset.
type Encoder interface {
	Count(text string) (int, error)
}

// EncoderFactory builds an Encoder from raw tokenizer asset bytes.
type EncoderFactory func(asset []byte) (Encoder, error)

// Result is the outcome of one count job.
type Result struct {
	ID        string
	Model     string
	Tokens    int
	Limit     int
	Estimated bool
}

// Within reports whether the counted text fits the model's limit.
func (r Result) Within() bool { return r.Tokens <= r.Limit }

type job struct {
	id    string
	model string
	text  string
	reply chan reply
}

type reply struct {
	result Result
	err    error
}

// Worker counts tokens in the background, one job at a time, loading each
// model's tokenizer asset lazily through the cache on first use. When a
// model has no asset, or no EncoderFactory is wired, the worker falls back
// to the estimating counter with the model's chars-per-token ratio.
type Worker struct {
	registry *Registry
	loader   *Loader
	factory  EncoderFactory
	log      zerolog.Logger

	jobs     chan job
	encoders map[string]Encoder // keyed by asset URL, worker goroutine only
}

// NewWorker wires a worker. factory may be nil to always estimate.
func NewWorker(registry *Registry, loader *Loader, factory EncoderFactory, log zerolog.Logger) *Worker {
	return &Worker{
		registry: registry,
		loader:   loader,
		factory:  factory,
		log:      log,
		jobs:     make(chan job),
		encoders: make(map[string]Encoder),
	}
}

// Start runs the worker loop until ctx is done.
func (w *Worker) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case j := <-w.jobs:
				result, err := w.count(ctx, j)
				j.reply <- reply{result: result, err: err}
			}
		}
	}()
}

// Count submits text for counting against model's limit and waits for the
// result.
func (w *Worker) Count(ctx context.Context, model, text string) (Result, error) {
	j := job{
		id:    uuid.NewString(),
		model: model,
		text:  text,
		reply: make(chan reply, 1),
	}
	select {
	case w.jobs <- j:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	select {
	case r := <-j.reply:
		return r.result, r.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (w *Worker) count(ctx context.Context, j job) (Result, error) {
	model, known := w.registry.Lookup(j.model)
	if !known {
		w.log.Debug().Str("job", j.id).Str("model", j.model).Msg("unknown model, using default limits")
	}
	result := Result{ID: j.id, Model: j.model, Limit: model.Limit}

	enc, err := w.encoder(ctx, model)
	if err != nil {
		return Result{}, err
	}
	if enc != nil {
		n, err := enc.Count(j.text)
		if err != nil {
			return Result{}, fmt.Errorf("count with %s tokenizer: %w", model.Name, err)
		}
		result.Tokens = n
		w.log.Debug().Str("job", j.id).Str("model", j.model).Int("tokens", n).Msg("counted")
		return result, nil
	}

	result.Tokens = tokens.NewEstimatingCounter(model.CharsPerToken).Count(j.text)
	result.Estimated = true
	w.log.Debug().Str("job", j.id).Str("model", j.model).Int("tokens", result.Tokens).Msg("estimated")
	return result, nil
}

// encoder returns the cached encoder for the model's asset, loading it on
// first use. Returns nil when the model has no asset or no factory is wired.
func (w *Worker) encoder(ctx context.Context, model Model) (Encoder, error) {
	if w.factory == nil || model.AssetURL == "" {
		return nil, nil
	}
	if enc, ok := w.encoders[model.AssetURL]; ok {
		return enc, nil
	}
	asset, err := w.loader.Asset(ctx, model.AssetURL)
	if err != nil {
		return nil, err
	}
	enc, err := w.factory(asset)
	if err != nil {
		return nil, fmt.Errorf("init %s tokenizer: %w", model.Name, err)
	}
	w.encoders[model.AssetURL] = enc
	return enc, nil
}
