// Package gateway is the single entry point for upstream LLM, vision and
// embedding calls.
//
// It composes three orthogonal layers:
//
//  1. acquire-with-upgrade — takes a per-model permit, promoting flash
//     models to their premium sibling under contention, and reports the
//     concrete model the call will run on;
//  2. attempt — one HTTP call plus usage accounting on the concrete model;
//  3. retry — classification, exponential backoff, and a one-shot fallback
//     to the cheaper sibling after repeated failures.
//
// The layers stay separate on purpose; a retry re-enters the acquire
// protocol and may land on a different concrete model than the first try.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vibingu/vibingu/pkg/httpclient"
	"github.com/vibingu/vibingu/pkg/jsonrepair"
	"github.com/vibingu/vibingu/pkg/ledger"
	"github.com/vibingu/vibingu/pkg/llms"
)

// Retry budget: 3 attempts, plus 2 more once the fallback leg engages.
const (
	baseAttemptBudget     = 3
	fallbackAttemptBudget = 5
)

// Provider is the upstream wire client. *llms.Client implements it; tests
// inject fakes.
type Provider interface {
	ChatCompletion(ctx context.Context, req llms.ChatRequest) (*llms.ChatResponse, error)
	StreamChatCompletion(ctx context.Context, req llms.ChatRequest) (<-chan llms.StreamChunk, error)
	Embed(ctx context.Context, model, input string) ([]float32, *llms.Usage, error)
	Configured() bool
}

// UsageRecorder receives one accounting entry per attempt that returned a
// usage block. *ledger.Store implements it.
type UsageRecorder interface {
	RecordBestEffort(ctx context.Context, entry ledger.Entry)
}

var _ Provider = (*llms.Client)(nil)
var _ UsageRecorder = (*ledger.Store)(nil)

// Gateway owns the per-model semaphores and the retry/fallback policy.
type Gateway struct {
	provider Provider
	roster   Roster
	sems     *semaphoreMap
	usage    UsageRecorder

	// sleep is injectable so tests can observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option mutates a Gateway under construction.
type Option func(*Gateway)

// WithConcurrencyLimits overrides entries of the static limit table.
func WithConcurrencyLimits(limits map[string]int64) Option {
	return func(g *Gateway) {
		merged := g.roster.DefaultLimits()
		for model, limit := range limits {
			merged[model] = limit
		}
		g.sems = newSemaphoreMap(merged, 3)
	}
}

// WithSleepFunc replaces the backoff sleeper.
func WithSleepFunc(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Gateway) {
		g.sleep = sleep
	}
}

// New wires a Gateway. usage may be nil (accounting disabled, used in some
// tests); provider must not be.
func New(provider Provider, roster Roster, usage UsageRecorder, opts ...Option) *Gateway {
	g := &Gateway{
		provider: provider,
		roster:   roster,
		sems:     newSemaphoreMap(roster.DefaultLimits(), 3),
		usage:    usage,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Configured reports whether upstream credentials are present.
func (g *Gateway) Configured() bool {
	return g.provider.Configured()
}

// Roster exposes the resolved model roles.
func (g *Gateway) Roster() Roster {
	return g.roster
}

// CallOptions tune a single gateway call.
type CallOptions struct {
	// Model is the concrete requested model. Empty picks the primitive's
	// roster default (text-flash for chat, vision-flash for vision).
	Model string
	// JSON asks the provider for structured output and runs the reply
	// through JSON repair.
	JSON bool
	// TaskTag labels the ledger rows for this call.
	TaskTag string
	// RecordID links ledger rows to a LifeRecord, when known.
	RecordID string
	// NoFallback disables the cheap-model fallback leg.
	NoFallback bool

	MaxTokens   int
	Temperature float64
}

// Result is the outcome of a unary gateway call.
type Result struct {
	// Content is the raw reply text.
	Content string
	// Data is the repaired JSON value; set only when JSON was requested.
	Data any
	// Model is the concrete model that produced the reply, which may
	// differ from the requested one after upgrade or fallback.
	Model string
	Usage *llms.Usage
}

// ChatComplete runs a text completion through the governor.
func (g *Gateway) ChatComplete(ctx context.Context, messages []llms.Message, opts CallOptions) (*Result, error) {
	if opts.Model == "" {
		opts.Model = g.roster.TextFlash
	}
	return g.complete(ctx, messages, opts)
}

// VisionComplete runs a multimodal completion. detail follows the provider
// convention ("low" for cheap classification passes, "auto" otherwise).
func (g *Gateway) VisionComplete(ctx context.Context, prompt, imageBase64, detail string, opts CallOptions) (*Result, error) {
	if opts.Model == "" {
		opts.Model = g.roster.VisionFlash
	}
	messages := []llms.Message{llms.VisionMessage(prompt, imageBase64, detail)}
	return g.complete(ctx, messages, opts)
}

// Embed returns the embedding vector for text. Embedding calls retry but
// never fall back; there is no cheaper embedding tier.
func (g *Gateway) Embed(ctx context.Context, text string, opts CallOptions) ([]float32, error) {
	if opts.Model == "" {
		opts.Model = g.roster.Embedding
	}
	opts.NoFallback = true

	var vec []float32
	_, err := g.withRetries(ctx, opts, func(ctx context.Context, model string) (*llms.Usage, error) {
		v, usage, err := g.provider.Embed(ctx, model, text)
		if err != nil {
			return usage, err
		}
		vec = v
		return usage, nil
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// StreamResult is a token stream plus the concrete model serving it.
type StreamResult struct {
	Model  string
	Chunks <-chan llms.StreamChunk
}

// StreamChatComplete opens a streaming completion. The permit for the
// concrete model is held until the stream's terminal chunk and released on
// every path. Streams are single-attempt: a mid-stream failure surfaces as
// an error chunk, and retrying a half-delivered stream is the caller's
// decision, not the gateway's.
func (g *Gateway) StreamChatComplete(ctx context.Context, messages []llms.Message, opts CallOptions) (*StreamResult, error) {
	if opts.Model == "" {
		opts.Model = g.roster.Smart
	}

	model, err := g.acquireWithUpgrade(ctx, opts.Model)
	if err != nil {
		return nil, err
	}

	req := llms.ChatRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}

	upstream, err := g.provider.StreamChatCompletion(ctx, req)
	if err != nil {
		g.sems.release(model)
		if errors.Is(err, llms.ErrNoAPIKey) {
			return nil, err
		}
		if httpclient.IsRetryable(err) {
			return nil, maxRetries(1, err)
		}
		return nil, unretryable(err)
	}

	out := make(chan llms.StreamChunk, 16)
	go func() {
		defer close(out)
		defer g.sems.release(model)

		var completion string
		for chunk := range upstream {
			if chunk.Type == llms.ChunkText {
				completion += chunk.Text
			}
			if chunk.Type == llms.ChunkDone || chunk.Type == llms.ChunkError {
				g.recordStreamUsage(model, completion, chunk.Usage, opts)
			}
			out <- chunk
		}
	}()

	return &StreamResult{Model: model, Chunks: out}, nil
}

// complete is the shared unary path for chat and vision.
func (g *Gateway) complete(ctx context.Context, messages []llms.Message, opts CallOptions) (*Result, error) {
	req := llms.ChatRequest{
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	if opts.JSON {
		req.ResponseFormat = &llms.ResponseFormat{Type: "json_object"}
	}

	var resp *llms.ChatResponse
	model, err := g.withRetries(ctx, opts, func(ctx context.Context, model string) (*llms.Usage, error) {
		req.Model = model
		r, err := g.provider.ChatCompletion(ctx, req)
		if r != nil {
			resp = r
			return r.Usage, err
		}
		return nil, err
	})
	if err != nil {
		return nil, err
	}

	result := &Result{Content: resp.Content(), Model: model, Usage: resp.Usage}
	if opts.JSON {
		data, err := jsonrepair.Extract(result.Content)
		if err != nil {
			return nil, errors.Join(ErrParseFailure, err)
		}
		result.Data = data
	}
	return result, nil
}

// withRetries drives one logical call: acquire permit, attempt, classify,
// back off, fall back. It returns the concrete model of the successful
// attempt.
func (g *Gateway) withRetries(ctx context.Context, opts CallOptions, do func(ctx context.Context, model string) (*llms.Usage, error)) (string, error) {
	requested := opts.Model
	budget := baseAttemptBudget
	fallbackUsed := false
	failures := 0
	var lastErr error

	for invocation := 0; invocation < budget; invocation++ {
		model, err := g.acquireWithUpgrade(ctx, requested)
		if err != nil {
			return "", err
		}

		_, err = g.attempt(ctx, model, opts, do)
		if err == nil {
			return model, nil
		}
		lastErr = err

		if errors.Is(err, llms.ErrNoAPIKey) || errors.Is(err, context.Canceled) {
			return "", err
		}
		if !httpclient.IsRetryable(err) {
			return "", unretryable(err)
		}

		failures++
		observeRetry(model, err)

		// Second failure: one chance to swap the requested model for its
		// cheaper sibling, with two extra attempts to cover the new leg.
		if failures == 2 && !fallbackUsed && !opts.NoFallback {
			if fb := g.roster.FallbackTarget(requested); fb != "" {
				slog.Warn("falling back to cheaper model",
					"from", requested, "to", fb, "task", opts.TaskTag, "error", err)
				requested = fb
				fallbackUsed = true
				budget = fallbackAttemptBudget
			}
		}

		if invocation+1 >= budget {
			break
		}

		delay := httpclient.BackoffDelay(err, failures-1)
		slog.Debug("retrying upstream call",
			"model", model, "attempt", failures, "delay", delay, "task", opts.TaskTag)
		if err := g.sleep(ctx, delay); err != nil {
			return "", err
		}
	}

	return "", maxRetries(failures, lastErr)
}

// attempt runs one upstream call while holding the permit for model. The
// permit is released on every exit path, panics included, and usage is
// recorded against the concrete model before release.
func (g *Gateway) attempt(ctx context.Context, model string, opts CallOptions, do func(ctx context.Context, model string) (*llms.Usage, error)) (usage *llms.Usage, err error) {
	defer func() {
		if usage != nil {
			g.recordUsage(model, usage, opts)
		}
		g.sems.release(model)
	}()
	return do(ctx, model)
}

// acquireWithUpgrade implements the promotion protocol: 1 s on the
// requested model, then 90 s on the upgrade target, then 90 s back on the
// original. It returns the concrete model whose permit is now held.
func (g *Gateway) acquireWithUpgrade(ctx context.Context, requested string) (string, error) {
	start := time.Now()

	if err := g.sems.acquire(ctx, requested, initialAcquireTimeout); err == nil {
		observeAcquire(requested, false, time.Since(start))
		return requested, nil
	} else if ctx.Err() != nil {
		return "", ctx.Err()
	}

	if upgrade := g.roster.UpgradeTarget(requested); upgrade != "" {
		if err := g.sems.acquire(ctx, upgrade, upgradeAcquireTimeout); err == nil {
			slog.Debug("promoted to premium model", "from", requested, "to", upgrade)
			observeAcquire(upgrade, true, time.Since(start))
			return upgrade, nil
		} else if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}

	if err := g.sems.acquire(ctx, requested, finalAcquireTimeout); err == nil {
		observeAcquire(requested, false, time.Since(start))
		return requested, nil
	} else if ctx.Err() != nil {
		return "", ctx.Err()
	}

	return "", ErrConcurrencyExhausted
}

func (g *Gateway) recordUsage(model string, usage *llms.Usage, opts CallOptions) {
	if g.usage == nil {
		return
	}
	g.usage.RecordBestEffort(context.Background(), ledger.Entry{
		Model:            model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		TaskType:         opts.TaskTag,
		RelatedRecordID:  opts.RecordID,
	})
}

// recordStreamUsage prefers the provider's usage block; when streaming
// endpoints omit it, token counts are estimated from the accumulated text.
func (g *Gateway) recordStreamUsage(model, completion string, usage *llms.Usage, opts CallOptions) {
	if g.usage == nil {
		return
	}
	if usage == nil {
		usage = &llms.Usage{
			CompletionTokens: ledger.EstimateTokens(completion),
		}
		usage.TotalTokens = usage.CompletionTokens
	}
	g.recordUsage(model, usage, opts)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
