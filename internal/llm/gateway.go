package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hollisward/kestrel/internal/config"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ChatCompleter is the provider boundary. The production implementation
// wraps the OpenAI client; tests substitute fakes.
type ChatCompleter interface {
	Complete(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

type openAICompleter struct {
	client *openai.Client
}

func (c openAICompleter) Complete(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params)
}

// NewOpenAICompleter wraps an OpenAI client as a ChatCompleter.
func NewOpenAICompleter(client *openai.Client) ChatCompleter {
	return openAICompleter{client: client}
}

// Request is one chat completion request to the gateway.
type Request struct {
	Messages    []openai.ChatCompletionMessageParamUnion
	Temperature float64
	MaxTokens   int64
	Tools       []openai.ChatCompletionToolParam
}

// Response is the gateway's answer, cached or live.
type Response struct {
	Message openai.ChatCompletionMessage
	Usage   openai.CompletionUsage
	Cached  bool
}

// Stats are the gateway's cumulative usage counters.
type Stats struct {
	Calls            int64   `json:"calls"`
	CacheHits        int64   `json:"cache_hits"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// Gateway issues model requests with a global minimum spacing between
// provider calls, memoizes identical requests, and accumulates usage/cost.
// One instance is shared by all concurrent sessions.
type Gateway struct {
	logger    *zap.Logger
	completer ChatCompleter
	limiter   *rate.Limiter
	model     string

	cacheEnabled bool
	inCostPerM   float64
	outCostPerM  float64

	mu    sync.Mutex
	cache map[string]*Response
	stats Stats
}

// NewGateway creates a model gateway from configuration.
func NewGateway(completer ChatCompleter, conf config.LlmConf, logger *zap.Logger) *Gateway {
	intervalMs := conf.MinAPIIntervalMs
	if intervalMs <= 0 {
		intervalMs = 100
	}
	interval := time.Duration(intervalMs) * time.Millisecond

	return &Gateway{
		logger:       logger,
		completer:    completer,
		limiter:      rate.NewLimiter(rate.Every(interval), 1),
		model:        conf.Model,
		cacheEnabled: conf.CachingEnabled(),
		inCostPerM:   conf.InputCostPerMillion,
		outCostPerM:  conf.OutputCostPerMillion,
		cache:        make(map[string]*Response),
	}
}

// Model returns the configured model name.
func (g *Gateway) Model() string {
	return g.model
}

// CacheKey derives the memoization key for a request: a deterministic
// serialization of the messages, sampling parameters, and tool names.
// Tool schemas are excluded on purpose; two requests differing only in a
// tool description are the same conversation.
func (g *Gateway) CacheKey(req Request) string {
	toolNames := make([]string, 0, len(req.Tools))
	for _, t := range req.Tools {
		toolNames = append(toolNames, t.Function.Name)
	}
	sort.Strings(toolNames)

	payload := struct {
		Messages    []openai.ChatCompletionMessageParamUnion `json:"messages"`
		Temperature float64                                  `json:"temperature"`
		MaxTokens   int64                                    `json:"max_tokens"`
		Tools       []string                                 `json:"tools"`
	}{req.Messages, req.Temperature, req.MaxTokens, toolNames}

	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Send issues one chat completion. Identical requests are served from cache
// without touching the provider; live calls are spaced by the configured
// minimum interval. Provider errors propagate unmodified.
func (g *Gateway) Send(ctx context.Context, req Request) (*Response, error) {
	key := g.CacheKey(req)

	if g.cacheEnabled {
		g.mu.Lock()
		if cached, ok := g.cache[key]; ok {
			g.stats.CacheHits++
			g.mu.Unlock()
			resp := *cached
			resp.Cached = true
			return &resp, nil
		}
		g.mu.Unlock()
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(g.model),
		Messages: req.Messages,
		Tools:    req.Tools,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(req.MaxTokens)
	}

	completion, err := g.completer.Complete(ctx, params)
	if err != nil {
		return nil, err
	}

	resp := &Response{Usage: completion.Usage}
	if len(completion.Choices) > 0 {
		resp.Message = completion.Choices[0].Message
	}

	g.recordUsage(completion.Usage)

	if g.cacheEnabled {
		g.mu.Lock()
		g.cache[key] = resp
		g.mu.Unlock()
	}

	return resp, nil
}

func (g *Gateway) recordUsage(usage openai.CompletionUsage) {
	cost := float64(usage.PromptTokens)*g.inCostPerM/1e6 +
		float64(usage.CompletionTokens)*g.outCostPerM/1e6

	g.mu.Lock()
	g.stats.Calls++
	g.stats.PromptTokens += usage.PromptTokens
	g.stats.CompletionTokens += usage.CompletionTokens
	g.stats.CostUSD += cost
	g.mu.Unlock()

	g.logger.Debug("model call recorded",
		zap.Int64("prompt_tokens", usage.PromptTokens),
		zap.Int64("completion_tokens", usage.CompletionTokens),
		zap.Float64("cost_usd", cost))
}

// UsageStats returns a snapshot of the cumulative counters.
func (g *Gateway) UsageStats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}
