package llm

import (
	"context"
	"testing"

	"github.com/hollisward/kestrel/internal/config"
	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCompleter struct {
	calls    int
	response *openai.ChatCompletion
	err      error
}

func (f *fakeCompleter) Complete(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func textCompletion(content string, promptTokens, completionTokens int64) *openai.ChatCompletion {
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
		Usage: openai.CompletionUsage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}
}

func testConf() config.LlmConf {
	return config.LlmConf{
		Model:                "test-model",
		MinAPIIntervalMs:     1,
		InputCostPerMillion:  2,
		OutputCostPerMillion: 10,
	}
}

func simpleRequest(text string) Request {
	return Request{
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(text)},
		Temperature: 0.4,
		MaxTokens:   256,
	}
}

func TestGateway_CacheKeyDeterministic(t *testing.T) {
	gateway := NewGateway(&fakeCompleter{}, testConf(), zap.NewNop())

	a := gateway.CacheKey(simpleRequest("hello"))
	b := gateway.CacheKey(simpleRequest("hello"))
	assert.Equal(t, a, b)

	c := gateway.CacheKey(simpleRequest("goodbye"))
	assert.NotEqual(t, a, c)

	hot := simpleRequest("hello")
	hot.Temperature = 0.9
	assert.NotEqual(t, a, gateway.CacheKey(hot))
}

func TestGateway_IdenticalRequestServedFromCache(t *testing.T) {
	completer := &fakeCompleter{response: textCompletion("buy nothing today", 100, 20)}
	gateway := NewGateway(completer, testConf(), zap.NewNop())

	first, err := gateway.Send(context.Background(), simpleRequest("hello"))
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, 1, completer.calls)

	second, err := gateway.Send(context.Background(), simpleRequest("hello"))
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, "buy nothing today", second.Message.Content)
	assert.Equal(t, 1, completer.calls, "cached response must not touch the provider")

	stats := gateway.UsageStats()
	assert.Equal(t, int64(1), stats.Calls)
	assert.Equal(t, int64(1), stats.CacheHits)
}

func TestGateway_DistinctRequestsBothHitProvider(t *testing.T) {
	completer := &fakeCompleter{response: textCompletion("ok", 10, 5)}
	gateway := NewGateway(completer, testConf(), zap.NewNop())

	_, err := gateway.Send(context.Background(), simpleRequest("first"))
	require.NoError(t, err)
	_, err = gateway.Send(context.Background(), simpleRequest("second"))
	require.NoError(t, err)

	assert.Equal(t, 2, completer.calls)
}

func TestGateway_CacheDisabled(t *testing.T) {
	conf := testConf()
	disabled := false
	conf.CacheEnabled = &disabled

	completer := &fakeCompleter{response: textCompletion("ok", 10, 5)}
	gateway := NewGateway(completer, conf, zap.NewNop())

	for i := 0; i < 3; i++ {
		resp, err := gateway.Send(context.Background(), simpleRequest("hello"))
		require.NoError(t, err)
		assert.False(t, resp.Cached)
	}
	assert.Equal(t, 3, completer.calls)
}

func TestGateway_UsageAccounting(t *testing.T) {
	completer := &fakeCompleter{response: textCompletion("ok", 1_000_000, 500_000)}
	gateway := NewGateway(completer, testConf(), zap.NewNop())

	_, err := gateway.Send(context.Background(), simpleRequest("hello"))
	require.NoError(t, err)

	stats := gateway.UsageStats()
	assert.Equal(t, int64(1_000_000), stats.PromptTokens)
	assert.Equal(t, int64(500_000), stats.CompletionTokens)
	// 1M prompt tokens at $2/M plus 0.5M completion tokens at $10/M.
	assert.InDelta(t, 7.0, stats.CostUSD, 1e-9)
}

func TestGateway_ProviderErrorPropagates(t *testing.T) {
	completer := &fakeCompleter{err: assert.AnError}
	gateway := NewGateway(completer, testConf(), zap.NewNop())

	_, err := gateway.Send(context.Background(), simpleRequest("hello"))
	assert.ErrorIs(t, err, assert.AnError)

	stats := gateway.UsageStats()
	assert.Equal(t, int64(0), stats.Calls)
}
