package internal

import (
	"net/http"
	"net/url"
	"time"

	"github.com/hollisward/kestrel/internal/config"
	"github.com/hollisward/kestrel/internal/llm"
	"github.com/hollisward/kestrel/internal/service"
	"github.com/hollisward/kestrel/internal/telegram"
	"github.com/hollisward/kestrel/pkg/broker"
	"github.com/hollisward/kestrel/pkg/feed"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
)

const telegramHTTPTimeout = 10 * time.Second

// provideBinanceFeed builds the live price feed.
func provideBinanceFeed(conf *config.Config, logger *zap.Logger) feed.PriceFeed {
	binanceFeed := feed.NewBinanceFeed(
		conf.Market.APIKey,
		conf.Market.Secret,
		conf.Market.ProxyURL,
		conf.Market.Testnet,
	)

	logger.Info("price feed initialized",
		zap.Bool("testnet", conf.Market.Testnet),
		zap.Bool("has_credentials", conf.Market.APIKey != "" && conf.Market.Secret != ""),
	)
	return binanceFeed
}

// providePaperBroker builds the simulated execution venue.
func providePaperBroker(priceFeed feed.PriceFeed, conf *config.Config, logger *zap.Logger) broker.Broker {
	balance := conf.Market.PaperBalance
	if balance <= 0 {
		balance = 10000
	}
	return broker.NewPaperBroker(priceFeed, balance, logger)
}

// provideOpenAIClient builds the model provider client.
func provideOpenAIClient(conf *config.Config, logger *zap.Logger) *openai.Client {
	var options = []option.RequestOption{
		option.WithBaseURL(conf.LLM.BaseURL),
		option.WithAPIKey(conf.LLM.APIKey),
	}
	if conf.LLM.ProxyURL != "" {
		u, err := url.Parse(conf.LLM.ProxyURL)
		if err != nil {
			logger.Fatal("failed to parse proxy URL", zap.Error(err))
		}
		httpClient := &http.Client{
			Timeout: time.Minute,
			Transport: &http.Transport{
				Proxy: http.ProxyURL(u),
			},
		}
		options = append(options, option.WithHTTPClient(httpClient))
	}

	client := openai.NewClient(options...)

	logger.Info("model client initialized",
		zap.String("model", conf.LLM.Model),
		zap.String("base_url", conf.LLM.BaseURL),
	)
	return &client
}

func provideCompleter(client *openai.Client) llm.ChatCompleter {
	return llm.NewOpenAICompleter(client)
}

func provideGateway(completer llm.ChatCompleter, conf *config.Config, logger *zap.Logger) *llm.Gateway {
	return llm.NewGateway(completer, conf.LLM, logger)
}

// provideNotifier returns the telegram notifier when configured, a no-op
// otherwise.
func provideNotifier(conf *config.Config, logger *zap.Logger) service.Notifier {
	if !conf.Telegram.Enabled {
		return telegram.Noop{}
	}

	httpClient := &http.Client{Timeout: telegramHTTPTimeout}

	tg, err := telegram.NewTelegram(logger, telegram.Settings{
		Token:  conf.Telegram.Token,
		ChatID: conf.Telegram.ChatID,
		Client: httpClient,
	})
	if err != nil {
		logger.Error("failed to init telegram, notifications disabled", zap.Error(err))
		return telegram.Noop{}
	}

	tg.Start()
	return tg
}
