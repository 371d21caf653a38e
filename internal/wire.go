//go:build wireinject
// +build wireinject

package internal

import (
	"github.com/google/wire"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/hollisward/kestrel/internal/config"
	"github.com/hollisward/kestrel/internal/handler"
	"github.com/hollisward/kestrel/internal/repo"
	"github.com/hollisward/kestrel/internal/service"
)

var (
	handlerSet = wire.NewSet(
		handler.NewAdvisorHandler,
	)

	advisorSet = wire.NewSet(
		provideBinanceFeed,
		providePaperBroker,
		provideOpenAIClient,
		provideCompleter,
		provideGateway,
		provideNotifier,
		repo.NewAlertTriggerRepo,
		service.NewPortfolioService,
		wire.Bind(new(service.PortfolioProvider), new(*service.PortfolioService)),
		service.NewMemoryService,
		service.NewToolset,
		service.NewPromptService,
		service.NewSessionService,
		service.NewAlertService,
		service.NewDispatchLoop,
	)
)

// InitializeApp wires the full component graph.
func InitializeApp(logger *zap.Logger, db *gorm.DB, conf *config.Config) (*AppComponents, error) {
	wire.Build(
		handlerSet,
		advisorSet,
		wire.Struct(new(AppComponents), "*"),
	)
	return nil, nil
}
