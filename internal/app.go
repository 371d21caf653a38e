package internal

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-orz/orz"
	"github.com/go-playground/validator/v10"
	"github.com/hollisward/kestrel/internal/config"
	"github.com/hollisward/kestrel/internal/handler"
	"github.com/hollisward/kestrel/internal/llm"
	"github.com/hollisward/kestrel/internal/models"
	"github.com/hollisward/kestrel/internal/service"
	"github.com/hollisward/kestrel/pkg/nostd"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

func Run(configPath string) error {
	app := NewKestrelApp()

	framework, err := orz.NewFramework(
		orz.WithConfig(configPath),
		orz.WithLoggerFromConfig(),
		orz.WithDatabase(),
		orz.WithHTTP(),
		orz.WithApplication(app),
	)
	if err != nil {
		return err
	}

	return framework.Run()
}

func NewKestrelApp() orz.Application {
	return &KestrelApp{}
}

var _ orz.Application = (*KestrelApp)(nil)

type AppComponents struct {
	AdvisorHandler *handler.AdvisorHandler

	DispatchLoop     *service.DispatchLoop
	SessionService   *service.SessionService
	AlertService     *service.AlertService
	PortfolioService *service.PortfolioService
	MemoryService    *service.MemoryService
	Gateway          *llm.Gateway
}

type KestrelApp struct {
	components *AppComponents
	conf       *config.Config
}

func (r *KestrelApp) GetComponents() *AppComponents {
	return r.components
}

func (r *KestrelApp) Configure(app *orz.App) error {
	logger := app.Logger()
	e := app.GetEcho()
	db := app.GetDatabase()

	var conf config.Config
	err := app.GetConfig().App.Unmarshal(&conf)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config: %v", err)
	}

	components, err := InitializeApp(logger, db, &conf)
	if err != nil {
		return fmt.Errorf("failed to initialize app: %v", err)
	}
	r.components = components
	r.conf = &conf

	if err := db.AutoMigrate(
		models.Portfolio{}, models.Position{},
		models.ConversationThread{}, models.TradingDecision{},
		models.AlertConfig{}, models.AlertTrigger{},
	); err != nil {
		logger.Fatal("database auto migrate failed", zap.Error(err))
	}

	if err := r.Init(logger); err != nil {
		logger.Fatal("app init failed", zap.Error(err))
	}

	e.HidePort = true
	e.HideBanner = true

	e.Use(middleware.Gzip())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		Skipper:      middleware.DefaultSkipper,
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodPut, http.MethodPatch, http.MethodPost, http.MethodDelete},
	}))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			sugar := logger.Sugar()
			sugar.Error(fmt.Sprintf("[PANIC RECOVER] %v %s\n", err, stack))
			return err
		},
	}))
	e.Use(WithErrorHandler(logger))
	customValidator := nostd.CustomValidator{Validator: validator.New()}
	if err := customValidator.TransInit(); err != nil {
		logger.Sugar().Fatal("failed to init custom validator", zap.Error(err))
	}
	e.Validator = &customValidator

	api := e.Group("/api")
	{
		if r.components.AdvisorHandler != nil {
			r.components.AdvisorHandler.RegisterRoutes(api)
		}
	}

	return nil
}

func (r *KestrelApp) Init(logger *zap.Logger) error {
	logger.Info("=================================================")
	logger.Info("Kestrel Decision Engine Starting...")
	logger.Info("=================================================")

	components := r.GetComponents()
	if components == nil {
		return fmt.Errorf("components not initialized")
	}

	if components.DispatchLoop == nil {
		return fmt.Errorf("dispatch loop not available, please check market and LLM configuration")
	}

	if err := components.PortfolioService.EnsureDefault(context.Background()); err != nil {
		logger.Warn("failed to ensure default portfolio", zap.Error(err))
	}

	logger.Info("dispatch loop initialized, starting...")

	go func() {
		if err := components.DispatchLoop.Start(context.Background()); err != nil {
			logger.Error("dispatch loop error", zap.Error(err))
		}
	}()
	return nil
}
