package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-orz/orz"
	"github.com/hollisward/kestrel/internal/config"
	"github.com/hollisward/kestrel/internal/models"
	"github.com/hollisward/kestrel/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Performance trend buckets derived from the latest day-over-day return.
const (
	TrendStrongPositive = "strong_positive"
	TrendPositive       = "positive"
	TrendNeutral        = "neutral"
	TrendNegative       = "negative"
	TrendStrongNegative = "strong_negative"
)

// ClassifyTrend buckets a day-over-day percentage return. Cut points are
// fixed: beyond ±2% is strong, beyond ±0.5% is mild, the rest is neutral.
func ClassifyTrend(dayChangePct float64) string {
	switch {
	case dayChangePct > 2:
		return TrendStrongPositive
	case dayChangePct < -2:
		return TrendStrongNegative
	case dayChangePct > 0.5:
		return TrendPositive
	case dayChangePct < -0.5:
		return TrendNegative
	default:
		return TrendNeutral
	}
}

// ConversationMemory is the bounded context rebuilt for each new session.
// It never grows with portfolio age; old entries fall out of the window.
type ConversationMemory struct {
	PortfolioID      string                      `json:"portfolio_id"`
	RecentThreads    []models.ConversationThread `json:"recent_threads"`
	RecentDecisions  []models.TradingDecision    `json:"recent_decisions"`
	PerformanceTrend string                      `json:"performance_trend"`
	RiskAlerts       []models.AlertTrigger       `json:"risk_alerts"`
	Summary          *PortfolioSummary           `json:"summary"`
}

// MemoryService owns all ConversationThread and TradingDecision records.
// Reads are concurrent; writes are serialized per portfolio so two
// overlapping sessions cannot interleave appends.
type MemoryService struct {
	logger *zap.Logger

	*orz.Service
	*repo.ThreadRepo
	*repo.TradingDecisionRepo

	alertTriggerRepo *repo.AlertTriggerRepo
	portfolios       PortfolioProvider

	threadCount   int
	decisionCount int

	muLocks sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewMemoryService(
	db *gorm.DB,
	portfolios PortfolioProvider,
	conf *config.Config,
	logger *zap.Logger,
) *MemoryService {
	threadCount := conf.Advisor.RecentThreadCount
	if threadCount <= 0 {
		threadCount = 5
	}
	decisionCount := conf.Advisor.RecentDecisionCount
	if decisionCount <= 0 {
		decisionCount = 3
	}

	return &MemoryService{
		logger:              logger,
		Service:             orz.NewService(db),
		ThreadRepo:          repo.NewThreadRepo(db),
		TradingDecisionRepo: repo.NewTradingDecisionRepo(db),
		alertTriggerRepo:    repo.NewAlertTriggerRepo(db),
		portfolios:          portfolios,
		threadCount:         threadCount,
		decisionCount:       decisionCount,
		locks:               make(map[string]*sync.Mutex),
	}
}

func (s *MemoryService) lockFor(portfolioID string) *sync.Mutex {
	s.muLocks.Lock()
	defer s.muLocks.Unlock()
	lock, ok := s.locks[portfolioID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[portfolioID] = lock
	}
	return lock
}

// LoadMemory rebuilds the bounded session context for a portfolio: at most
// N recent threads, M recent decisions within the window, the still-open
// risk alerts, and the trend bucket for the current day-over-day return.
func (s *MemoryService) LoadMemory(ctx context.Context, portfolioID string, windowDays int) (*ConversationMemory, error) {
	if windowDays <= 0 {
		windowDays = 7
	}
	since := time.Now().AddDate(0, 0, -windowDays)

	threads, err := s.ThreadRepo.FindRecentByPortfolio(ctx, portfolioID, since, s.threadCount)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent threads: %w", err)
	}

	decisions, err := s.TradingDecisionRepo.FindRecentByPortfolio(ctx, portfolioID, since, s.decisionCount)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent decisions: %w", err)
	}

	riskAlerts, err := s.alertTriggerRepo.FindSinceByPortfolio(ctx, portfolioID, since)
	if err != nil {
		s.logger.Warn("failed to load risk alerts for memory", zap.Error(err))
		riskAlerts = nil
	}

	summary, err := s.portfolios.PortfolioSummary(ctx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to load portfolio summary: %w", err)
	}

	return &ConversationMemory{
		PortfolioID:      portfolioID,
		RecentThreads:    threads,
		RecentDecisions:  decisions,
		PerformanceTrend: ClassifyTrend(summary.DayChangePct),
		RiskAlerts:       riskAlerts,
		Summary:          summary,
	}, nil
}

// StoreThread appends a finished session's thread. History is append-only;
// prior threads are never edited or removed.
func (s *MemoryService) StoreThread(ctx context.Context, thread *models.ConversationThread) error {
	lock := s.lockFor(thread.PortfolioID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.ThreadRepo.Create(ctx, thread); err != nil {
		return fmt.Errorf("failed to store thread: %w", err)
	}
	return nil
}

// RecordDecision appends a decision produced by a session.
func (s *MemoryService) RecordDecision(ctx context.Context, decision *models.TradingDecision) error {
	lock := s.lockFor(decision.PortfolioID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.TradingDecisionRepo.Create(ctx, decision); err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}
	return nil
}
