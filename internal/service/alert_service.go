package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-orz/orz"
	"github.com/hollisward/kestrel/internal/config"
	"github.com/hollisward/kestrel/internal/models"
	"github.com/hollisward/kestrel/internal/repo"
	"github.com/hollisward/kestrel/pkg/feed"
	"github.com/markcheno/go-talib"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Notifier delivers out-of-band messages about engine activity.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Alert evaluation statuses reported per cycle.
const (
	AlertStatusTriggered = "triggered"
	AlertStatusMonitored = "monitored"
	AlertStatusError     = "error"
)

// AlertStatus is the outcome of evaluating one alert in a cycle.
type AlertStatus struct {
	AlertID string `json:"alert_id"`
	Symbol  string `json:"symbol"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// CycleReport summarizes one full evaluation sweep.
type CycleReport struct {
	Evaluated int           `json:"evaluated"`
	Triggered int           `json:"triggered"`
	Errors    int           `json:"errors"`
	Skipped   bool          `json:"skipped"`
	Statuses  []AlertStatus `json:"statuses"`
}

// AlertService evaluates threshold alerts against the price feed in
// batches, records triggers, and adapts thresholds to realized volatility.
// A sustained crossing fires on every cycle; there is no dedup state.
type AlertService struct {
	logger *zap.Logger

	*orz.Service
	*repo.AlertConfigRepo
	*repo.AlertTriggerRepo

	priceFeed feed.PriceFeed
	notifier  Notifier
	conf      config.AlertsConf
}

func NewAlertService(
	db *gorm.DB,
	priceFeed feed.PriceFeed,
	notifier Notifier,
	conf *config.Config,
	logger *zap.Logger,
) *AlertService {
	return &AlertService{
		logger:           logger,
		Service:          orz.NewService(db),
		AlertConfigRepo:  repo.NewAlertConfigRepo(db),
		AlertTriggerRepo: repo.NewAlertTriggerRepo(db),
		priceFeed:        priceFeed,
		notifier:         notifier,
		conf:             conf.Alerts,
	}
}

// EvaluateCondition decides whether an alert fires against fresh price
// data. Percentage alerts compare the 24h change against the threshold
// inclusively. Price targets fire when the threshold lies between the
// previous and current price, in either direction, endpoints included.
func EvaluateCondition(alert *models.AlertConfig, data *feed.PriceData) bool {
	switch alert.AlertType {
	case models.AlertPercentageUp:
		return data.PercentageChange >= alert.Threshold
	case models.AlertPercentageDown:
		return data.PercentageChange <= -alert.Threshold
	case models.AlertPriceTarget:
		prev, cur, target := data.PreviousPrice, data.CurrentPrice, alert.Threshold
		return (prev <= target && cur >= target) || (prev >= target && cur <= target)
	default:
		return false
	}
}

// Notification urgency levels.
const (
	UrgencyNormal   = "normal"
	UrgencyHigh     = "high"
	UrgencyCritical = "critical"
)

// AlertNotification is the payload delivered when an alert fires.
type AlertNotification struct {
	Symbol             string   `json:"symbol"`
	AlertType          string   `json:"alert_type"`
	Threshold          float64  `json:"threshold"`
	PercentageChange   float64  `json:"percentage_change"`
	CurrentPrice       float64  `json:"current_price"`
	Urgency            string   `json:"urgency"`
	RecommendedActions []string `json:"recommended_actions"`
}

// NewAlertNotification builds the outbound payload for a fired alert.
func NewAlertNotification(alert *models.AlertConfig, data *feed.PriceData) *AlertNotification {
	return &AlertNotification{
		Symbol:             alert.Symbol,
		AlertType:          alert.AlertType,
		Threshold:          alert.Threshold,
		PercentageChange:   data.PercentageChange,
		CurrentPrice:       data.CurrentPrice,
		Urgency:            ClassifyUrgency(alert, data),
		RecommendedActions: RecommendActions(alert, data),
	}
}

// ClassifyUrgency grades a firing by how far the market overshot the
// threshold. Percentage alerts compare the observed move against the
// threshold; price targets grade on the size of the 24h move that carried
// price through the target.
func ClassifyUrgency(alert *models.AlertConfig, data *feed.PriceData) string {
	switch alert.AlertType {
	case models.AlertPercentageUp, models.AlertPercentageDown:
		if alert.Threshold <= 0 {
			return UrgencyNormal
		}
		ratio := math.Abs(data.PercentageChange) / alert.Threshold
		if ratio >= 2 {
			return UrgencyCritical
		}
		if ratio >= 1.5 {
			return UrgencyHigh
		}
		return UrgencyNormal
	case models.AlertPriceTarget:
		change := math.Abs(data.PercentageChange)
		if change >= 5 {
			return UrgencyCritical
		}
		if change >= 2 {
			return UrgencyHigh
		}
		return UrgencyNormal
	default:
		return UrgencyNormal
	}
}

// RecommendActions suggests follow-ups for a fired alert.
func RecommendActions(alert *models.AlertConfig, data *feed.PriceData) []string {
	switch alert.AlertType {
	case models.AlertPercentageUp:
		return []string{
			fmt.Sprintf("Review %s exposure for profit taking", alert.Symbol),
			fmt.Sprintf("Consider raising stops on open %s positions", alert.Symbol),
		}
	case models.AlertPercentageDown:
		return []string{
			fmt.Sprintf("Reassess downside risk on %s", alert.Symbol),
			fmt.Sprintf("Consider reducing %s exposure or hedging", alert.Symbol),
		}
	case models.AlertPriceTarget:
		return []string{
			fmt.Sprintf("Re-evaluate the %s thesis at %.2f", alert.Symbol, data.CurrentPrice),
			"Retire this alert or re-arm it with a new target",
		}
	default:
		return nil
	}
}

// Render formats the payload for the notifier.
func (n *AlertNotification) Render() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] Alert triggered: %s %s threshold=%.2f observed=%.2f%% price=%.2f",
		strings.ToUpper(n.Urgency), n.Symbol, n.AlertType, n.Threshold, n.PercentageChange, n.CurrentPrice))
	for _, action := range n.RecommendedActions {
		sb.WriteString("\n- " + action)
	}
	return sb.String()
}

// AdaptThreshold scales a base threshold by realized volatility. The
// multiplier is vol/10 floored at 1, so thresholds widen in volatile
// regimes but never tighten below the base. Result rounds to 2 decimals.
func AdaptThreshold(base, volatility float64) float64 {
	multiplier := volatility / 10
	if multiplier < 1 {
		multiplier = 1
	}
	return math.Round(base*multiplier*100) / 100
}

// RunCycle evaluates every active alert once. Alerts run in batches so a
// large book cannot burst the feed; one alert failing never stops the
// rest of its batch.
func (s *AlertService) RunCycle(ctx context.Context) (*CycleReport, error) {
	open, err := s.priceFeed.MarketOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check market availability: %w", err)
	}
	if !open {
		s.logger.Info("market closed, skipping alert cycle")
		return &CycleReport{Skipped: true}, nil
	}

	now := time.Now()
	alerts, err := s.AlertConfigRepo.FindActive(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load active alerts: %w", err)
	}
	if len(alerts) == 0 {
		return &CycleReport{}, nil
	}

	batchSize := s.conf.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	interBatchDelay := time.Duration(s.conf.InterBatchDelayMs) * time.Millisecond
	if s.conf.InterBatchDelayMs <= 0 {
		interBatchDelay = time.Second
	}

	report := &CycleReport{Statuses: make([]AlertStatus, len(alerts))}

	for start := 0; start < len(alerts); start += batchSize {
		if start > 0 {
			select {
			case <-time.After(interBatchDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		end := start + batchSize
		if end > len(alerts) {
			end = len(alerts)
		}

		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(batchSize)
		for i := start; i < end; i++ {
			i := i
			group.Go(func() error {
				report.Statuses[i] = s.evaluateAlert(groupCtx, &alerts[i])
				return nil
			})
		}
		_ = group.Wait()
	}

	for _, status := range report.Statuses {
		report.Evaluated++
		switch status.Status {
		case AlertStatusTriggered:
			report.Triggered++
		case AlertStatusError:
			report.Errors++
		}
	}

	s.logger.Info("alert cycle finished",
		zap.Int("evaluated", report.Evaluated),
		zap.Int("triggered", report.Triggered),
		zap.Int("errors", report.Errors))

	return report, nil
}

func (s *AlertService) evaluateAlert(ctx context.Context, alert *models.AlertConfig) AlertStatus {
	status := AlertStatus{AlertID: alert.ID, Symbol: alert.Symbol}

	data, err := s.priceFeed.GetPriceData(ctx, alert.Symbol)
	if err != nil {
		s.logger.Warn("failed to fetch price for alert",
			zap.String("alert_id", alert.ID),
			zap.String("symbol", alert.Symbol),
			zap.Error(err))
		status.Status = AlertStatusError
		status.Message = err.Error()
		return status
	}

	if !EvaluateCondition(alert, data) {
		status.Status = AlertStatusMonitored
		return status
	}

	trigger := &models.AlertTrigger{
		ID:             ulid.Make().String(),
		AlertID:        alert.ID,
		Symbol:         alert.Symbol,
		AlertType:      alert.AlertType,
		Threshold:      alert.Threshold,
		ObservedChange: data.PercentageChange,
		CurrentPrice:   data.CurrentPrice,
		PortfolioID:    alert.PortfolioID,
		TriggeredAt:    time.Now(),
	}
	if err := s.AlertTriggerRepo.Create(ctx, trigger); err != nil {
		s.logger.Error("failed to record alert trigger",
			zap.String("alert_id", alert.ID),
			zap.Error(err))
		status.Status = AlertStatusError
		status.Message = err.Error()
		return status
	}
	if err := s.AlertConfigRepo.IncrementTriggerCount(ctx, alert.ID); err != nil {
		s.logger.Warn("failed to increment trigger count",
			zap.String("alert_id", alert.ID),
			zap.Error(err))
	}

	s.logger.Info("alert triggered",
		zap.String("alert_id", alert.ID),
		zap.String("symbol", alert.Symbol),
		zap.String("type", alert.AlertType),
		zap.Float64("threshold", alert.Threshold),
		zap.Float64("observed_change", data.PercentageChange),
		zap.Float64("current_price", data.CurrentPrice))

	if s.notifier != nil {
		notification := NewAlertNotification(alert, data)
		if err := s.notifier.Notify(ctx, notification.Render()); err != nil {
			s.logger.Warn("failed to send alert notification", zap.Error(err))
		}
	}

	status.Status = AlertStatusTriggered
	return status
}

// AdaptThresholds recomputes every adaptive alert's threshold from recent
// daily volatility. Only percentage alerts with a base threshold adapt.
func (s *AlertService) AdaptThresholds(ctx context.Context) error {
	alerts, err := s.AlertConfigRepo.FindActive(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("failed to load active alerts: %w", err)
	}

	for i := range alerts {
		alert := &alerts[i]
		if alert.BaseThreshold <= 0 {
			continue
		}
		if alert.AlertType != models.AlertPercentageUp && alert.AlertType != models.AlertPercentageDown {
			continue
		}

		volatility, err := s.realizedVolatility(ctx, alert.Symbol)
		if err != nil {
			s.logger.Warn("failed to compute volatility, keeping threshold",
				zap.String("symbol", alert.Symbol),
				zap.Error(err))
			continue
		}

		adapted := AdaptThreshold(alert.BaseThreshold, volatility)
		if adapted == alert.Threshold {
			continue
		}

		if err := s.AlertConfigRepo.UpdateThreshold(ctx, alert.ID, adapted); err != nil {
			s.logger.Error("failed to update adaptive threshold",
				zap.String("alert_id", alert.ID),
				zap.Error(err))
			continue
		}

		s.logger.Info("alert threshold adapted",
			zap.String("alert_id", alert.ID),
			zap.String("symbol", alert.Symbol),
			zap.Float64("base", alert.BaseThreshold),
			zap.Float64("volatility", volatility),
			zap.Float64("threshold", adapted))
	}

	return nil
}

// realizedVolatility is the standard deviation of daily percent returns
// over roughly the last two weeks.
func (s *AlertService) realizedVolatility(ctx context.Context, symbol string) (float64, error) {
	klines, err := s.priceFeed.GetKlines(ctx, symbol, "1d", 15)
	if err != nil {
		return 0, err
	}
	if len(klines) < 3 {
		return 0, fmt.Errorf("not enough klines for %s", symbol)
	}

	returns := make([]float64, 0, len(klines)-1)
	for i := 1; i < len(klines); i++ {
		prev := klines[i-1].Close
		if prev == 0 {
			continue
		}
		returns = append(returns, (klines[i].Close-prev)/prev*100)
	}
	if len(returns) < 2 {
		return 0, fmt.Errorf("not enough return samples for %s", symbol)
	}

	std := talib.StdDev(returns, len(returns), 1)
	return std[len(std)-1], nil
}
