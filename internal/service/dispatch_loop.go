package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hollisward/kestrel/internal/config"
	"github.com/hollisward/kestrel/internal/models"
	"github.com/hollisward/kestrel/internal/xe"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DispatchLoop is the scheduler. It fans scheduled sessions out across
// active portfolios, runs alert evaluation cycles, and periodically
// re-adapts alert thresholds.
type DispatchLoop struct {
	advisorConf config.AdvisorConf
	alertsConf  config.AlertsConf

	sessions   *SessionService
	alerts     *AlertService
	portfolios PortfolioProvider
	notifier   Notifier
	logger     *zap.Logger

	mu        sync.Mutex
	startTime time.Time
	cycles    int
	isRunning bool
	stopChan  chan struct{}
	cron      *cron.Cron
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewDispatchLoop(
	conf *config.Config,
	sessions *SessionService,
	alerts *AlertService,
	portfolios PortfolioProvider,
	notifier Notifier,
	logger *zap.Logger,
) *DispatchLoop {
	return &DispatchLoop{
		advisorConf: conf.Advisor,
		alertsConf:  conf.Alerts,
		sessions:    sessions,
		alerts:      alerts,
		portfolios:  portfolios,
		notifier:    notifier,
		logger:      logger,
		startTime:   time.Now(),
		stopChan:    make(chan struct{}),
	}
}

// Start registers the cron jobs and blocks until Stop is called or the
// context ends.
func (d *DispatchLoop) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.isRunning {
		d.mu.Unlock()
		return fmt.Errorf("dispatch loop is already running")
	}
	d.isRunning = true
	d.startTime = time.Now()
	d.mu.Unlock()

	d.ctx, d.cancel = context.WithCancel(ctx)

	sessionCron := d.advisorConf.SessionCron
	if sessionCron == "" {
		sessionCron = "0 * * * *"
	}
	cycleCron := d.alertsConf.CycleCron
	if cycleCron == "" {
		cycleCron = "* * * * *"
	}
	adaptiveCron := d.alertsConf.AdaptiveCron
	if adaptiveCron == "" {
		adaptiveCron = "0 0 * * *"
	}

	d.logger.Info("dispatch loop started",
		zap.String("session_cron", sessionCron),
		zap.String("cycle_cron", cycleCron),
		zap.String("adaptive_cron", adaptiveCron))

	d.cron = cron.New()

	if _, err := d.cron.AddFunc(sessionCron, func() {
		d.runScheduledSessions(d.ctx)
	}); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to schedule sessions: %w", err)
	}

	if _, err := d.cron.AddFunc(cycleCron, func() {
		d.runAlertCycle(d.ctx)
	}); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to schedule alert cycles: %w", err)
	}

	if _, err := d.cron.AddFunc(adaptiveCron, func() {
		if err := d.alerts.AdaptThresholds(d.ctx); err != nil {
			d.logger.Error("threshold adaptation failed", zap.Error(err))
		}
	}); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to schedule threshold adaptation: %w", err)
	}

	d.cron.Start()

	select {
	case <-d.stopChan:
		d.logger.Info("dispatch loop stopped by user")
		return nil
	case <-ctx.Done():
		d.logger.Info("dispatch loop stopped by context")
		return ctx.Err()
	}
}

func (d *DispatchLoop) setStopped() {
	d.mu.Lock()
	d.isRunning = false
	d.mu.Unlock()
}

// Stop shuts the scheduler down and waits for running jobs to finish.
func (d *DispatchLoop) Stop() {
	d.mu.Lock()
	if !d.isRunning {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	d.logger.Info("stopping dispatch loop...")

	if d.cron != nil {
		ctx := d.cron.Stop()
		<-ctx.Done()
		d.logger.Info("cron scheduler stopped")
	}

	if d.cancel != nil {
		d.cancel()
	}

	d.setStopped()
	close(d.stopChan)
	d.logger.Info("dispatch loop stopped")
}

// runScheduledSessions runs one session per active portfolio. Portfolios
// run in parallel; one portfolio failing never blocks the others.
func (d *DispatchLoop) runScheduledSessions(ctx context.Context) {
	portfolios, err := d.portfolios.ActivePortfolios(ctx)
	if err != nil {
		d.logger.Error("failed to list active portfolios", zap.Error(err))
		d.notifyCritical(ctx, fmt.Sprintf("Scheduled sessions skipped: %v", err))
		return
	}
	if len(portfolios) == 0 {
		d.logger.Info("no active portfolios, skipping scheduled sessions")
		return
	}

	d.mu.Lock()
	d.cycles++
	cycle := d.cycles
	d.mu.Unlock()
	d.logger.Info("running scheduled sessions",
		zap.Int("cycle", cycle),
		zap.Int("portfolios", len(portfolios)))

	var wg sync.WaitGroup
	for _, portfolio := range portfolios {
		portfolio := portfolio
		wg.Add(1)
		go func() {
			defer wg.Done()

			result, err := d.sessions.RunSession(ctx, portfolio.ID, models.ThreadKindDaily, "", "schedule")
			if err != nil {
				if errors.Is(err, xe.ErrSessionRunning) {
					d.logger.Warn("session already running, skipping",
						zap.String("portfolio_id", portfolio.ID))
					return
				}
				d.logger.Error("scheduled session failed",
					zap.String("portfolio_id", portfolio.ID),
					zap.Error(err))
				d.notifyCritical(ctx, fmt.Sprintf("Session failed for portfolio %s: %v", portfolio.Name, err))
				return
			}

			d.logger.Info("scheduled session finished",
				zap.String("portfolio_id", portfolio.ID),
				zap.String("thread_id", result.ThreadID),
				zap.Int("iterations", result.Iterations))
		}()
	}
	wg.Wait()
}

func (d *DispatchLoop) runAlertCycle(ctx context.Context) {
	if _, err := d.alerts.RunCycle(ctx); err != nil {
		d.logger.Error("alert cycle failed", zap.Error(err))
		d.notifyCritical(ctx, fmt.Sprintf("Alert cycle failed: %v", err))
	}
}

func (d *DispatchLoop) notifyCritical(ctx context.Context, message string) {
	if d.notifier == nil {
		return
	}
	if err := d.notifier.Notify(ctx, message); err != nil {
		d.logger.Warn("failed to send critical notification", zap.Error(err))
	}
}

// IsRunning reports whether the loop is active.
func (d *DispatchLoop) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isRunning
}

// GetStatus returns runtime status for the HTTP surface.
func (d *DispatchLoop) GetStatus() map[string]interface{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return map[string]interface{}{
		"is_running":    d.isRunning,
		"cycles":        d.cycles,
		"start_time":    d.startTime,
		"elapsed_hours": time.Since(d.startTime).Hours(),
	}
}
