package server

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/drummonds/pdfpage/database"
)

// InitializeSchedules starts the maintenance cron jobs: closing idle documents
// and pruning the render history. The caller stops the returned cron.
func (serverHandler *ServerHandler) InitializeSchedules() (*cron.Cron, error) {
	interval := serverHandler.ServerConfig.MaintenanceInterval
	if interval <= 0 {
		interval = 5
	}
	spec := fmt.Sprintf("@every %dm", interval)

	c := cron.New()
	//ensure we don't kick off another if old one is still running
	chain := cron.NewChain(cron.SkipIfStillRunning(cron.DefaultLogger))

	idleJob := chain.Then(cron.FuncJob(func() { serverHandler.evictIdleDocuments(time.Now()) }))
	if _, err := c.AddJob(spec, idleJob); err != nil {
		return nil, fmt.Errorf("unable to schedule idle document job: %w", err)
	}
	pruneJob := chain.Then(cron.FuncJob(func() { serverHandler.pruneRenderHistory() }))
	if _, err := c.AddJob(spec, pruneJob); err != nil {
		return nil, fmt.Errorf("unable to schedule render history job: %w", err)
	}

	Logger.Info("Adding maintenance job scheduler", "interval_minutes", interval,
		"idle_minutes", serverHandler.ServerConfig.DocumentIdle,
		"history_days", serverHandler.ServerConfig.RenderHistoryDays)
	c.Start()
	return c, nil
}

// evictIdleDocuments closes documents nobody has used for DocumentIdle minutes
func (serverHandler *ServerHandler) evictIdleDocuments(now time.Time) int {
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Panic recovered in idle document job", "panic", r)
		}
	}()
	idle := serverHandler.ServerConfig.DocumentIdle
	if idle <= 0 {
		return 0
	}
	cutoff := now.Add(-time.Duration(idle) * time.Minute)
	closed := 0
	for _, id := range serverHandler.docs.idle(cutoff) {
		if serverHandler.closeDocument(id, database.ClosedByIdle) {
			closed++
		}
	}
	if closed > 0 {
		Logger.Info("Closed idle documents", "count", closed)
	}
	return closed
}

// pruneRenderHistory deletes render records older than RenderHistoryDays
func (serverHandler *ServerHandler) pruneRenderHistory() int {
	days := serverHandler.ServerConfig.RenderHistoryDays
	if days <= 0 {
		return 0
	}
	deleted, err := serverHandler.DB.DeleteOldRenders(time.Duration(days) * 24 * time.Hour)
	if err != nil {
		Logger.Error("Unable to prune render history", "error", err)
		return 0
	}
	if deleted > 0 {
		Logger.Info("Pruned render history", "deleted", deleted)
	}
	return deleted
}
