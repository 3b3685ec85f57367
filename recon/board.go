package recon

import (
	"context"
	"sync"
	"time"

	"github.com/mmdatafocus/eventrecon/config"
	"github.com/sirupsen/logrus"
)

const (
	lastCycleKey   = "recon:last_cycle"
	lastCleanupKey = "recon:last_cleanup"
)

type CleanupSnapshot struct {
	At      time.Time       `json:"at"`
	Results []CleanupResult `json:"results"`
}

// ReportBoard keeps the latest cycle and cleanup reports in memory and mirrors them to Redis so
// every replica's ops API can serve them.
type ReportBoard struct {
	TTL    time.Duration
	Logger *logrus.Logger

	mu      sync.RWMutex
	cycle   *CycleReport
	cleanup *CleanupSnapshot
}

func NewReportBoard(logger *logrus.Logger) *ReportBoard {
	return &ReportBoard{TTL: 24 * time.Hour, Logger: logger}
}

func (b *ReportBoard) SaveCycle(ctx context.Context, r CycleReport) {
	b.mu.Lock()
	b.cycle = &r
	b.mu.Unlock()
	b.mirror(ctx, lastCycleKey, r)
}

func (b *ReportBoard) LastCycle(ctx context.Context) (CycleReport, bool) {
	b.mu.RLock()
	local := b.cycle
	b.mu.RUnlock()
	if local != nil {
		return *local, true
	}
	var r CycleReport
	found, err := config.GetRedisObject(ctx, lastCycleKey, &r)
	if err != nil {
		b.warn("read last cycle: " + err.Error())
		return CycleReport{}, false
	}
	return r, found
}

func (b *ReportBoard) SaveCleanup(ctx context.Context, results []CleanupResult) {
	snap := CleanupSnapshot{At: time.Now(), Results: results}
	b.mu.Lock()
	b.cleanup = &snap
	b.mu.Unlock()
	b.mirror(ctx, lastCleanupKey, snap)
}

func (b *ReportBoard) LastCleanup(ctx context.Context) (CleanupSnapshot, bool) {
	b.mu.RLock()
	local := b.cleanup
	b.mu.RUnlock()
	if local != nil {
		return *local, true
	}
	var snap CleanupSnapshot
	found, err := config.GetRedisObject(ctx, lastCleanupKey, &snap)
	if err != nil {
		b.warn("read last cleanup: " + err.Error())
		return CleanupSnapshot{}, false
	}
	return snap, found
}

func (b *ReportBoard) mirror(ctx context.Context, key string, v interface{}) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := config.SetRedisObject(writeCtx, key, v, b.TTL); err != nil {
		b.warn("mirror " + key + ": " + err.Error())
	}
}

func (b *ReportBoard) warn(msg string) {
	if b.Logger != nil {
		b.Logger.WithFields(logrus.Fields{"field": "ReportBoard"}).Warn(msg)
	}
}
