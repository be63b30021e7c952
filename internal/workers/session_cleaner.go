package workers

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"patchwatch/internal/session"
)

// SessionCleaner periodically removes expired and revoked sessions
type SessionCleaner struct {
	ctx      context.Context
	cancel   context.CancelFunc
	sessions *session.Manager
	logger   *logrus.Entry
	interval time.Duration
}

// SessionCleanerConfig holds the configuration for the session cleaner
type SessionCleanerConfig struct {
	Sessions    *session.Manager
	Logger      *logrus.Entry
	IntervalSec int
}

// NewSessionCleaner creates a new session cleanup worker
func NewSessionCleaner(cfg *SessionCleanerConfig) *SessionCleaner {
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionCleaner{
		ctx:      ctx,
		cancel:   cancel,
		sessions: cfg.Sessions,
		logger:   cfg.Logger.WithField("component", "session-cleaner"),
		interval: time.Duration(cfg.IntervalSec) * time.Second,
	}
}

// Start begins the periodic cleanup
func (w *SessionCleaner) Start() {
	w.logger.Info("Starting session cleaner...")
	ticker := time.NewTicker(w.interval)
	go func() {
		defer ticker.Stop()

		// Run once at startup so restarts don't carry stale rows around
		// for a full interval.
		w.runCleanup()

		for {
			select {
			case <-ticker.C:
				w.runCleanup()
			case <-w.ctx.Done():
				w.logger.Info("Stopping session cleaner...")
				return
			}
		}
	}()
}

// Stop gracefully stops the worker
func (w *SessionCleaner) Stop() {
	w.cancel()
}

func (w *SessionCleaner) runCleanup() {
	removed, err := w.sessions.CleanupExpired()
	if err != nil {
		w.logger.Errorf("Session cleanup failed: %v", err)
		return
	}
	if removed > 0 {
		w.logger.Infof("Removed %d expired sessions", removed)
	}
}
