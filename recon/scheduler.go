package recon

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/mmdatafocus/eventrecon/appctx"
	"github.com/sirupsen/logrus"
)

// ErrJobLocked means another instance holds the job's lock; the run was skipped.
var ErrJobLocked = errors.New("job is running on another instance")

// Job is one unit of recurring work.
type Job func(ctx context.Context) error

// Locker grants single-instance execution. acquired=false means another holder has it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

// Scheduler runs a job immediately and then every Interval until the context is cancelled.
// Trigger requests an extra run without waiting for the interval.
type Scheduler struct {
	Name     string
	Interval time.Duration
	Job      Job
	Locker   Locker
	LockTTL  time.Duration
	Logger   *logrus.Logger

	once    sync.Once
	trigger chan struct{}

	mu      sync.Mutex
	running bool
	lastRun time.Time
	lastErr error
}

func (s *Scheduler) init() {
	s.once.Do(func() {
		s.trigger = make(chan struct{}, 1)
	})
}

// Trigger queues one immediate run. It returns false when a run is already queued.
func (s *Scheduler) Trigger() bool {
	s.init()
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run blocks until ctx is cancelled and returns ctx.Err(). Job errors are logged and do not stop
// the loop; the next run happens at the next interval.
func (s *Scheduler) Run(ctx context.Context) error {
	s.init()
	for {
		if err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrJobLocked) && ctx.Err() == nil {
			s.logger().WithFields(logrus.Fields{"field": "Scheduler", "job": s.Name}).Error("job failed: " + err.Error())
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.trigger:
		case <-time.After(s.Interval):
		}
	}
}

// RunOnce executes the job a single time under the lock, recovering from panics.
func (s *Scheduler) RunOnce(ctx context.Context) (err error) {
	if s.Locker != nil {
		ttl := s.LockTTL
		if ttl <= 0 {
			ttl = 2 * s.Interval
		}
		if ttl <= 0 {
			ttl = time.Hour
		}
		release, acquired, lerr := s.Locker.TryLock(ctx, "recon:lock:"+s.Name, ttl)
		if lerr != nil {
			return fmt.Errorf("lock %s: %w", s.Name, lerr)
		}
		if !acquired {
			s.logger().WithFields(logrus.Fields{"field": "Scheduler", "job": s.Name}).Info("skipped, locked by another instance")
			return ErrJobLocked
		}
		defer release()
	}

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", s.Name, r)
			s.logger().WithFields(logrus.Fields{"field": "Scheduler", "job": s.Name, "stack": string(debug.Stack())}).Error(err.Error())
		}
		s.mu.Lock()
		s.running = false
		s.lastRun = started
		s.lastErr = err
		s.mu.Unlock()
	}()

	return s.Job(appctx.Set(ctx, appctx.ContextKeyJob, s.Name))
}

// Status reports whether a run is in progress and how the last one ended.
func (s *Scheduler) Status() (running bool, lastRun time.Time, lastErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running, s.lastRun, s.lastErr
}

func (s *Scheduler) logger() *logrus.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return logrus.StandardLogger()
}
