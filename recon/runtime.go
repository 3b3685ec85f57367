package recon

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Runtime owns the store handles and the logger for one unit of work. It is acquired when a cycle
// or sweep starts and released on every exit path.
type Runtime struct {
	Tracking  Tracking
	Authority Authority
	EventLogs EventLogOpener
	Branches  BranchEnumerator
	Logger    *logrus.Logger
	Notifier  Notifier

	mu       sync.Mutex
	releases []func()
}

// RuntimeFactory acquires a Runtime. Implementations connect the stores; on error nothing is held.
type RuntimeFactory func(ctx context.Context) (*Runtime, error)

// OnRelease registers fn to run when the runtime is released, in reverse registration order.
func (r *Runtime) OnRelease(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releases = append(r.releases, fn)
}

// Release runs the registered release functions once.
func (r *Runtime) Release() {
	if r == nil {
		return
	}
	r.mu.Lock()
	fns := r.releases
	r.releases = nil
	r.mu.Unlock()
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

func (r *Runtime) logger() *logrus.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return logrus.StandardLogger()
}

func (r *Runtime) notifier() Notifier {
	if r.Notifier != nil {
		return r.Notifier
	}
	return NopNotifier()
}
