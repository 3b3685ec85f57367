package recon_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/mmdatafocus/eventrecon/appctx"
	"github.com/mmdatafocus/eventrecon/models"
	"github.com/mmdatafocus/eventrecon/recon"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

var testNow = time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func i64(v int64) *int64 { return &v }

func ev(id int64, payload, status string) models.BusinessEvent {
	return models.BusinessEvent{
		ID:              id,
		Payload:         datatypes.JSON(payload),
		InsertedAt:      testNow.Add(-time.Duration(id) * time.Minute),
		Log:             "log",
		ExecutionStatus: status,
	}
}

// fakeEventLog answers key lookups with a text match over all events, like the SQL store.
type fakeEventLog struct {
	mu         sync.Mutex
	events     []models.BusinessEvent
	pendingErr error
	patternErr error
	deleteFn   func(ctx context.Context) (int64, error)
	closed     int
}

func (f *fakeEventLog) SelectPendingEvents(ctx context.Context, since, until time.Time) ([]models.BusinessEvent, error) {
	if f.pendingErr != nil {
		return nil, f.pendingErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.BusinessEvent
	for _, e := range f.events {
		if !e.Succeeded() && !e.InsertedAt.Before(since) && e.InsertedAt.Before(until) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEventLog) SelectByKeyPattern(ctx context.Context, key models.BusinessKey, since time.Time) ([]models.EventStatus, error) {
	if f.patternErr != nil {
		return nil, f.patternErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.EventStatus
	for _, e := range f.events {
		if strings.Contains(string(e.Payload), key.PayloadPattern()) && !e.InsertedAt.Before(since) {
			out = append(out, models.EventStatus{ID: e.ID, Status: e.ExecutionStatus})
		}
	}
	return out, nil
}

func (f *fakeEventLog) DeleteRedundantErrorRows(ctx context.Context) (int64, error) {
	if f.deleteFn != nil {
		return f.deleteFn(ctx)
	}
	if !appctx.EventLogDeleteAllowed(ctx) {
		return 0, errors.New("delete not allowed")
	}
	return 0, nil
}

func (f *fakeEventLog) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeEventLog) add(e models.BusinessEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

type fakeOpener struct {
	mu     sync.Mutex
	logs   map[int]*fakeEventLog
	errs   map[int]error
	opened map[int]int
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{logs: map[int]*fakeEventLog{}, errs: map[int]error{}, opened: map[int]int{}}
}

func (o *fakeOpener) Open(ctx context.Context, branch int) (recon.EventLog, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened[branch]++
	if err := o.errs[branch]; err != nil {
		return nil, err
	}
	log, ok := o.logs[branch]
	if !ok {
		log = &fakeEventLog{}
		o.logs[branch] = log
	}
	return log, nil
}

func (o *fakeOpener) log(branch int) *fakeEventLog {
	o.mu.Lock()
	defer o.mu.Unlock()
	log, ok := o.logs[branch]
	if !ok {
		log = &fakeEventLog{}
		o.logs[branch] = log
	}
	return log
}

type fakeTracking struct {
	mu        sync.Mutex
	rows      []models.OutstandingError
	pingErr   error
	countErr  error
	insertErr error
	selectErr error
	markErr   error
	inserts   int
}

func (f *fakeTracking) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeTracking) CountUnresolved(ctx context.Context, branch int, couponNumber *int64) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.rows {
		if r.Branch != branch || r.ResolutionFlag == models.ResolutionResolved {
			continue
		}
		if (couponNumber == nil && r.CouponNumber == nil) ||
			(couponNumber != nil && r.CouponNumber != nil && *couponNumber == *r.CouponNumber) {
			n++
		}
	}
	return n, nil
}

func (f *fakeTracking) InsertOutstandingError(ctx context.Context, row *models.OutstandingError) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	f.rows = append(f.rows, *row)
	return nil
}

func (f *fakeTracking) SelectUnresolved(ctx context.Context, since, until time.Time) ([]models.OutstandingError, error) {
	if f.selectErr != nil {
		return nil, f.selectErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.OutstandingError
	for _, r := range f.rows {
		if r.ResolutionFlag != models.ResolutionResolved && !r.InsertedAt.Before(since) && r.InsertedAt.Before(until) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeTracking) MarkResolvedByCoupon(ctx context.Context, branch int, couponId int64) (int64, error) {
	return f.mark(func(r models.OutstandingError) bool {
		return r.Branch == branch && r.CouponId != nil && *r.CouponId == couponId
	})
}

func (f *fakeTracking) MarkResolvedByOrder(ctx context.Context, branch int, orderId int64) (int64, error) {
	return f.mark(func(r models.OutstandingError) bool {
		return r.Branch == branch && r.OrderId != nil && *r.OrderId == orderId
	})
}

func (f *fakeTracking) mark(match func(models.OutstandingError) bool) (int64, error) {
	if f.markErr != nil {
		return 0, f.markErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for i := range f.rows {
		if match(f.rows[i]) && f.rows[i].ResolutionFlag != models.ResolutionResolved {
			f.rows[i].ResolutionFlag = models.ResolutionResolved
			n++
		}
	}
	return n, nil
}

func (f *fakeTracking) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.rows {
		if r.ResolutionFlag != models.ResolutionResolved {
			n++
		}
	}
	return n
}

type fakeAuthority struct {
	subtypes       map[int64]*models.OrderTypeRecord
	posterior      map[int64][]models.PosteriorDelivery
	coupons        map[int64][]models.CouponDelivery
	subtypeErr     map[int64]error
	posteriorCalls int
	couponCalls    int
}

func newFakeAuthority() *fakeAuthority {
	return &fakeAuthority{
		subtypes:   map[int64]*models.OrderTypeRecord{},
		posterior:  map[int64][]models.PosteriorDelivery{},
		coupons:    map[int64][]models.CouponDelivery{},
		subtypeErr: map[int64]error{},
	}
}

func (f *fakeAuthority) GetOrderSubtype(ctx context.Context, orderId int64, branch int) (*models.OrderTypeRecord, error) {
	if err := f.subtypeErr[orderId]; err != nil {
		return nil, err
	}
	rec, ok := f.subtypes[orderId]
	if !ok || rec.Branch != branch {
		return nil, nil
	}
	return rec, nil
}

func (f *fakeAuthority) GetPosteriorDeliveryStatus(ctx context.Context, orderId int64) ([]models.PosteriorDelivery, error) {
	f.posteriorCalls++
	return f.posterior[orderId], nil
}

func (f *fakeAuthority) GetCouponDeliveryStatus(ctx context.Context, branch int, couponNumber int64) ([]models.CouponDelivery, error) {
	f.couponCalls++
	var out []models.CouponDelivery
	for _, c := range f.coupons[couponNumber] {
		if c.Branch == branch {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeBranches struct {
	branches []int
	err      error
}

func (f fakeBranches) ActiveBranches(ctx context.Context) ([]int, error) {
	return f.branches, f.err
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []recon.Notification
}

func (n *recordingNotifier) Notify(ctx context.Context, msg recon.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

func (n *recordingNotifier) count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, m := range n.sent {
		if m.Type == kind {
			c++
		}
	}
	return c
}

func resolver() recon.StatusResolver {
	return recon.StatusResolver{Windows: recon.DefaultWindows(), Now: fixedNow}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
