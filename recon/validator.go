package recon

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/eventrecon/config"
	"github.com/mmdatafocus/eventrecon/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// ValidationState is where an outstanding error stands in a validation pass.
//
//	pending -> classified -> pg_confirmed -> subtype_resolved -> downstream_confirmed -> resolved
//
// Debt rows resolve straight from pg_confirmed. Any step may end in still_pending (evidence not there
// yet) or failed (a store call errored). Both leave the row NOK for the next pass.
type ValidationState string

const (
	StatePending             ValidationState = "pending"
	StateClassified          ValidationState = "classified"
	StatePGConfirmed         ValidationState = "pg_confirmed"
	StateSubtypeResolved     ValidationState = "subtype_resolved"
	StateDownstreamConfirmed ValidationState = "downstream_confirmed"
	StateResolved            ValidationState = "resolved"
	StateStillPending        ValidationState = "still_pending"
	StateFailed              ValidationState = "failed"
)

func (s ValidationState) Terminal() bool {
	return s == StateResolved || s == StateStillPending || s == StateFailed
}

// Outcome is the end state of one row in a validation pass.
type Outcome struct {
	Row            models.OutstandingError
	Classification models.OrderClassification
	Subtype        models.OrderSubtype
	State          ValidationState
	Reason         string
	Err            error
}

type ValidationReport struct {
	Examined     int       `json:"examined"`
	Resolved     int       `json:"resolved"`
	StillPending int       `json:"still_pending"`
	Failed       int       `json:"failed"`
	Outcomes     []Outcome `json:"-"`
}

func (r *ValidationReport) add(o Outcome) {
	r.Examined++
	switch o.State {
	case StateResolved:
		r.Resolved++
	case StateFailed:
		r.Failed++
	default:
		r.StillPending++
	}
	r.Outcomes = append(r.Outcomes, o)
}

// Validator drives unresolved tracking rows through the cross-store checks.
type Validator struct {
	Tracking  Tracking
	Authority Authority
	EventLogs EventLogOpener
	Resolver  StatusResolver
	Notifier  Notifier
	Logger    *logrus.Logger
}

// Run validates every unresolved row in the window. Only failing to list the rows is an error;
// per-row failures are reported in the outcomes.
func (v *Validator) Run(ctx context.Context) (ValidationReport, error) {
	ctx, span := tracer.Start(ctx, "recon.Validate")
	defer span.End()

	var report ValidationReport
	since, until := v.Resolver.Windows.Unresolved(v.Resolver.now())
	rows, err := v.Tracking.SelectUnresolved(ctx, since, until)
	if err != nil {
		span.RecordError(err)
		return report, fmt.Errorf("select unresolved: %w", err)
	}

	logs := newEventLogCache(v.EventLogs)
	defer logs.closeAll()

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.add(v.validate(ctx, row, logs))
	}
	span.SetAttributes(
		attribute.Int("recon.examined", report.Examined),
		attribute.Int("recon.resolved", report.Resolved),
		attribute.Int("recon.failed", report.Failed),
	)
	return report, nil
}

// ValidateOne runs a single row through the state machine with its own event-log connection.
func (v *Validator) ValidateOne(ctx context.Context, row models.OutstandingError) Outcome {
	logs := newEventLogCache(v.EventLogs)
	defer logs.closeAll()
	return v.validate(ctx, row, logs)
}

func (v *Validator) validate(ctx context.Context, row models.OutstandingError, logs *eventLogCache) Outcome {
	out := Outcome{Row: row, State: StatePending}
	for !out.State.Terminal() {
		switch out.State {
		case StatePending:
			out.Classification = models.Classify(row)
			out.State = StateClassified
		case StateClassified:
			v.confirmInEventLog(ctx, &out, logs)
		case StatePGConfirmed:
			if out.Classification == models.ClassificationDebt {
				v.resolve(ctx, &out)
			} else {
				v.resolveSubtype(ctx, &out)
			}
		case StateSubtypeResolved:
			v.confirmDownstream(ctx, &out)
		case StateDownstreamConfirmed:
			v.resolve(ctx, &out)
		default:
			out.fail(fmt.Errorf("unexpected state %q", out.State))
		}
	}
	v.logOutcome(out)
	return out
}

func (o *Outcome) pending(reason string) {
	o.State = StateStillPending
	o.Reason = reason
}

func (o *Outcome) fail(err error) {
	o.State = StateFailed
	o.Err = err
	o.Reason = err.Error()
}

func (v *Validator) confirmInEventLog(ctx context.Context, out *Outcome, logs *eventLogCache) {
	key, ok := out.Classification.ValidationKey(out.Row)
	if !ok {
		// No order or coupon id to look for; nothing can confirm these yet.
		out.pending("personal credit has no confirmation rule")
		return
	}
	log, err := logs.get(ctx, out.Row.Branch)
	if err != nil {
		out.fail(err)
		return
	}
	found, err := v.Resolver.HasSuccess(ctx, log, key)
	if err != nil {
		out.fail(fmt.Errorf("status lookup %s: %w", key, err))
		return
	}
	if !found {
		out.pending("no successful event for " + key.String())
		return
	}
	out.State = StatePGConfirmed
}

func (v *Validator) resolveSubtype(ctx context.Context, out *Outcome) {
	rec, err := v.Authority.GetOrderSubtype(ctx, *out.Row.OrderId, out.Row.Branch)
	if err != nil {
		out.fail(err)
		return
	}
	if rec == nil {
		out.pending("order not found in pedido_venda_multiplo")
		return
	}
	subtype, ok := models.ParseOrderSubtype(rec.Modality)
	if !ok {
		out.pending(fmt.Sprintf("unknown delivery modality %q", rec.Modality))
		return
	}
	out.Subtype = subtype
	out.State = StateSubtypeResolved
}

func (v *Validator) confirmDownstream(ctx context.Context, out *Outcome) {
	var delivered bool
	switch out.Subtype {
	case models.SubtypePosterior:
		rows, err := v.Authority.GetPosteriorDeliveryStatus(ctx, *out.Row.OrderId)
		if err != nil {
			out.fail(err)
			return
		}
		for _, r := range rows {
			delivered = delivered || models.IsDelivered(r.Delivered)
		}
	case models.SubtypeWalkIn:
		if out.Row.CouponNumber == nil {
			out.pending("walk-in sale without coupon number")
			return
		}
		rows, err := v.Authority.GetCouponDeliveryStatus(ctx, out.Row.Branch, *out.Row.CouponNumber)
		if err != nil {
			out.fail(err)
			return
		}
		for _, r := range rows {
			delivered = delivered || models.IsDelivered(r.Delivered)
		}
	}
	if !delivered {
		out.pending("not delivered downstream (" + string(out.Subtype) + ")")
		return
	}
	out.State = StateDownstreamConfirmed
}

func (v *Validator) resolve(ctx context.Context, out *Outcome) {
	var err error
	switch out.Classification {
	case models.ClassificationDebt:
		_, err = v.Tracking.MarkResolvedByCoupon(ctx, out.Row.Branch, *out.Row.CouponId)
	case models.ClassificationSale:
		_, err = v.Tracking.MarkResolvedByOrder(ctx, out.Row.Branch, *out.Row.OrderId)
	default:
		err = fmt.Errorf("no resolution rule for %s", out.Classification)
	}
	if err != nil {
		out.fail(fmt.Errorf("mark resolved: %w", err))
		return
	}
	out.State = StateResolved

	if v.Notifier != nil {
		v.Notifier.Notify(ctx, Notification{
			Type:       NotificationErrorResolved,
			Branch:     out.Row.Branch,
			OccurredAt: time.Now(),
			Data: map[string]interface{}{
				"classificacao": out.Classification,
				"subtipo":       out.Subtype,
				"pedido":        out.Row.OrderId,
				"id_cupom_pg":   out.Row.CouponId,
				"nr_cupom":      out.Row.CouponNumber,
				"id_evento":     out.Row.SourceEventId,
			},
		})
	}
}

func (v *Validator) logOutcome(out Outcome) {
	if v.Logger == nil {
		return
	}
	fields := logrus.Fields{
		"field":          "Validator",
		"branch":         out.Row.Branch,
		"classification": out.Classification,
		"state":          out.State,
		"id_evento":      out.Row.SourceEventId,
	}
	switch out.State {
	case StateFailed:
		config.LogError(v.Logger, "Validator", "validate", string(out.Classification), fields, out.Err)
	case StateResolved:
		v.Logger.WithFields(fields).Info("outstanding error resolved")
	default:
		v.Logger.WithFields(fields).Debug(out.Reason)
	}
}

// eventLogCache keeps one event-log connection per branch for the length of a pass. Failed opens
// are remembered too so a dead host is dialed once per pass.
type eventLogCache struct {
	opener EventLogOpener
	logs   map[int]EventLog
	errs   map[int]error
}

func newEventLogCache(opener EventLogOpener) *eventLogCache {
	return &eventLogCache{opener: opener, logs: map[int]EventLog{}, errs: map[int]error{}}
}

func (c *eventLogCache) get(ctx context.Context, branch int) (EventLog, error) {
	if log, ok := c.logs[branch]; ok {
		return log, nil
	}
	if err, ok := c.errs[branch]; ok {
		return nil, err
	}
	log, err := c.opener.Open(ctx, branch)
	if err != nil {
		err = fmt.Errorf("open event log %d: %w", branch, err)
		c.errs[branch] = err
		return nil, err
	}
	c.logs[branch] = log
	return log, nil
}

func (c *eventLogCache) closeAll() {
	for branch, log := range c.logs {
		_ = log.Close()
		delete(c.logs, branch)
	}
}
