package recon

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/eventrecon/models"
	"github.com/mmdatafocus/eventrecon/payload"
	"github.com/sirupsen/logrus"
)

// Candidate is the representative event of a key group that has no successful sibling.
type Candidate struct {
	Branch       int
	CouponNumber *int64
	Key          models.BusinessKey
	Event        models.BusinessEvent
	Record       models.CanonicalRecord
	Siblings     int
}

type CorrelationStats struct {
	Events           int `json:"events"`
	Unkeyed          int `json:"unkeyed"`
	Groups           int `json:"groups"`
	ResolvedUpstream int `json:"resolved_upstream"`
	Candidates       int `json:"candidates"`
}

type Correlator struct {
	Resolver StatusResolver
	Logger   *logrus.Logger
}

type keyedEvent struct {
	event  models.BusinessEvent
	record models.CanonicalRecord
}

type eventGroup struct {
	key     models.BusinessKey
	members []keyedEvent
}

// Correlate groups a branch's pending events by business key and returns one candidate per group
// whose key has no success in the lookback window. Events keep the order they were fetched in, so
// the representative is the first one of its group. A lookup failure abandons the whole branch.
func (c Correlator) Correlate(ctx context.Context, branch int, log EventLog, events []models.BusinessEvent) ([]Candidate, CorrelationStats, error) {
	stats := CorrelationStats{Events: len(events)}

	groups := c.group(branch, events, &stats)
	stats.Groups = len(groups)

	var candidates []Candidate
	for _, g := range groups {
		rep := g.members[0]
		ok, err := c.Resolver.HasSuccess(ctx, log, g.key)
		if err != nil {
			return nil, stats, fmt.Errorf("status lookup %s: %w", g.key, err)
		}
		if ok {
			stats.ResolvedUpstream++
			continue
		}
		candidates = append(candidates, Candidate{
			Branch:       branch,
			CouponNumber: rep.record.CouponNumber,
			Key:          g.key,
			Event:        rep.event,
			Record:       rep.record,
			Siblings:     len(g.members) - 1,
		})
	}
	stats.Candidates = len(candidates)
	return candidates, stats, nil
}

func (c Correlator) group(branch int, events []models.BusinessEvent, stats *CorrelationStats) []*eventGroup {
	index := map[models.BusinessKey]*eventGroup{}
	var ordered []*eventGroup
	for _, ev := range events {
		rec, shape := payload.Extract(ev.Payload)
		if u, ok := shape.(payload.Unrecognized); ok && c.Logger != nil {
			c.Logger.WithFields(logrus.Fields{"field": "Correlator", "branch": branch, "event_id": ev.ID}).
				Debug("unrecognized payload: " + u.Reason)
		}
		key, ok := rec.BusinessKey()
		if !ok {
			stats.Unkeyed++
			continue
		}
		g, found := index[key]
		if !found {
			g = &eventGroup{key: key}
			index[key] = g
			ordered = append(ordered, g)
		}
		g.members = append(g.members, keyedEvent{event: ev, record: rec})
	}
	return ordered
}
