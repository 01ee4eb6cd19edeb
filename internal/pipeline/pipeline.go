// Package pipeline wires an inbound business event to the badge grant
// pipeline: dedup the event, find the badge rules registered against its
// event type, evaluate each compiled rule tree against the event payload,
// and grant the badges whose rules matched.
package pipeline

import (
	"context"
	"time"

	"github.com/badgeforge/entitlement/internal/domain/badge"
	"github.com/badgeforge/entitlement/internal/domain/event"
	"github.com/badgeforge/entitlement/internal/domain/userbadge"
	"github.com/badgeforge/entitlement/internal/grant"
	"github.com/badgeforge/entitlement/internal/obs/metrics"
	"github.com/badgeforge/entitlement/internal/ruleengine"
	"github.com/badgeforge/entitlement/pkg/logger"
)

// Store resolves the badge rules a given event type can trigger.
type Store interface {
	ListRulesForEventType(ctx context.Context, eventType string) ([]badge.Rule, error)
}

// Gate suppresses duplicate delivery of the same event ID within its
// dedup window. Satisfied by idempotency.ProcessedEventGate.
type Gate interface {
	ShouldProcess(ctx context.Context, eventID string) (bool, error)
}

// Granter issues badge grants. Satisfied by *grant.Service.
type Granter interface {
	GrantBadge(ctx context.Context, req grant.Request) (*grant.Response, error)
}

// RuleSource resolves a rule.RuleID into the compiled tree the engine can
// evaluate. Satisfied by *ruleengine.Store.
type RuleSource interface {
	Get(id string) (ruleengine.Compiled, bool)
}

// MatchOutcome records what happened to one candidate rule during a single
// Ingest call.
type MatchOutcome struct {
	Rule     badge.Rule
	Matched  bool
	Granted  bool
	SkipWhy  string
	GrantErr error
}

// Outcome is the full result of processing one event.
type Outcome struct {
	Processed bool // false when the event was a dedup replay
	Matches   []MatchOutcome
}

// Pipeline is the entry point for event-triggered grants.
type Pipeline struct {
	store   Store
	gate    Gate
	rules   RuleSource
	granter Granter
	metrics *metrics.Metrics
	log     *logger.Logger
}

func New(store Store, gate Gate, rules RuleSource, granter Granter, m *metrics.Metrics, log *logger.Logger) *Pipeline {
	return &Pipeline{store: store, gate: gate, rules: rules, granter: granter, metrics: m, log: log}
}

// Ingest evaluates ev against every enabled, in-window rule registered for
// ev's event type, granting the badge behind every rule whose tree matches.
// A replayed event (same EventID within the dedup window) is a silent
// no-op: the first delivery already ran the side effects.
func (p *Pipeline) Ingest(ctx context.Context, ev event.Event) (Outcome, error) {
	fresh, err := p.gate.ShouldProcess(ctx, ev.EventID)
	if err != nil {
		return Outcome{}, err
	}
	if !fresh {
		return Outcome{Processed: false}, nil
	}

	candidates, err := p.store.ListRulesForEventType(ctx, string(ev.EventType))
	if err != nil {
		return Outcome{}, err
	}

	now := time.Now().UTC()
	evalCtx := ruleengine.NewEvaluationContext(ev.Data)
	out := Outcome{Processed: true, Matches: make([]MatchOutcome, 0, len(candidates))}

	for _, rule := range candidates {
		if !rule.Effective(now) {
			out.Matches = append(out.Matches, MatchOutcome{Rule: rule, SkipWhy: "not effective"})
			continue
		}
		compiled, ok := p.rules.Get(rule.RuleID)
		if !ok {
			out.Matches = append(out.Matches, MatchOutcome{Rule: rule, SkipWhy: "rule not compiled"})
			continue
		}

		start := time.Now()
		result, err := ruleengine.Evaluate(compiled, evalCtx)
		if p.metrics != nil {
			p.metrics.RecordRuleEvaluation(err == nil && result.Matched, time.Since(start))
		}
		if err != nil {
			if p.log != nil {
				p.log.WithField("rule_id", rule.RuleID).Warnf("rule evaluation failed: %v", err)
			}
			out.Matches = append(out.Matches, MatchOutcome{Rule: rule, SkipWhy: "evaluation error"})
			continue
		}
		if !result.Matched {
			out.Matches = append(out.Matches, MatchOutcome{Rule: rule, Matched: false})
			continue
		}

		_, grantErr := p.granter.GrantBadge(ctx, grant.Request{
			UserID:    ev.UserID,
			BadgeID:   rule.BadgeID,
			Quantity:  1,
			Source:    userbadge.SourceEvent,
			SourceRef: ev.EventID,
		})
		m := MatchOutcome{Rule: rule, Matched: true, Granted: grantErr == nil, GrantErr: grantErr}
		if grantErr != nil && p.log != nil {
			p.log.WithField("user_id", ev.UserID).WithField("badge_id", rule.BadgeID).
				Warnf("event-triggered grant failed: %v", grantErr)
		}
		out.Matches = append(out.Matches, m)
	}
	return out, nil
}
