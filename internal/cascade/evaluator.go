// Package cascade implements the bounded DFS traversal that discovers and
// grants further badges whose prerequisites become satisfied after a grant.
package cascade

import (
	"context"
	"time"

	"github.com/badgeforge/entitlement/internal/depgraph"
	"github.com/badgeforge/entitlement/internal/domain/cascadelog"
	"github.com/badgeforge/entitlement/internal/obs/metrics"
	"github.com/badgeforge/entitlement/pkg/logger"
)

// Granter is the capability the cascade evaluator needs from the grant
// service. It must call the *internal* grant path — bypassing cascade,
// auto-benefit, and notification fan-out — with source=cascade, so the
// evaluator can never transitively re-enter itself. The grant service
// implements this interface; the evaluator depends only on the interface,
// breaking the import cycle between the two packages.
type Granter interface {
	GrantCascade(ctx context.Context, userID, badgeID, triggeredByBadge string) error
}

// HoldingsStore reports a user's current active holdings, queried against
// the authoritative store (never solely the dependency graph cache).
type HoldingsStore interface {
	ActiveHoldings(ctx context.Context, userID string, badgeIDs []string) (map[string]int64, error)
}

// LogStore persists the append-only cascade evaluation log.
type LogStore interface {
	SaveCascadeLog(ctx context.Context, entry cascadelog.Entry) error
}

// Evaluator runs bounded cascade traversals from a newly-granted badge.
type Evaluator struct {
	graph    *depgraph.Holder
	holdings HoldingsStore
	logs     LogStore
	metrics  *metrics.Metrics
	log      *logger.Logger

	granter Granter // set post-construction via SetGranter to break the evaluator<->grant-service cycle
}

// New constructs an Evaluator. SetGranter must be called before Evaluate is
// ever invoked; it is split out because the grant service that implements
// Granter itself depends on the Evaluator.
func New(graph *depgraph.Holder, holdings HoldingsStore, logs LogStore, m *metrics.Metrics, log *logger.Logger) *Evaluator {
	return &Evaluator{graph: graph, holdings: holdings, logs: logs, metrics: m, log: log}
}

// SetGranter wires the grant service in after both are constructed.
func (e *Evaluator) SetGranter(g Granter) { e.granter = g }

// Outcome is the contract returned to a grant service that triggered a
// cascade: which badges were newly granted, and why each blocked candidate
// did not proceed.
type Outcome struct {
	Granted []string
	Blocked []cascadelog.Blocked
}

// Evaluate runs one bounded DFS from trigger badge for user, always writing
// exactly one cascade log, even when the traversal aborts on an internal
// error.
func (e *Evaluator) Evaluate(ctx context.Context, userID, triggerBadge string, maxDepth int, timeout time.Duration) (Outcome, error) {
	start := time.Now()
	cctx := NewContext(maxDepth, timeout)
	cctx.Enter(triggerBadge)

	outcome := Outcome{}
	err := e.evaluateRecursive(ctx, userID, triggerBadge, cctx, &outcome)

	resultStatus := cascadelog.ResultCompleted
	switch {
	case err != nil:
		resultStatus = cascadelog.ResultError
	case len(outcome.Granted) == 0 && len(outcome.Blocked) == 0:
		resultStatus = cascadelog.ResultNoAction
	}

	entry := cascadelog.Entry{
		UserID:       userID,
		TriggerBadge: triggerBadge,
		Granted:      outcome.Granted,
		Blocked:      outcome.Blocked,
		Path:         append([]string{}, cctx.Path...),
		VisitedCount: len(cctx.Visited),
		Duration:     time.Since(start),
		ResultStatus: resultStatus,
	}
	if logErr := e.logs.SaveCascadeLog(ctx, entry); logErr != nil && e.log != nil {
		e.log.WithField("user_id", userID).WithField("trigger_badge", triggerBadge).
			Warnf("failed to persist cascade log: %v", logErr)
	}
	if e.metrics != nil {
		e.metrics.RecordCascade(string(resultStatus), cctx.Depth, len(outcome.Granted), time.Since(start))
	}
	return outcome, err
}

func (e *Evaluator) evaluateRecursive(ctx context.Context, userID, fromBadge string, cctx *Context, outcome *Outcome) error {
	graph := e.graph.Graph()
	candidates := graph.TriggeredBy(fromBadge)

	for _, candidateEdge := range candidates {
		candidate := candidateEdge.ToBadgeID

		if cctx.DepthExceeded() {
			outcome.Blocked = append(outcome.Blocked, cascadelog.Blocked{BadgeID: candidate, Reason: cascadelog.ReasonDepthExceeded})
			e.recordBlocked(cascadelog.ReasonDepthExceeded)
			continue
		}
		if cctx.TimedOut() {
			outcome.Blocked = append(outcome.Blocked, cascadelog.Blocked{BadgeID: candidate, Reason: cascadelog.ReasonTimeout})
			e.recordBlocked(cascadelog.ReasonTimeout)
			return nil
		}
		if cctx.HasCycle(candidate) {
			outcome.Blocked = append(outcome.Blocked, cascadelog.Blocked{BadgeID: candidate, Reason: cascadelog.ReasonCycleDetected})
			e.recordBlocked(cascadelog.ReasonCycleDetected)
			continue
		}

		satisfied, missing, err := e.checkPrerequisites(ctx, userID, candidate, graph)
		if err != nil {
			return err
		}
		if !satisfied {
			outcome.Blocked = append(outcome.Blocked, cascadelog.Blocked{BadgeID: candidate, Reason: cascadelog.ReasonPrerequisiteNotMet, Missing: missing})
			e.recordBlocked(cascadelog.ReasonPrerequisiteNotMet)
			continue
		}

		if conflict, other, err := e.checkExclusiveConflict(ctx, userID, candidate, graph); err != nil {
			return err
		} else if conflict {
			outcome.Blocked = append(outcome.Blocked, cascadelog.Blocked{BadgeID: candidate, Reason: cascadelog.ReasonExclusiveConflict, Other: other})
			e.recordBlocked(cascadelog.ReasonExclusiveConflict)
			continue
		}

		cctx.Enter(candidate)
		grantErr := e.granter.GrantCascade(ctx, userID, candidate, fromBadge)
		if grantErr != nil {
			outcome.Blocked = append(outcome.Blocked, cascadelog.Blocked{BadgeID: candidate, Reason: cascadelog.ReasonGrantSkipped})
			e.recordBlocked(cascadelog.ReasonGrantSkipped)
			if e.log != nil {
				e.log.WithField("badge_id", candidate).Warnf("cascade grant failed, continuing with siblings: %v", grantErr)
			}
			cctx.Leave()
			continue
		}
		outcome.Granted = append(outcome.Granted, candidate)

		if err := e.evaluateRecursive(ctx, userID, candidate, cctx, outcome); err != nil {
			cctx.Leave()
			return err
		}
		cctx.Leave()
	}
	return nil
}

func (e *Evaluator) recordBlocked(reason cascadelog.BlockReason) {
	if e.metrics != nil {
		e.metrics.RecordCascadeBlocked(string(reason))
	}
}

// checkPrerequisites evaluates candidate's dependency groups against the
// authoritative holdings store, delegating the group semantics to
// depgraph.CheckPrerequisites so the exact same logic governs both the
// cascade traversal and the grant service's own re-check.
func (e *Evaluator) checkPrerequisites(ctx context.Context, userID, candidate string, graph *depgraph.Graph) (bool, []string, error) {
	badgeIDs := depgraph.PrerequisiteBadgeIDs(graph, candidate)
	if len(badgeIDs) == 0 {
		return true, nil, nil
	}
	holdings, err := e.holdings.ActiveHoldings(ctx, userID, badgeIDs)
	if err != nil {
		return false, nil, err
	}
	satisfied, missing := depgraph.CheckPrerequisites(graph, holdings, candidate)
	return satisfied, missing, nil
}

func (e *Evaluator) checkExclusiveConflict(ctx context.Context, userID, candidate string, graph *depgraph.Graph) (bool, string, error) {
	members := depgraph.ExclusiveGroupBadgeIDs(graph, candidate)
	if len(members) == 0 {
		return false, "", nil
	}
	holdings, err := e.holdings.ActiveHoldings(ctx, userID, members)
	if err != nil {
		return false, "", err
	}
	conflict, other := depgraph.CheckExclusiveConflict(graph, holdings, candidate)
	return conflict, other, nil
}
