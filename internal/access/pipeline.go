package access

import (
	"context"
)

type evalState int

const (
	stateBlacklist evalState = iota
	stateWhitelist
	stateRateLimit
	stateDecided
)

// EvalOpts is how the caller designates what protections apply to the endpoint a
// request targets. Endpoints not under whitelist protection bypass that evaluator
// entirely; an empty RateClass skips rate accounting.
type EvalOpts struct {
	WhitelistProtected bool
	RateClass          string
}

// Pipeline runs the fixed blacklist, whitelist, rate-limit order as an explicit
// state machine, short-circuiting on the first deny. Every evaluation produces
// exactly one audit record. A failed check is never retried.
type Pipeline struct {
	blacklist        *BlacklistChecker
	whitelist        *WhitelistChecker
	limiter          Limiter
	auditor          *Auditor
	whitelistEnabled bool
}

func NewPipeline(blacklist *BlacklistChecker, whitelist *WhitelistChecker, limiter Limiter,
	auditor *Auditor, whitelistEnabled bool,
) *Pipeline {
	return &Pipeline{
		blacklist:        blacklist,
		whitelist:        whitelist,
		limiter:          limiter,
		auditor:          auditor,
		whitelistEnabled: whitelistEnabled,
	}
}

func (p *Pipeline) Evaluate(ctx context.Context, request Request, opts EvalOpts) Decision {
	var (
		decision Decision
		matched  *WhitelistEntry
		state    = stateBlacklist
	)

	for state != stateDecided {
		switch state {
		case stateBlacklist:
			blocked, entry := p.blacklist.IsBlocked(ctx, request.Address)
			if blocked {
				decision = Decision{
					Result:      BlockedBlacklist,
					BlockReason: entry.Reason,
					RuleID:      &entry.BlacklistID,
					RuleKind:    RuleBlacklist,
				}
				state = stateDecided

				break
			}

			state = stateWhitelist

		case stateWhitelist:
			if !opts.WhitelistProtected {
				state = stateRateLimit

				break
			}

			if !p.whitelistEnabled {
				decision = Decision{Permit: true, Result: SkippedDisabled}
				state = stateDecided

				break
			}

			result := p.whitelist.Evaluate(ctx, request.Address, request.Endpoint, request.ClientID)
			if !result.Matched {
				decision = Decision{
					Result:      BlockedNotWhitelisted,
					BlockReason: "no whitelist rule matches request",
				}
				state = stateDecided

				break
			}

			entry := result.Entry
			matched = &entry
			state = stateRateLimit

		case stateRateLimit:
			if opts.RateClass != "" && !p.limiter.TryAcquire(request.Address, opts.RateClass) {
				decision = Decision{
					Result:      BlockedRateLimited,
					BlockReason: "request rate exceeded for " + opts.RateClass,
				}
				state = stateDecided

				break
			}

			decision = Decision{Permit: true, Result: Allowed}
			if matched != nil {
				decision.RuleID = &matched.WhitelistID
				decision.RuleKind = RuleWhitelist
			}

			state = stateDecided

		case stateDecided:
		}
	}

	decisionCounter.WithLabelValues(string(decision.Result)).Inc()
	p.auditor.Record(ctx, request, decision)

	return decision
}
