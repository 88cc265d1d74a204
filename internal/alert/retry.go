package alert

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/contracts"
)

type SweepReport struct {
	Skipped    bool
	Candidates int
	Sent       int
	Failed     int
	Exhausted  int
	Lost       int
	DryRun     int
}

// RetrySweep re-attempts failed dispatches that still have budget, oldest
// first. At most one sweep runs at a time per dispatcher; a concurrent call
// returns a report with Skipped set. Across processes each claimed row is
// leased for RetryLease, so a row mid-send is neither listed nor claimable.
func (d *Dispatcher) RetrySweep(ctx context.Context) (SweepReport, error) {
	if !d.sweeping.TryAcquire(1) {
		return SweepReport{Skipped: true}, nil
	}
	defer d.sweeping.Release(1)

	now := d.now()
	since := now.Add(-d.opts.RetryLookback)
	candidates, err := d.log.RetryCandidates(ctx, since, now, d.opts.MaxAttempts, d.opts.RetryBatchSize)
	if err != nil {
		return SweepReport{}, err
	}

	report := SweepReport{Candidates: len(candidates)}
	for _, rec := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if d.opts.DryRun {
			report.DryRun++
			d.record(Result{Recipient: rec.Recipient, AlertKey: rec.AlertKey, Outcome: OutcomeDryRun, Attempt: rec.AttemptNumber + 1}, rec.Route)
			continue
		}

		claimedAt := d.now()
		claimed, err := d.log.ClaimRetry(ctx, rec.ID, rec.AttemptNumber, d.opts.MaxAttempts, claimedAt, claimedAt.Add(d.opts.RetryLease))
		if err != nil {
			return report, err
		}
		if !claimed {
			report.Lost++
			d.record(Result{Recipient: rec.Recipient, AlertKey: rec.AlertKey, Outcome: OutcomeRetryLost}, rec.Route)
			continue
		}
		attempt := rec.AttemptNumber + 1

		var decision contracts.Decision
		var res Result
		if payloadErr := decodePayload(rec.DecisionPayload, &decision); payloadErr != nil {
			base := Result{Recipient: rec.Recipient, AlertKey: rec.AlertKey, Attempt: attempt}
			res, err = d.complete(ctx, rec, base, "", payloadErr)
		} else {
			res, err = d.deliver(ctx, rec, attempt, decision)
		}
		if err != nil {
			return report, err
		}

		switch res.Outcome {
		case OutcomeSent:
			report.Sent++
		case OutcomeRetryExhausted:
			report.Exhausted++
		default:
			report.Failed++
		}
		d.record(res, rec.Route)
	}
	return report, nil
}

func decodePayload(raw []byte, decision *contracts.Decision) error {
	if err := json.Unmarshal(raw, decision); err != nil {
		return fmt.Errorf("%w: %v", errInvalidPayload, err)
	}
	if decision.Route == "" {
		return fmt.Errorf("%w: missing route", errInvalidPayload)
	}
	return nil
}
