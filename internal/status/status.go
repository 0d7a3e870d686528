// Package status folds the latest result per check into a traffic-light
// rollup per instance.
package status

import (
	"context"

	"github.com/convomesh/sentinel/internal/domain"
	"github.com/convomesh/sentinel/internal/repo"
)

type Aggregator struct {
	results repo.ResultStore
}

func NewAggregator(results repo.ResultStore) *Aggregator {
	return &Aggregator{results: results}
}

// Rollup computes the status of every instance from the newest stored result
// of each check. Red means a required check is failing, amber means required
// data is missing or only degraded signals (optional failures, skips), green
// means every required check passed.
func (a *Aggregator) Rollup(ctx context.Context, instances []domain.Instance) ([]domain.InstanceRollup, error) {
	last, err := a.results.LastByCheck(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.InstanceRollup, 0, len(instances))
	for _, inst := range instances {
		out = append(out, rollupInstance(inst, last))
	}
	return out, nil
}

func rollupInstance(inst domain.Instance, last map[string]*domain.ResultRecord) domain.InstanceRollup {
	r := domain.InstanceRollup{
		ID:      inst.ID,
		Name:    inst.Name,
		Enabled: inst.Enabled,
		Tags:    inst.Tags,
		Status:  domain.StatusGreen,
		Checks:  make([]domain.CheckStatus, 0, len(inst.Checks)),
	}

	anyFail, anyWarn := false, false
	for _, def := range inst.Checks {
		cs := domain.CheckStatus{ID: def.ID, Name: def.Name, Severity: def.Severity}
		rec := last[def.Key()]

		switch {
		case rec == nil:
			// never ran: a required check with no data is a concern,
			// an optional one is not
			if def.Severity != domain.SeverityOptional {
				anyWarn = true
			}
		default:
			ok := rec.OK
			at := rec.CheckedAt
			cs.OK = &ok
			cs.CheckedAt = &at
			cs.StatusCode = rec.StatusCode
			cs.DurationMS = rec.DurationMS
			cs.ErrorText = rec.ErrorText

			if !rec.OK {
				switch {
				case def.Severity == domain.SeverityOptional:
					// informational only
				case domain.IsSkippedText(rec.ErrorText):
					anyWarn = true
				default:
					anyFail = true
				}
			}
		}
		r.Checks = append(r.Checks, cs)
	}

	if anyFail {
		r.Status = domain.StatusRed
	} else if anyWarn {
		r.Status = domain.StatusAmber
	}
	return r
}
