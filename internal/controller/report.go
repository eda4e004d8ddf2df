package controller

import (
	"visualqa/internal/store"
)

// Records converts a run report into its archive rows.
func (r *RunReport) Records() (store.RunRecord, []store.CaseRecord) {
	run := store.RunRecord{
		RunID:         r.RunID,
		GroupID:       r.GroupID,
		StartedAt:     r.StartedAt,
		Total:         r.Total,
		Passed:        r.Passed,
		AvgDurationMS: r.AvgDuration().Milliseconds(),
	}
	cases := make([]store.CaseRecord, 0, len(r.Results))
	for _, res := range r.Results {
		cases = append(cases, store.CaseRecord{
			RunID:   r.RunID,
			SiteKey: res.SiteKey,
			Stage:   string(res.Stage),
			Passed:  res.Passed,
			Score:   res.Score,
			Error:   res.Error,
		})
	}
	return run, cases
}
