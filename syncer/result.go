package syncer

import (
	"fmt"
	"slices"
	"strings"
)

// Result is the outcome of one executed task
type Result struct {
	Task Task
	Err  error
}

// Summary aggregates the results of one run
type Summary struct {
	// Attempted is the number of executed tasks
	Attempted int
	// New is the number of freshly created mirrors
	New int
	// Updated is the number of refreshed mirrors
	Updated int
	// Failed is the number of tasks which errored
	Failed int
	// Failures holds the failed results, sorted by repository name, with
	// enough detail to re-run just the failed subset
	Failures []Result
}

// Success returns whether every executed task succeeded
func (s *Summary) Success() bool {
	return s.Failed == 0
}

func (s *Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "attempted:%d new:%d updated:%d failed:%d",
		s.Attempted, s.New, s.Updated, s.Failed)
	for _, f := range s.Failures {
		fmt.Fprintf(&b, "\n  %s (%s): %v", f.Task.Repo.Name, f.Task.Action, f.Err)
	}
	return b.String()
}

// summarise folds results into counts plus per-failure detail
func summarise(results []Result) *Summary {
	s := &Summary{Attempted: len(results)}

	for _, res := range results {
		if res.Err != nil {
			s.Failed++
			s.Failures = append(s.Failures, res)
			continue
		}
		switch res.Task.Action {
		case ActionNew:
			s.New++
		case ActionUpdate:
			s.Updated++
		}
	}

	slices.SortFunc(s.Failures, func(a, b Result) int {
		return strings.Compare(a.Task.Repo.Name, b.Task.Repo.Name)
	})

	return s
}
