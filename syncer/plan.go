package syncer

import (
	"os"
	"slices"
	"strings"

	"github.com/dragonfly-science/github-mirroring/githubapi"
)

// Action classifies what the executor has to do for one repository
type Action string

const (
	// ActionNew creates a fresh local mirror
	ActionNew Action = "new"
	// ActionUpdate fetches into the existing local mirror
	ActionUpdate Action = "update"
)

// Task is one queued unit of work pairing a repository with its
// classification
type Task struct {
	Repo   githubapi.Descriptor
	Action Action
}

// FilterOptions are the caller-selected predicates applied to the
// enumerated repository list
type FilterOptions struct {
	// Owner login the run was started for, used by the owner/member
	// predicates
	Owner string

	// Type narrows the set by visibility or affiliation
	Type githubapi.RepoType

	// IncludeForks keeps forked repositories in the set
	IncludeForks bool
}

// matches returns whether the descriptor satisfies the filter predicates.
// The provider-side type filter is re-applied here so the filtered set
// matches the predicate exactly regardless of what the endpoint supported.
func (opts FilterOptions) matches(d githubapi.Descriptor) bool {
	if d.Fork && !opts.IncludeForks {
		return false
	}

	switch opts.Type {
	case githubapi.TypeAll:
		return true
	case githubapi.TypeOwner:
		return strings.EqualFold(d.Owner, opts.Owner)
	case githubapi.TypeMember:
		return !strings.EqualFold(d.Owner, opts.Owner)
	case githubapi.TypePublic:
		return !d.Private
	case githubapi.TypePrivate:
		return d.Private
	}
	return false
}

// BuildPlan applies the filter predicates and classifies every surviving
// repository against the local inventory: absent locally is NEW, present is
// UPDATE. Task order is the insertion order of the filtered list, so the
// plan is deterministic for a given input.
func BuildPlan(repos []githubapi.Descriptor, opts FilterOptions, inventory map[string]bool) []Task {
	var tasks []Task

	for _, d := range repos {
		if !opts.matches(d) {
			continue
		}

		action := ActionNew
		if inventory[d.Name] {
			action = ActionUpdate
		}
		tasks = append(tasks, Task{Repo: d, Action: action})
	}

	return tasks
}

// LoadInventory scans the mirror root and returns the names of existing
// local mirrors. Only `<name>.git` directories count, anything else under
// the root is ignored. The scan is read-only.
func LoadInventory(root string) (map[string]bool, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	inventory := make(map[string]bool)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name, found := strings.CutSuffix(entry.Name(), ".git")
		if !found || name == "" {
			continue
		}
		inventory[name] = true
	}
	return inventory, nil
}

// StaleMirrors returns names of local mirrors whose repository is no longer
// present upstream. Stale mirrors are reported, never deleted, removal is an
// operator decision.
func StaleMirrors(inventory map[string]bool, repos []githubapi.Descriptor) []string {
	remote := make(map[string]bool, len(repos))
	for _, d := range repos {
		remote[d.Name] = true
	}

	var stale []string
	for name := range inventory {
		if !remote[name] {
			stale = append(stale, name)
		}
	}
	slices.Sort(stale)
	return stale
}
