package githubapi

import (
	"fmt"

	"github.com/google/go-github/v82/github"
)

// Descriptor is the normalised, provider-independent representation of one
// remote repository. It is immutable once fetched.
type Descriptor struct {
	// Name is unique within the owner
	Name string
	// CloneURL is the https url used to fetch the repository
	CloneURL string
	// Private is true for private repositories
	Private bool
	// Fork is true if the repository is a fork
	Fork bool
	// Owner is the login of the owning user or organization
	Owner string
	// DefaultBranch is the remote HEAD branch, may be empty for
	// repositories without any commits
	DefaultBranch string
}

// newDescriptor maps a provider repository object into the fixed Descriptor
// shape. Missing required fields are an error here rather than a nil
// dereference somewhere downstream.
func newDescriptor(repo *github.Repository) (Descriptor, error) {
	d := Descriptor{
		Name:          repo.GetName(),
		CloneURL:      repo.GetCloneURL(),
		Private:       repo.GetPrivate(),
		Fork:          repo.GetFork(),
		Owner:         repo.Owner.GetLogin(),
		DefaultBranch: repo.GetDefaultBranch(),
	}

	if d.Name == "" {
		return d, fmt.Errorf("repository object without a name")
	}
	if d.CloneURL == "" {
		return d, fmt.Errorf("repository '%s' object without a clone url", d.Name)
	}
	if d.Owner == "" {
		return d, fmt.Errorf("repository '%s' object without an owner login", d.Name)
	}

	return d, nil
}
