package githubapi

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-github/v82/github"
)

func Test_newDescriptor(t *testing.T) {
	tests := []struct {
		name    string
		repo    *github.Repository
		want    Descriptor
		wantErr bool
	}{
		{
			"complete",
			&github.Repository{
				Name:          github.Ptr("repo1"),
				CloneURL:      github.Ptr("https://github.com/org/repo1.git"),
				Private:       github.Ptr(true),
				Fork:          github.Ptr(true),
				Owner:         &github.User{Login: github.Ptr("org")},
				DefaultBranch: github.Ptr("main"),
			},
			Descriptor{
				Name:          "repo1",
				CloneURL:      "https://github.com/org/repo1.git",
				Private:       true,
				Fork:          true,
				Owner:         "org",
				DefaultBranch: "main",
			},
			false,
		},
		{
			// repository without commits has no default branch reported
			"no-default-branch",
			&github.Repository{
				Name:     github.Ptr("empty-repo"),
				CloneURL: github.Ptr("https://github.com/org/empty-repo.git"),
				Owner:    &github.User{Login: github.Ptr("org")},
			},
			Descriptor{
				Name:     "empty-repo",
				CloneURL: "https://github.com/org/empty-repo.git",
				Owner:    "org",
			},
			false,
		},
		{
			"no-name",
			&github.Repository{
				CloneURL: github.Ptr("https://github.com/org/repo1.git"),
				Owner:    &github.User{Login: github.Ptr("org")},
			},
			Descriptor{},
			true,
		},
		{
			"no-clone-url",
			&github.Repository{
				Name:  github.Ptr("repo1"),
				Owner: &github.User{Login: github.Ptr("org")},
			},
			Descriptor{},
			true,
		},
		{
			"no-owner",
			&github.Repository{
				Name:     github.Ptr("repo1"),
				CloneURL: github.Ptr("https://github.com/org/repo1.git"),
			},
			Descriptor{},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := newDescriptor(tt.repo)
			if (err != nil) != tt.wantErr {
				t.Fatalf("newDescriptor() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("newDescriptor() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
