package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dragonfly-science/github-mirroring/githubapi"
	"github.com/dragonfly-science/github-mirroring/githubauth"
	"github.com/dragonfly-science/github-mirroring/repository"
	"github.com/dragonfly-science/github-mirroring/syncer"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func Test_parseConfigFile(t *testing.T) {
	path := writeConfigFile(t, `
owner: dragonfly-science
github_access: org
repository_type: private
include_forks: true
root: /mnt/mirrors
concurrency: 8
mirror_timeout: 5m
git_gc: aggressive
push_host: git@backup-host
auth:
  token: s3cret
  ssh_key_path: /etc/git-secret/ssh
  github_app_id: "1234"
  github_app_installation_id: "5678"
  github_app_private_key_path: /etc/git-secret/app.pem
`)

	got, err := parseConfigFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := &syncer.Config{
		Owner:         "dragonfly-science",
		Access:        githubapi.AccessOrg,
		RepoType:      githubapi.TypePrivate,
		IncludeForks:  true,
		Root:          "/mnt/mirrors",
		Concurrency:   8,
		MirrorTimeout: 5 * time.Minute,
		GitGC:         "aggressive",
		PushHost:      "git@backup-host",
		Auth: repository.Auth{
			Token:      "s3cret",
			SSHKeyPath: "/etc/git-secret/ssh",
			GithubApp: githubauth.AppConfig{
				AppID:          "1234",
				InstallationID: "5678",
				PrivateKeyPath: "/etc/git-secret/app.pem",
			},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parseConfigFile() mismatch (-want +got):\n%s", diff)
	}
}

func Test_parseConfigFile_unexpectedKeys(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantKey string
	}{
		{
			"top-level-typo",
			"owner: acme\nconcurency: 4\n",
			".concurency",
		},
		{
			"auth-typo",
			"owner: acme\nauth:\n  tokn: s3cret\n",
			".auth.tokn",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.content)
			_, err := parseConfigFile(path)
			if err == nil {
				t.Fatalf("expected error for unexpected key")
			}
			if !strings.Contains(err.Error(), tt.wantKey) {
				t.Errorf("parseConfigFile() error = %v, want mention of %s", err, tt.wantKey)
			}
		})
	}
}

func Test_getAllowedKeys_inline(t *testing.T) {
	got := getAllowedKeys(repository.Auth{})

	// inlined github app keys belong to the auth section
	for _, key := range []string{"username", "token", "github_app_id", "github_app_installation_id", "github_app_private_key_path"} {
		found := false
		for _, k := range got {
			if k == key {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("getAllowedKeys() = %v, missing %s", got, key)
		}
	}
}
