package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dragonfly-science/github-mirroring/githubapi"
	"github.com/dragonfly-science/github-mirroring/githubauth"
	"github.com/dragonfly-science/github-mirroring/repository"
)

type fakeLister struct {
	repos []githubapi.Descriptor
	err   error
}

func (f *fakeLister) ListRepositories(ctx context.Context, owner string, access githubapi.Access, repoType githubapi.RepoType) ([]githubapi.Descriptor, error) {
	return f.repos, f.err
}

type fakeMirror struct {
	name string
	err  error

	running *atomic.Int32
	peak    *atomic.Int32
}

func (f *fakeMirror) Mirror(ctx context.Context) error {
	if f.running != nil {
		now := f.running.Add(1)
		for {
			peak := f.peak.Load()
			if now <= peak || f.peak.CompareAndSwap(peak, now) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		f.running.Add(-1)
	}
	return f.err
}

func (f *fakeMirror) LastSynced() time.Time {
	return time.Now()
}

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Owner:    "acme",
		Access:   githubapi.AccessOrg,
		RepoType: githubapi.TypeAll,
		Root:     t.TempDir(),
		Auth:     repository.Auth{Token: "s3cret"},
	}
}

func TestConfig_validateAndApplyDefaults(t *testing.T) {
	tests := []struct {
		name    string
		conf    Config
		wantErr bool
	}{
		{"valid", Config{Owner: "acme", Root: "/mirrors",
			Auth: repository.Auth{Token: "s3cret"}}, false},
		{"empty-owner", Config{Root: "/mirrors"}, true},
		{"relative-root", Config{Owner: "acme", Root: "mirrors"}, true},
		{"bad-access", Config{Owner: "acme", Root: "/mirrors", Access: "team"}, true},
		{"bad-type", Config{Owner: "acme", Root: "/mirrors", RepoType: "huge"}, true},
		{"org-with-owner-type", Config{Owner: "acme", Root: "/mirrors",
			Access: githubapi.AccessOrg, RepoType: githubapi.TypeOwner}, true},
		{"user-with-owner-type", Config{Owner: "acme", Root: "/mirrors",
			Access: githubapi.AccessUser, RepoType: githubapi.TypeOwner}, false},
		{"negative-concurrency", Config{Owner: "acme", Root: "/mirrors", Concurrency: -1,
			Auth: repository.Auth{Token: "s3cret"}}, true},
		// private is the default repository-type, a tokenless config must be
		// rejected before any network or disk work
		{"default-type-without-credentials", Config{Owner: "acme", Root: "/mirrors"}, true},
		{"private-without-credentials", Config{Owner: "acme", Root: "/mirrors",
			RepoType: githubapi.TypePrivate}, true},
		{"all-without-credentials", Config{Owner: "acme", Root: "/mirrors",
			RepoType: githubapi.TypeAll}, true},
		{"private-with-token", Config{Owner: "acme", Root: "/mirrors",
			RepoType: githubapi.TypePrivate, Auth: repository.Auth{Token: "s3cret"}}, false},
		{"private-with-github-app", Config{Owner: "acme", Root: "/mirrors",
			RepoType: githubapi.TypePrivate,
			Auth: repository.Auth{GithubApp: githubauth.AppConfig{
				AppID: "123", InstallationID: "456", PrivateKeyPath: "/key.pem"}}}, false},
		{"public-without-credentials", Config{Owner: "acme", Root: "/mirrors",
			RepoType: githubapi.TypePublic}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.conf.validateAndApplyDefaults()
			if (err != nil) != tt.wantErr {
				t.Fatalf("validateAndApplyDefaults() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			// defaults must be filled in on the valid path
			if tt.conf.Access == "" || tt.conf.RepoType == "" ||
				tt.conf.Concurrency == 0 || tt.conf.MirrorTimeout == 0 || tt.conf.GitGC == "" {
				t.Errorf("validateAndApplyDefaults() left defaults unset: %+v", tt.conf)
			}
		})
	}
}

func TestNew_privateWithoutCredentials(t *testing.T) {
	conf := testConfig(t)
	conf.RepoType = githubapi.TypePrivate
	conf.Auth = repository.Auth{}

	// a missing credential is a configuration problem, it must be caught
	// here and never reach the provider as an enumeration failure
	_, err := New(conf, &fakeLister{}, nil, nil)
	if err == nil {
		t.Fatalf("expected error for tokenless private config")
	}
	if errors.Is(err, ErrEnumeration) {
		t.Errorf("New() error = %v, must not be an enumeration failure", err)
	}
}

func TestSyncer_Run_enumerationFailure(t *testing.T) {
	client := &fakeLister{err: fmt.Errorf("api is down")}

	s, err := New(testConfig(t), client, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	summary, err := s.Run(context.Background())
	if !errors.Is(err, ErrEnumeration) {
		t.Fatalf("Run() error = %v, want ErrEnumeration", err)
	}
	if summary != nil {
		t.Errorf("Run() summary = %v, want nil, no mirror work should be attempted", summary)
	}
}

func TestSyncer_Run_failureIsolation(t *testing.T) {
	client := &fakeLister{repos: []githubapi.Descriptor{
		descriptor("a", "acme", false, false),
		descriptor("b", "acme", false, false),
		descriptor("c", "acme", false, false),
	}}

	s, err := New(testConfig(t), client, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.newMirror = func(task Task) (mirrorer, error) {
		if task.Repo.Name == "b" {
			return &fakeMirror{name: "b", err: fmt.Errorf("fetch failed")}, nil
		}
		return &fakeMirror{name: task.Repo.Name}, nil
	}

	summary, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.Attempted != 3 || summary.New != 2 || summary.Failed != 1 {
		t.Errorf("Run() summary = %+v, want attempted:3 new:2 failed:1", summary)
	}
	if summary.Success() {
		t.Errorf("Run() summary reports success with a failed task")
	}
	if len(summary.Failures) != 1 || summary.Failures[0].Task.Repo.Name != "b" {
		t.Errorf("Run() failures = %v, want failure of b", summary.Failures)
	}
}

func TestSyncer_Run_classification(t *testing.T) {
	conf := testConfig(t)

	// pre-existing mirror dir makes 'b' an update
	if err := os.Mkdir(filepath.Join(conf.Root, "b.git"), 0755); err != nil {
		t.Fatalf("failed to make a temp subdir: %v", err)
	}

	client := &fakeLister{repos: []githubapi.Descriptor{
		descriptor("a", "acme", false, false),
		descriptor("b", "acme", false, false),
	}}

	s, err := New(conf, client, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var gotActions []Action
	s.newMirror = func(task Task) (mirrorer, error) {
		gotActions = append(gotActions, task.Action)
		return &fakeMirror{name: task.Repo.Name}, nil
	}
	// single worker keeps task order deterministic
	s.conf.Concurrency = 1

	summary, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if diff := cmp.Diff([]Action{ActionNew, ActionUpdate}, gotActions); diff != "" {
		t.Errorf("Run() actions mismatch (-want +got):\n%s", diff)
	}
	if summary.New != 1 || summary.Updated != 1 {
		t.Errorf("Run() summary = %+v, want new:1 updated:1", summary)
	}
}

func TestSyncer_Run_boundedConcurrency(t *testing.T) {
	var repos []githubapi.Descriptor
	for i := 0; i < 20; i++ {
		repos = append(repos, descriptor(fmt.Sprintf("repo%d", i), "acme", false, false))
	}
	client := &fakeLister{repos: repos}

	conf := testConfig(t)
	conf.Concurrency = 3

	s, err := New(conf, client, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var running, peak atomic.Int32
	s.newMirror = func(task Task) (mirrorer, error) {
		return &fakeMirror{name: task.Repo.Name, running: &running, peak: &peak}, nil
	}

	summary, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.Attempted != 20 || summary.Failed != 0 {
		t.Errorf("Run() summary = %+v, want attempted:20 failed:0", summary)
	}
	if got := peak.Load(); got > 3 {
		t.Errorf("observed %d concurrent mirrors, want at most 3", got)
	}
}

func TestSyncer_Run_secondRunStartsFresh(t *testing.T) {
	client := &fakeLister{repos: []githubapi.Descriptor{
		descriptor("a", "acme", false, false),
		descriptor("b", "acme", false, false),
	}}

	s, err := New(testConfig(t), client, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.newMirror = func(task Task) (mirrorer, error) {
		return &fakeMirror{name: task.Repo.Name}, nil
	}

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// the second run must not fold the first run's results into its summary
	summary, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Attempted != 2 {
		t.Errorf("Run() summary = %+v, want attempted:2", summary)
	}
}

func TestSyncer_Run_setupFailureIsRecorded(t *testing.T) {
	client := &fakeLister{repos: []githubapi.Descriptor{
		descriptor("a", "acme", false, false),
	}}

	s, err := New(testConfig(t), client, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.newMirror = func(task Task) (mirrorer, error) {
		return nil, fmt.Errorf("bad remote url")
	}

	summary, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Attempted != 1 || summary.Failed != 1 {
		t.Errorf("Run() summary = %+v, want attempted:1 failed:1", summary)
	}
}

func TestSummary_String(t *testing.T) {
	summary := summarise([]Result{
		{Task: Task{Repo: descriptor("a", "acme", false, false), Action: ActionNew}},
		{Task: Task{Repo: descriptor("z", "acme", false, false), Action: ActionUpdate},
			Err: fmt.Errorf("fetch failed")},
		{Task: Task{Repo: descriptor("b", "acme", false, false), Action: ActionUpdate},
			Err: fmt.Errorf("push failed")},
	})

	want := "attempted:3 new:1 updated:0 failed:2" +
		"\n  b (update): push failed" +
		"\n  z (update): fetch failed"
	if got := summary.String(); got != want {
		t.Errorf("Summary.String() = %q, want %q", got, want)
	}
}
