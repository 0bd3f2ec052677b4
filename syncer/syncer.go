package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dragonfly-science/github-mirroring/githubapi"
	"github.com/dragonfly-science/github-mirroring/internal/lock"
	"github.com/dragonfly-science/github-mirroring/repository"
)

const (
	defaultConcurrency   = 4
	defaultMirrorTimeout = 10 * time.Minute
	defaultDirMode       = os.FileMode(0755)
)

// ErrEnumeration marks a failed repository enumeration. The run is aborted
// before any mirror work, an incomplete repository list must not be treated
// as "nothing to do".
var ErrEnumeration = errors.New("repository enumeration failed")

// lister is the part of the githubapi client the syncer consumes
type lister interface {
	ListRepositories(ctx context.Context, owner string, access githubapi.Access, repoType githubapi.RepoType) ([]githubapi.Descriptor, error)
}

// mirrorer runs one mirror cycle for a single repository
type mirrorer interface {
	Mirror(ctx context.Context) error
	LastSynced() time.Time
}

// Config for one sync run
type Config struct {
	// Owner is the github user or organization to mirror
	Owner string `yaml:"owner"`

	// Access selects the listing endpoint, 'org', 'user' or 'auto'
	Access githubapi.Access `yaml:"github_access"`

	// RepoType narrows which repositories are mirrored,
	// 'all', 'owner', 'public', 'private' or 'member'
	RepoType githubapi.RepoType `yaml:"repository_type"`

	// IncludeForks keeps forked repositories in the mirror set
	IncludeForks bool `yaml:"include_forks"`

	// Root is the absolute path under which mirror dirs are created
	Root string `yaml:"root"`

	// Concurrency bounds the mirror worker pool
	Concurrency int `yaml:"concurrency"`

	// MirrorTimeout is the total time allowed for one repository's
	// mirror cycle
	MirrorTimeout time.Duration `yaml:"mirror_timeout"`

	// GitGC garbage collection string. valid values are
	// 'auto', 'always', 'aggressive' or 'off'
	GitGC string `yaml:"git_gc"`

	// PushHost is an optional downstream git host. When set every mirror
	// is pushed to '<push_host>:<name>' after a successful fetch.
	PushHost string `yaml:"push_host"`

	// Auth used for git fetches, usually shares the token with the
	// listing client
	Auth repository.Auth `yaml:"auth"`
}

// validateAndApplyDefaults verifies the run config before any network or
// disk work
func (c *Config) validateAndApplyDefaults() error {
	if c.Owner == "" {
		return fmt.Errorf("owner cannot be empty")
	}
	if !filepath.IsAbs(c.Root) {
		return fmt.Errorf("mirror root '%s' must be absolute", c.Root)
	}
	if c.Access == "" {
		c.Access = githubapi.AccessAuto
	}
	if !githubapi.ValidAccess(c.Access) {
		return fmt.Errorf("wrong github-access value '%s' provided, must be one of %s, %s, %s",
			c.Access, githubapi.AccessAuto, githubapi.AccessOrg, githubapi.AccessUser)
	}
	if c.RepoType == "" {
		c.RepoType = githubapi.TypePrivate
	}
	if !githubapi.ValidRepoType(c.RepoType) {
		return fmt.Errorf("wrong repository-type value '%s' provided, must be one of %s, %s, %s, %s, %s",
			c.RepoType, githubapi.TypeAll, githubapi.TypeOwner, githubapi.TypePublic, githubapi.TypePrivate, githubapi.TypeMember)
	}
	// 'owner' is an affiliation of a user, it has no meaning when listing
	// an organization
	if c.Access == githubapi.AccessOrg && c.RepoType == githubapi.TypeOwner {
		return fmt.Errorf("repository-type 'owner' cannot be combined with github-access 'org'")
	}
	// listing private repositories and fetching them both need a credential,
	// reject here rather than failing mid-run on the provider
	if (c.RepoType == githubapi.TypePrivate || c.RepoType == githubapi.TypeAll) &&
		c.Auth.Token == "" && c.Auth.GithubApp.Empty() {
		return fmt.Errorf("an auth token or github app config is required for repository-type '%s'", c.RepoType)
	}
	if c.Concurrency == 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	if c.MirrorTimeout == 0 {
		c.MirrorTimeout = defaultMirrorTimeout
	}
	if c.GitGC == "" {
		c.GitGC = "always"
	}
	return nil
}

// Syncer coordinates one run, list → plan → execute.
// A Syncer is safe for concurrent use, results are collected under lock.
type Syncer struct {
	conf    Config
	client  lister
	gitENVs []string
	log     *slog.Logger

	lock    lock.Mutex
	results []Result

	// newMirror is replaceable in tests
	newMirror func(task Task) (mirrorer, error)
}

// New creates a Syncer for the given run config.
// Configuration problems are reported here, before any network or disk work.
func New(conf Config, client lister, gitENVs []string, log *slog.Logger) (*Syncer, error) {
	if err := conf.validateAndApplyDefaults(); err != nil {
		return nil, err
	}

	if log == nil {
		log = slog.Default()
	}

	s := &Syncer{
		conf:    conf,
		client:  client,
		gitENVs: gitENVs,
		log:     log,
	}
	s.newMirror = s.newRepositoryMirror

	return s, nil
}

// newRepositoryMirror builds the real executor for one task
func (s *Syncer) newRepositoryMirror(task Task) (mirrorer, error) {
	repoConf := repository.Config{
		Name:          task.Repo.Name,
		Remote:        task.Repo.CloneURL,
		Root:          s.conf.Root,
		DefaultBranch: task.Repo.DefaultBranch,
		GitGC:         s.conf.GitGC,
		Auth:          s.conf.Auth,
	}
	if s.conf.PushHost != "" {
		repoConf.PushRemote = fmt.Sprintf("%s:%s", s.conf.PushHost, task.Repo.Name)
	}
	return repository.New(repoConf, s.gitENVs, s.log)
}

// Run drives enumeration, planning and execution in that order and returns
// the run summary. A nil summary with an error wrapping ErrEnumeration means
// no mirror work was attempted.
func (s *Syncer) Run(ctx context.Context) (*Summary, error) {
	repos, err := s.client.ListRepositories(ctx, s.conf.Owner, s.conf.Access, s.conf.RepoType)
	if err != nil {
		return nil, fmt.Errorf("%w: owner:%s err:%w", ErrEnumeration, s.conf.Owner, err)
	}

	if err := os.MkdirAll(s.conf.Root, defaultDirMode); err != nil {
		return nil, fmt.Errorf("unable to create mirror root err:%w", err)
	}

	inventory, err := LoadInventory(s.conf.Root)
	if err != nil {
		return nil, fmt.Errorf("unable to read mirror inventory err:%w", err)
	}

	tasks := BuildPlan(repos, FilterOptions{
		Owner:        s.conf.Owner,
		Type:         s.conf.RepoType,
		IncludeForks: s.conf.IncludeForks,
	}, inventory)

	// mirrors of repositories removed upstream are kept until an operator
	// removes them
	for _, name := range StaleMirrors(inventory, repos) {
		s.log.Info("local mirror no longer exists upstream, keeping it", "repo", name)
	}

	s.log.Info("mirror plan ready",
		"owner", s.conf.Owner, "enumerated", len(repos), "tasks", len(tasks))

	// each run summarises only its own results
	s.lock.Lock()
	s.results = nil
	s.lock.Unlock()

	s.execute(ctx, tasks)

	summary := summarise(s.results)
	s.log.Info("run complete",
		"attempted", summary.Attempted, "new", summary.New,
		"updated", summary.Updated, "failed", summary.Failed)

	return summary, nil
}

// execute runs tasks on a bounded pool of workers. Tasks operate on disjoint
// local paths, the only shared state is the task channel and the result
// collector.
func (s *Syncer) execute(ctx context.Context, tasks []Task) {
	taskChan := make(chan Task)

	var wg sync.WaitGroup
	for i := 0; i < s.conf.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskChan {
				s.appendResult(Result{Task: task, Err: s.runTask(ctx, task)})
			}
		}()
	}

	for _, task := range tasks {
		taskChan <- task
	}
	close(taskChan)

	wg.Wait()
}

// runTask executes one task, recovering any failure at the task boundary
func (s *Syncer) runTask(ctx context.Context, task Task) error {
	repo, err := s.newMirror(task)
	if err != nil {
		s.log.Error("unable to set up mirror", "repo", task.Repo.Name, "err", err)
		return err
	}

	mCtx, cancel := context.WithTimeout(ctx, s.conf.MirrorTimeout)
	defer cancel()

	if err := repo.Mirror(mCtx); err != nil {
		s.log.Error("repository mirror failed", "repo", task.Repo.Name, "action", task.Action, "err", err)
		return err
	}

	s.log.Debug("repository mirrored",
		"repo", task.Repo.Name, "action", task.Action, "last-synced", repo.LastSynced())
	return nil
}

func (s *Syncer) appendResult(res Result) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.results = append(s.results, res)
}
