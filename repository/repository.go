package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/dragonfly-science/github-mirroring/giturl"
	"github.com/dragonfly-science/github-mirroring/internal/lock"
	"github.com/dragonfly-science/github-mirroring/internal/utils"
)

const (
	defaultDirMode fs.FileMode = os.FileMode(0755) // 'rwxr-xr-x'
	defaultRefSpec             = "+refs/*:refs/*"
)

var gitExecutablePath string

func init() {
	gitExecutablePath = exec.Command("git").String()
}

// ErrMirrorCollision is returned when the mirror's target path already
// exists but holds something other than a mirror of the configured remote.
// The path is never wiped or overwritten in that case.
var ErrMirrorCollision = errors.New("mirror path is occupied by something else")

type gcMode string

const (
	gcAuto       = "auto"
	gcAlways     = "always"
	gcAggressive = "aggressive"
	gcOff        = "off"
)

// Repository represents the local bare mirror of the given remote.
// A Repository is safe for concurrent use by multiple goroutines, though
// mirror cycles for the same repository are serialised by the lock.
type Repository struct {
	lock          lock.RWMutex // repository will be locked during mirror
	name          string       // repository name, mirror dir name is derived from it
	remote        string       // remote repo to mirror
	root          string       // absolute path to the root where the mirror dir is created
	dir           string       // absolute path to the mirror dir
	defaultBranch string       // remote default branch if known upfront
	pushRemote    string       // optional downstream remote for push --mirror
	auth          *Auth        // auth information including app or token details
	gitGC         gcMode       // garbage collection
	envs          []string     // envs which will be passed to git commands
	log           *slog.Logger

	githubAppToken          string
	githubAppTokenExpiresAt time.Time
}

// New creates new repository mirror from the given config.
// The remote repo will not be touched until Mirror() is called.
func New(repoConf Config, envs []string, log *slog.Logger) (*Repository, error) {
	if log == nil {
		log = slog.Default()
	}

	if err := repoConf.validate(); err != nil {
		return nil, err
	}

	remoteURL := giturl.NormaliseURL(repoConf.Remote)
	if !giturl.IsHTTPSURL(remoteURL) {
		return nil, fmt.Errorf("remote '%s' must be an https clone url", repoConf.Remote)
	}
	if _, err := giturl.Parse(remoteURL); err != nil {
		return nil, err
	}

	return &Repository{
		name:          repoConf.Name,
		remote:        remoteURL,
		root:          repoConf.Root,
		dir:           MirrorDir(repoConf.Root, repoConf.Name),
		defaultBranch: repoConf.DefaultBranch,
		pushRemote:    repoConf.PushRemote,
		auth:          &repoConf.Auth,
		gitGC:         gcMode(repoConf.GitGC),
		envs:          envs,
		log:           log.With("repo", repoConf.Name),
	}, nil
}

// Name returns the repository name
func (r *Repository) Name() string { return r.name }

// Remote returns the remote clone URL
func (r *Repository) Remote() string { return r.remote }

// Directory returns the mirror dir path
func (r *Repository) Directory() string { return r.dir }

// Mirror runs one mirror cycle of the repository
//  1. init or validate the existing mirror dir
//  2. fetch remote refs
//  3. push to the downstream remote if configured
//  4. gc if needed
func (r *Repository) Mirror(ctx context.Context) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	defer updateMirrorLatency(r.name, time.Now())

	start := time.Now()

	fresh, err := r.init(ctx)
	if err != nil {
		recordGitMirror(r.name, false)
		return fmt.Errorf("unable to init repo:%s  err:%w", r.name, err)
	}

	refs, err := r.fetch(ctx)
	if err != nil {
		recordGitMirror(r.name, false)
		return fmt.Errorf("unable to fetch repo:%s  err:%w", r.name, err)
	}

	fetchTime := time.Since(start)

	if r.pushRemote != "" {
		if err := r.push(ctx); err != nil {
			recordGitMirror(r.name, false)
			return fmt.Errorf("unable to push repo:%s downstream  err:%w", r.name, err)
		}
	}

	// gc can be skipped when nothing was fetched
	if fresh || len(refs) > 0 {
		if err := r.gc(ctx); err != nil {
			recordGitMirror(r.name, false)
			return fmt.Errorf("unable to gc repo:%s  err:%w", r.name, err)
		}
	}

	recordGitMirror(r.name, true)
	r.log.Info("mirror cycle complete",
		"time", time.Since(start), "fetch-time", fetchTime, "fresh", fresh, "updated-refs", len(refs))
	return nil
}

// Refs returns the mirror's current refs as a ref-name to hash map
func (r *Repository) Refs(ctx context.Context) (map[string]string, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	// git for-each-ref --format=%(objectname) %(refname)
	out, err := runGitCommand(ctx, r.log, r.envs, r.dir, "for-each-ref", "--format=%(objectname) %(refname)")
	if err != nil {
		return nil, err
	}

	refs := make(map[string]string)
	for line := range strings.Lines(out) {
		hash, ref, ok := strings.Cut(strings.TrimSpace(line), " ")
		if !ok {
			continue
		}
		refs[ref] = hash
	}
	return refs, nil
}

// LastSynced returns the time of the last completed fetch, inferred from the
// mirror's own file state. Zero time is returned for a mirror which never
// completed a fetch.
func (r *Repository) LastSynced() time.Time {
	r.lock.RLock()
	defer r.lock.RUnlock()

	// FETCH_HEAD is touched by every fetch, fall back to the dir itself
	// for a fresh clone of an empty remote
	for _, p := range []string{filepath.Join(r.dir, "FETCH_HEAD"), r.dir} {
		if fi, err := os.Stat(p); err == nil {
			return fi.ModTime()
		}
	}
	return time.Time{}
}

// init examines the mirror dir and determines if it is usable. A missing or
// empty dir is initialised as a fresh bare mirror. An occupied dir which is
// not a mirror of this remote is a collision and is never overwritten.
// Returns whether the dir was freshly initialised.
func (r *Repository) init(ctx context.Context) (bool, error) {
	_, err := os.Stat(r.dir)
	switch {
	case os.IsNotExist(err):
		// initial mirror
		r.log.Info("mirror directory does not exist, creating it", "path", r.dir)
		if err := os.MkdirAll(r.dir, defaultDirMode); err != nil {
			return false, fmt.Errorf("unable to create repo dir err:%w", err)
		}
	case err != nil:
		return false, fmt.Errorf("unable to verify repo dir err:%w", err)
	default:
		empty, err := utils.DirIsEmpty(r.dir)
		if err != nil {
			return false, fmt.Errorf("can't list repo directory err:%w", err)
		}
		if !empty {
			switch err := r.sanityCheckRepo(ctx); {
			case err == nil:
				r.log.Log(ctx, -8, "existing mirror directory is valid", "path", r.dir)
				return false, nil
			case errors.Is(err, ErrMirrorCollision):
				return false, err
			case ctx.Err() != nil:
				// a cancelled check says nothing about the dir
				return false, err
			default:
				// likely left over from a crashed run, the dir is ours
				// (correct remote) but unusable, so re-create it
				r.log.Error("mirror directory failed checks, re-creating...", "path", r.dir, "err", err)
				if err := utils.ReCreate(r.dir); err != nil {
					return false, fmt.Errorf("unable to re-create repo dir err:%w", err)
				}
			}
		}
	}

	r.log.Info("initializing mirror directory", "path", r.dir)
	// git init -q --bare
	if _, err := runGitCommand(ctx, r.log, r.envs, r.dir, "init", "-q", "--bare"); err != nil {
		return false, fmt.Errorf("unable to init repo err:%w", err)
	}

	// The "origin" remote has special meaning, like in relative-path submodules.
	// use --mirror=fetch to make sure everything in refs/* on the remote will
	// be directly mirrored into refs/* in the local repository.
	// git remote add --mirror=fetch origin <remote>
	if _, err := runGitCommand(ctx, r.log, r.envs, r.dir, "remote", "add", "--mirror=fetch", "origin", r.remote); err != nil {
		return false, fmt.Errorf("unable to set remote err:%w", err)
	}

	// point local HEAD at the remote default branch
	headBranch := r.defaultBranch
	if headBranch == "" {
		headBranch, err = r.getRemoteDefaultBranch(ctx)
		if err != nil {
			return false, fmt.Errorf("unable to get remote default branch err:%w", err)
		}
	}
	if !strings.HasPrefix(headBranch, "refs/heads/") {
		headBranch = "refs/heads/" + headBranch
	}
	// git symbolic-ref HEAD refs/heads/<branch>
	if _, err := runGitCommand(ctx, r.log, r.envs, r.dir, "symbolic-ref", "HEAD", headBranch); err != nil {
		return false, fmt.Errorf("unable to set HEAD err:%w", err)
	}

	if err := r.sanityCheckRepo(ctx); err != nil {
		return false, fmt.Errorf("can't initialize mirror directory err:%w", err)
	}

	return true, nil
}

// getRemoteDefaultBranch will run ls-remote to get HEAD of the remote
// and parse output to get default branch name
func (r *Repository) getRemoteDefaultBranch(ctx context.Context) (string, error) {
	envs := append(r.envs, r.authEnv(ctx)...)

	// git ls-remote --symref origin HEAD
	out, err := runGitCommand(ctx, r.log, envs, r.dir, "ls-remote", "--symref", "origin", "HEAD")
	if err != nil {
		return "", fmt.Errorf("unable to get default branch err:%w", err)
	}

	sections := remoteDefaultBranchRgx.FindStringSubmatch(out)

	if len(sections) == 2 {
		r.log.Info("fetched remote symbolic ref", "default-branch", sections[1])
		return sections[1], nil
	}

	return "", fmt.Errorf("unable to parse ls-remote output:%s sections:%s", out, sections)
}

// sanityCheckRepo tries to make sure that the mirror dir is a valid bare
// mirror of this repository's remote. A dir holding anything else results in
// ErrMirrorCollision, other failures mean the dir is ours but unusable.
func (r *Repository) sanityCheckRepo(ctx context.Context) error {
	// make sure repo is a bare repository
	// git rev-parse --is-bare-repository
	switch ok, err := runGitCommand(ctx, r.log, r.envs, r.dir, "rev-parse", "--is-bare-repository"); {
	case err != nil && strings.Contains(err.Error(), "not a git repository"):
		return fmt.Errorf("%w: path %s is not a git repository", ErrMirrorCollision, r.dir)
	case err != nil:
		// a failed command says nothing about what occupies the path
		return fmt.Errorf("unable to verify repo err:%w", err)
	case ok != "true":
		return fmt.Errorf("%w: path %s is not a bare repository", ErrMirrorCollision, r.dir)
	}

	// Check that this is actually the root of the repo.
	// git rev-parse --absolute-git-dir
	if root, err := runGitCommand(ctx, r.log, r.envs, r.dir, "rev-parse", "--absolute-git-dir"); err != nil {
		return fmt.Errorf("can't get repo git dir err:%w", err)
	} else if root != r.dir {
		return fmt.Errorf("%w: %s is under another repo rooted at %s", ErrMirrorCollision, r.dir, root)
	}

	// make sure origin exists with the correct remote URL
	// git config --get remote.origin.url
	if stdout, err := runGitCommand(ctx, r.log, r.envs, r.dir, "config", "--get", "remote.origin.url"); err != nil {
		return fmt.Errorf("can't get repo config remote.origin.url err:%w", err)
	} else if stdout != r.remote {
		return fmt.Errorf("%w: %s mirrors different remote %s", ErrMirrorCollision, r.dir, stdout)
	}

	// verify origin's fetch refspec
	// git config --get remote.origin.fetch
	if stdout, err := runGitCommand(ctx, r.log, r.envs, r.dir, "config", "--get", "remote.origin.fetch"); err != nil {
		return fmt.Errorf("can't get repo config remote.origin.fetch err:%w", err)
	} else if stdout != defaultRefSpec {
		return fmt.Errorf("repo configured with incorrect fetch refspec: %s", stdout)
	}

	// Consistency-check the repo.  Don't use --verbose because it can be
	// REALLY verbose.
	// git fsck --no-progress --connectivity-only
	if _, err := runGitCommand(ctx, r.log, r.envs, r.dir, "fsck", "--no-progress", "--connectivity-only"); err != nil {
		return fmt.Errorf("repo fsck failed err:%w", err)
	}

	return nil
}

// fetch calls git fetch to update all references, returns updated ref names
func (r *Repository) fetch(ctx context.Context) ([]string, error) {
	// adding --porcelain so output can be parsed for updated refs
	// do not use -v output it will print all refs
	args := []string{"fetch", "origin", "--prune", "--no-progress", "--porcelain", "--no-auto-gc"}

	envs := append(r.envs, r.authEnv(ctx)...)

	// git fetch origin --prune --no-progress --porcelain --no-auto-gc
	out, err := runGitCommand(ctx, r.log, envs, r.dir, args...)
	return updatedRefs(out), err
}

// push mirrors the full local ref set to the downstream remote.
// `--mirror` makes the downstream an exact copy, deleting refs removed
// upstream.
func (r *Repository) push(ctx context.Context) error {
	envs := r.envs
	if giturl.IsSCPURL(r.pushRemote) || giturl.IsSSHURL(r.pushRemote) {
		envs = append(envs, r.gitSSHCommand())
	}

	// git push --mirror <remote>
	if _, err := runGitCommand(ctx, r.log, envs, r.dir, "push", "--mirror", r.pushRemote); err != nil {
		return err
	}

	r.log.Info("pushed mirror downstream", "remote", r.pushRemote)
	return nil
}

// gc runs git's garbage collection based on the configured mode
func (r *Repository) gc(ctx context.Context) error {
	if r.gitGC == gcOff {
		return nil
	}

	args := []string{"gc"}
	switch r.gitGC {
	case gcAuto:
		args = append(args, "--auto")
	case gcAlways:
		// no extra flags
	case gcAggressive:
		args = append(args, "--aggressive")
	}
	if _, err := runGitCommand(ctx, r.log, r.envs, r.dir, args...); err != nil {
		return err
	}
	return nil
}
