package repository

import (
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/dragonfly-science/github-mirroring/githubauth"
)

// repository names can contain ASCII letters, digits, and the
// characters ., - and _
var validNameRgx = regexp.MustCompile(`^[\w\-\.]+$`)

// Config represents the config for the mirrored repository
// of the given remote.
type Config struct {
	// Name of the repository, unique within the owner. The mirror
	// directory name is derived from it.
	Name string `yaml:"name"`

	// Remote is the https clone URL of the remote repo to mirror
	Remote string `yaml:"remote"`

	// Root is the absolute path to the root dir where the mirror dir
	// will be created
	Root string `yaml:"root"`

	// DefaultBranch of the remote if known. When set, local HEAD is
	// pointed at it without an extra remote call on first clone.
	DefaultBranch string `yaml:"default_branch"`

	// PushRemote is an optional downstream remote. After every successful
	// fetch the full ref set is pushed there with `--mirror`.
	PushRemote string `yaml:"push_remote"`

	// GitGC garbage collection string. valid values are
	// 'auto', 'always', 'aggressive' or 'off'
	GitGC string `yaml:"git_gc"`

	// Auth config to fetch the remote repo
	Auth Auth `yaml:"auth"`
}

// Auth represents authentication config of the repository
type Auth struct {
	// username to use for token based authentication, a bare token
	// works without one
	Username string `yaml:"username"`

	// personal access token (or password) to use for authentication
	Token string `yaml:"token"`

	// SSH details, used for ssh/scp push remotes
	// path to the ssh key used to push downstream
	SSHKeyPath string `yaml:"ssh_key_path"`

	// path to the known hosts of the downstream host
	SSHKnownHostsPath string `yaml:"ssh_known_hosts_path"`

	// Github App details, an alternative to the token
	GithubApp githubauth.AppConfig `yaml:",inline"`
}

// validate verifies the config and makes sure the mirror dir name can be
// derived from the repository name
func (c *Config) validate() error {
	if !validNameRgx.MatchString(c.Name) ||
		c.Name == "." || c.Name == ".." {
		return fmt.Errorf("repository name '%s' is invalid", c.Name)
	}

	if !filepath.IsAbs(c.Root) {
		return fmt.Errorf("repository root '%s' must be absolute", c.Root)
	}

	switch gcMode(c.GitGC) {
	case gcAuto, gcAlways, gcAggressive, gcOff:
	default:
		return fmt.Errorf("wrong gc value provided, must be one of %s, %s, %s, %s",
			gcAuto, gcAlways, gcAggressive, gcOff)
	}

	return c.Auth.GithubApp.Validate()
}

// MirrorDir returns the deterministic path of the bare mirror dir for the
// given repository name. The `.git` suffix indicates a bare repo and makes
// it safe to tell mirrors apart from other directories under the root.
func MirrorDir(root, name string) string {
	return filepath.Join(root, name+".git")
}
