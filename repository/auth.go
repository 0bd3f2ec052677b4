package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dragonfly-science/github-mirroring/githubauth"
)

const loadCredsScript = `#!/bin/sh

case "$1" in
  Username*) echo "$REPO_USERNAME" ;;
  Password*) echo "$REPO_PASSWORD" ;;
esac
`

// authEnv returns git env vars supplying credentials for the https remote.
// credentials are injected via GIT_ASKPASS and never embedded in the remote
// url, so tokens don't end up in the repo config or process listings.
func (r *Repository) authEnv(ctx context.Context) []string {
	var username, password string
	switch {
	// if username & token is set use that
	case r.auth.Username != "" && r.auth.Token != "":
		username = r.auth.Username
		password = r.auth.Token

	// if only token is set use that
	case r.auth.Token != "":
		username = "-" // username is required
		password = r.auth.Token

	// if github app config is set use that token
	case !r.auth.GithubApp.Empty():
		token, err := r.getGithubAppToken(ctx)
		if err != nil {
			r.log.Error("unable to get github app token", "err", err)
			return nil
		}
		username = "-" // username is required
		password = token

	default:
		return nil
	}

	credsLoader, err := r.ensureCredsLoader()
	if err != nil {
		r.log.Error("unable to write load creds script file", "err", err)
		return nil
	}

	return []string{
		fmt.Sprintf(`GIT_ASKPASS=%s`, credsLoader),
		fmt.Sprintf(`REPO_USERNAME=%s`, username),
		fmt.Sprintf(`REPO_PASSWORD=%s`, password),
	}
}

func (r *Repository) ensureCredsLoader() (string, error) {
	credsLoader := filepath.Join(r.dir, "github-mirror-creds-loader.sh")

	_, err := os.Stat(credsLoader)
	switch {
	case os.IsNotExist(err):
		if err := os.WriteFile(credsLoader, []byte(loadCredsScript), 0750); err != nil {
			return "", err
		}
	case err != nil:
		return "", fmt.Errorf("unable to check if script file exists err:%w", err)
	}

	return credsLoader, nil
}

// gitSSHCommand returns the environment variable to be used for configuring
// git over ssh, needed for ssh/scp push remotes.
func (r *Repository) gitSSHCommand() string {
	sshKeyPath := r.auth.SSHKeyPath
	if sshKeyPath == "" {
		sshKeyPath = "/dev/null"
	}
	knownHostsOptions := "-o UserKnownHostsFile=/dev/null -o StrictHostKeyChecking=no"
	if r.auth.SSHKeyPath != "" && r.auth.SSHKnownHostsPath != "" {
		knownHostsOptions = fmt.Sprintf("-o UserKnownHostsFile=%s", r.auth.SSHKnownHostsPath)
	}
	return fmt.Sprintf(`GIT_SSH_COMMAND=ssh -q -F none -o IdentitiesOnly=yes -o IdentityFile=%s %s`, sshKeyPath, knownHostsOptions)
}

func (r *Repository) getGithubAppToken(ctx context.Context) (string, error) {
	// return token if current token is valid for next 10 min
	if r.githubAppTokenExpiresAt.After(time.Now().UTC().Add(10 * time.Minute)) {
		return r.githubAppToken, nil
	}

	// github matches repo name without `.git` for token req permissions
	permissions := githubauth.AppTokenReqPermissions{
		Repositories: []string{r.name},
		Permissions:  map[string]string{"contents": "read"},
	}

	token, err := githubauth.AppInstallationToken(ctx, r.auth.GithubApp, permissions)
	if err != nil {
		return "", err
	}

	r.githubAppToken = token.Token
	r.githubAppTokenExpiresAt = token.ExpiresAt

	r.log.Debug("new github app access token created")

	return r.githubAppToken, nil
}
