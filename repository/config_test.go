package repository

import (
	"testing"

	"github.com/dragonfly-science/github-mirroring/githubauth"
)

func TestConfig_validate(t *testing.T) {
	tests := []struct {
		name    string
		conf    Config
		wantErr bool
	}{
		{"valid", Config{Name: "repo1", Remote: "https://github.com/org/repo1.git", Root: "/mirrors", GitGC: "always"}, false},
		{"valid-dotted-name", Config{Name: "repo.name_v2-x", Remote: "https://github.com/org/repo.git", Root: "/mirrors", GitGC: "off"}, false},
		{"empty-name", Config{Name: "", Root: "/mirrors", GitGC: "always"}, true},
		{"name-with-slash", Config{Name: "org/repo", Root: "/mirrors", GitGC: "always"}, true},
		{"name-dot", Config{Name: ".", Root: "/mirrors", GitGC: "always"}, true},
		{"name-dot-dot", Config{Name: "..", Root: "/mirrors", GitGC: "always"}, true},
		{"relative-root", Config{Name: "repo1", Root: "mirrors", GitGC: "always"}, true},
		{"bad-gc", Config{Name: "repo1", Root: "/mirrors", GitGC: "sometimes"}, true},
		{"incomplete-app-config", Config{Name: "repo1", Root: "/mirrors", GitGC: "always",
			Auth: Auth{GithubApp: githubauth.AppConfig{AppID: "123"}}}, true},
		{"complete-app-config", Config{Name: "repo1", Root: "/mirrors", GitGC: "always",
			Auth: Auth{GithubApp: githubauth.AppConfig{AppID: "123", InstallationID: "456", PrivateKeyPath: "/key.pem"}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.conf.validate(); (err != nil) != tt.wantErr {
				t.Errorf("Config.validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMirrorDir(t *testing.T) {
	tests := []struct {
		name     string
		root     string
		repoName string
		want     string
	}{
		{"1", "/mirrors", "repo1", "/mirrors/repo1.git"},
		{"2", "/var/lib/github-mirror", "some.repo_v2", "/var/lib/github-mirror/some.repo_v2.git"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MirrorDir(tt.root, tt.repoName); got != tt.want {
				t.Errorf("MirrorDir() = %v, want %v", got, tt.want)
			}
		})
	}
}
