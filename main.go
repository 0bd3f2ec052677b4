package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"

	"github.com/dragonfly-science/github-mirroring/githubapi"
	"github.com/dragonfly-science/github-mirroring/githubauth"
	"github.com/dragonfly-science/github-mirroring/repository"
	"github.com/dragonfly-science/github-mirroring/syncer"
	"golang.org/x/oauth2"
)

// exit codes form the scripting contract of the tool
const (
	exitOK            = 0
	exitConfigError   = 1
	exitListError     = 2
	exitMirrorFailure = 3
)

var (
	loggerLevel = new(slog.LevelVar)
	logger      *slog.Logger

	levelStrings = map[string]slog.Level{
		"trace": slog.Level(-8),
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}

	mirrorRootPath = path.Join(os.TempDir(), "github-mirror")

	flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Sources: cli.EnvVars("GITHUB_MIRROR_CONFIG"),
			Usage:   "Absolute path to the config file.",
		},
		&cli.StringFlag{
			Name:    "owner",
			Sources: cli.EnvVars("GITHUB_MIRROR_OWNER"),
			Usage:   "GitHub user or organization to mirror.",
		},
		&cli.StringFlag{
			Name:    "root",
			Sources: cli.EnvVars("GITHUB_MIRROR_ROOT"),
			Usage:   "Absolute path to the dir where mirrors are created.",
		},
		&cli.StringFlag{
			Name:  "github-access",
			Usage: "Listing endpoint to use, one of 'auto', 'org' or 'user'.",
		},
		&cli.StringFlag{
			Name:  "repository-type",
			Usage: "Repository filter, one of 'all', 'owner', 'public', 'private' or 'member'.",
		},
		&cli.BoolFlag{
			Name:  "include-forks",
			Usage: "Also mirror forked repositories.",
		},
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "Number of repositories mirrored in parallel.",
		},
		&cli.DurationFlag{
			Name:  "mirror-timeout",
			Usage: "Total time allowed for one repository's mirror cycle.",
		},
		&cli.StringFlag{
			Name:  "git-gc",
			Usage: "Garbage collection mode, one of 'auto', 'always', 'aggressive' or 'off'.",
		},
		&cli.StringFlag{
			Name:  "push-host",
			Usage: "Optional downstream git host, mirrors are pushed to '<push-host>:<name>'.",
		},
		&cli.StringFlag{
			Name:    "github-token",
			Sources: cli.EnvVars("GITHUB_OAUTH_TOKEN", "GITHUB_TOKEN"),
			Usage:   "GitHub access token, should be set via the environment.",
		},
		&cli.StringFlag{
			Name:  "github-api-url",
			Usage: "GitHub API base url, only needed for GitHub Enterprise.",
		},
		&cli.StringFlag{
			Name:    "metrics-addr",
			Sources: cli.EnvVars("GITHUB_MIRROR_METRICS_ADDR"),
			Usage:   "Listen address for the prometheus metrics endpoint, disabled when empty.",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Sources: cli.EnvVars("LOG_LEVEL"),
			Value:   "info",
			Usage:   "Log level",
		},
	}
)

func init() {
	loggerLevel.Set(slog.LevelInfo)
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: loggerLevel,
	}))
}

// loadSyncConfig merges the optional config file with command line flags,
// flags win over file values
func loadSyncConfig(c *cli.Command) (*syncer.Config, error) {
	conf := &syncer.Config{}

	if path := c.String("config"); path != "" {
		var err error
		conf, err = parseConfigFile(path)
		if err != nil {
			return nil, fmt.Errorf("unable to parse config file err:%w", err)
		}
	}

	if c.IsSet("owner") {
		conf.Owner = c.String("owner")
	}
	if c.IsSet("root") {
		conf.Root = c.String("root")
	}
	if c.IsSet("github-access") {
		conf.Access = githubapi.Access(c.String("github-access"))
	}
	if c.IsSet("repository-type") {
		conf.RepoType = githubapi.RepoType(c.String("repository-type"))
	}
	if c.IsSet("include-forks") {
		conf.IncludeForks = c.Bool("include-forks")
	}
	if c.IsSet("concurrency") {
		conf.Concurrency = c.Int("concurrency")
	}
	if c.IsSet("mirror-timeout") {
		conf.MirrorTimeout = c.Duration("mirror-timeout")
	}
	if c.IsSet("git-gc") {
		conf.GitGC = c.String("git-gc")
	}
	if c.IsSet("push-host") {
		conf.PushHost = c.String("push-host")
	}
	if token := c.String("github-token"); token != "" {
		conf.Auth.Token = token
	}

	if conf.Root == "" {
		conf.Root = mirrorRootPath
	}

	return conf, nil
}

// newListingClient builds the api client with the same credentials the git
// fetches will use
func newListingClient(conf *syncer.Config, baseURL string) (*githubapi.Client, error) {
	apiConf := githubapi.Config{
		Token:   conf.Auth.Token,
		BaseURL: baseURL,
	}

	if apiConf.Token == "" && !conf.Auth.GithubApp.Empty() {
		ts := githubauth.NewAppTokenSource(conf.Auth.GithubApp, githubauth.AppTokenReqPermissions{})
		apiConf.TokenSource = oauth2.ReuseTokenSource(nil, ts)
	}

	return githubapi.NewClient(apiConf, logger.With("logger", "githubapi"))
}

func serveMetrics(addr string) {
	githubapi.EnableMetrics("", prometheus.DefaultRegisterer)
	repository.EnableMetrics("", prometheus.DefaultRegisterer)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		server := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		if err := server.ListenAndServe(); err != nil {
			logger.Error("metrics server terminated", "err", err)
		}
	}()
}

func main() {
	cmd := &cli.Command{
		Name:  "github-mirror",
		Usage: "github-mirror keeps local bare mirrors of a GitHub owner's repositories.",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {

			// set log level according to argument
			if v, ok := levelStrings[strings.ToLower(c.String("log-level"))]; ok {
				loggerLevel.Set(v)
			}

			conf, err := loadSyncConfig(c)
			if err != nil {
				logger.Error("unable to load config", "err", err)
				os.Exit(exitConfigError)
			}

			if addr := c.String("metrics-addr"); addr != "" {
				serveMetrics(addr)
			}

			client, err := newListingClient(conf, c.String("github-api-url"))
			if err != nil {
				logger.Error("unable to create github client", "err", err)
				os.Exit(exitConfigError)
			}

			// path to resolve the git binary
			gitENV := []string{fmt.Sprintf("PATH=%s", os.Getenv("PATH"))}

			sync, err := syncer.New(*conf, client, gitENV, logger.With("logger", "syncer"))
			if err != nil {
				logger.Error("invalid sync config", "err", err)
				os.Exit(exitConfigError)
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			summary, err := sync.Run(ctx)
			if err != nil {
				// a missing credential is a configuration problem, not a
				// provider failure
				if errors.Is(err, githubapi.ErrTokenRequired) {
					logger.Error("missing credentials for requested repository type", "err", err)
					os.Exit(exitConfigError)
				}
				if errors.Is(err, syncer.ErrEnumeration) {
					logger.Error("repository enumeration failed, no mirror work attempted", "err", err)
					os.Exit(exitListError)
				}
				logger.Error("sync run failed", "err", err)
				os.Exit(exitListError)
			}

			fmt.Println(summary)
			if !summary.Success() {
				os.Exit(exitMirrorFailure)
			}

			return nil
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger.Error("failed to run app", "err", err)
		os.Exit(exitConfigError)
	}
}
