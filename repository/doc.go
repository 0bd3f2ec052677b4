// Package repository creates and updates a local bare mirror of one remote
// repository. The mirror is created with `--mirror=fetch` hence everything in
// `refs/*` on the remote will be directly mirrored into `refs/*` in the local
// repository. Fetch is idempotent and safe to re-run after an interrupted
// mirror cycle.
//
// The implementation borrows heavily from [kubernetes/git-sync].
//
// An optional push remote turns the local mirror into a relay: after every
// successful fetch the full ref set is pushed with `--mirror` to the
// configured downstream host.
//
// # Logging:
//
// package takes slog reference for logging and prints logs up to 'trace' level
//
// Example:
//
//	loggerLevel  = new(slog.LevelVar)
//	levelStrings = map[string]slog.Level{
//		"trace": slog.Level(-8),
//		"debug": slog.LevelDebug,
//		"info":  slog.LevelInfo,
//		"warn":  slog.LevelWarn,
//		"error": slog.LevelError,
//	}
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//		Level: loggerLevel,
//	}))
//	loggerLevel.Set(levelStrings["trace"])
//
//	repo, err := repository.New(repoConf, nil, logger)
//	if err != nil {
//		panic(err)
//	}
//
// [kubernetes/git-sync]: https://github.com/kubernetes/git-sync
package repository
