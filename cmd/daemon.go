package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ccb-dev/ccb/internal/adapter"
	"github.com/ccb-dev/ccb/internal/config"
	"github.com/ccb-dev/ccb/internal/debuglog"
	"github.com/ccb-dev/ccb/internal/descriptor"
	"github.com/ccb-dev/ccb/internal/notify"
	"github.com/ccb-dev/ccb/internal/resolver"
	"github.com/ccb-dev/ccb/internal/rpc"
	"github.com/ccb-dev/ccb/internal/signal"
	"github.com/ccb-dev/ccb/internal/terminal"
	"github.com/ccb-dev/ccb/internal/worker"
)

var (
	daemonWorkDir    string
	daemonWezTermBin string
	daemonITerm2Bin  string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the per-provider request broker daemon",
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&daemonWorkDir, "work-dir", ".", "project root this daemon instance serves")
	daemonCmd.Flags().StringVar(&daemonWezTermBin, "wezterm-bin", "", "override path to the wezterm binary")
	daemonCmd.Flags().StringVar(&daemonITerm2Bin, "iterm2-bin", "", "override path to the iTerm2 helper binary")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	workDir, err := filepath.Abs(daemonWorkDir)
	if err != nil {
		return fmt.Errorf("resolve work dir: %w", err)
	}

	cfg, err := config.Load(provider, workDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Enabled {
		return fmt.Errorf("daemon disabled for provider %q (CCB_%s=0)", provider, strings.ToUpper(protocolPrefix(provider)))
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	log = log.With("provider", provider, "pid", os.Getpid())

	ctx, cancel := signal.NotifyContext()
	defer cancel()

	backend, ok := terminal.Detect(daemonWezTermBin, daemonITerm2Bin)
	if !ok {
		return fmt.Errorf("no terminal backend detected (need TMUX, wezterm, or iTerm2)")
	}
	log.Info("terminal backend detected", "backend", backend.Name())

	transcriptRoot := providerTranscriptRoot(provider, cfg)
	res := resolver.New(backend, resolver.BindOptions{
		TranscriptRoot: transcriptRoot,
		ScanLimit:      cfg.BindScanLimit,
		FirstWindow:    cfg.LogFirstWindow,
	})
	defer res.Close()

	debugLogPath := filepath.Join(filepath.Dir(defaultStateFilePath(provider)), fmt.Sprintf("ccb-%s-debug.jsonl", provider))
	debugWriter, err := debuglog.OpenWriter(debugLogPath)
	if err != nil {
		log.Warn("could not open debug log, continuing without audit trail", "path", debugLogPath, "err", err)
	} else {
		defer debugWriter.Close()
	}

	homeDir, _ := os.UserHomeDir()
	registry, err := descriptor.OpenRegistry(
		filepath.Join(homeDir, ".ccb", "run", "pane-registry.db"),
		filepath.Join(homeDir, ".ccb", "run"),
	)
	if err != nil {
		log.Warn("could not open pane registry, continuing without it", "err", err)
	} else {
		defer registry.Close()
		go pruneRegistryPeriodically(ctx, registry, log)
	}

	notifyCfg, err := notify.Load(notify.ConfigPath(workDir))
	if err != nil {
		log.Warn("could not load notify config, falling back to log notifier", "err", err)
	}

	ad := &adapter.Adapter{
		Provider:          provider,
		Backend:           backend,
		Resolver:          res,
		Registry:          registry,
		Notifier:          notify.Build(notifyCfg, log),
		Log:               log,
		DebugLog:          debugWriter,
		PaneCheckInterval: cfg.PaneCheckInterval,
		RebindTailBytes:   cfg.RebindTailBytes,
		PollInterval:      cfg.PollInterval,
		EmptyLineRunLimit: cfg.EmptyLineRunLimit,
		NoiseLineRunLimit: cfg.NoiseLineRunLimit,
	}

	keyFunc := func(ctx context.Context, req worker.Request) (string, error) {
		b, err := res.Resolve(ctx, provider, req.WorkDir)
		if err != nil {
			return "", err
		}
		return b.SessionKey, nil
	}
	pool := worker.New(ad.Handle, keyFunc)

	token, err := rpc.NewToken()
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}

	server := &rpc.Server{
		Prefix:      protocolPrefix(provider),
		Token:       token,
		Pool:        pool,
		IdleTimeout: cfg.IdleTimeout,
		Log:         log,
	}
	host, port, err := server.Listen()
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	stateFilePath := cfg.StateFile
	if stateFilePath == "" {
		stateFilePath = filepath.Join(homeDir, ".ccb", "run", fmt.Sprintf("ccb-%s.json", provider))
	}
	startedAt := time.Now()
	if err := rpc.WriteStateFile(stateFilePath, rpc.StateFileData{
		PID: os.Getpid(), Host: host, ConnectHost: "127.0.0.1", Port: port,
		Token: token, StartedAt: startedAt.Unix(),
	}); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	defer rpc.RemoveStateFileIfOwned(stateFilePath, os.Getpid())

	log.Info("daemon listening", "host", host, "port", port, "state_file", stateFilePath)

	return server.Run(ctx)
}

// pruneRegistryPeriodically evicts stale PaneRegistry rows every 10
// minutes until ctx is cancelled.
func pruneRegistryPeriodically(ctx context.Context, registry *descriptor.Registry, log *slog.Logger) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := registry.Prune(); err != nil {
				log.Warn("pane registry prune failed", "err", err)
			}
		}
	}
}

// protocolPrefix maps a provider name to its wire-protocol prefix, used as
// the leading field of every request/response envelope on the wire.
func protocolPrefix(p string) string {
	switch p {
	case "claude":
		return "lask"
	case "codex":
		return "cask"
	case "gemini":
		return "gask"
	case "opencode":
		return "oask"
	default:
		return p
	}
}

func providerTranscriptRoot(p string, cfg *config.Config) string {
	switch p {
	case "claude":
		if cfg.ClaudeProjectsRoot != "" {
			return cfg.ClaudeProjectsRoot
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".claude", "projects")
	case "codex":
		if cfg.CodexSessionRoot != "" {
			return cfg.CodexSessionRoot
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".codex", "sessions")
	case "opencode":
		if cfg.OpenCodeStorageRoot != "" {
			return cfg.OpenCodeStorageRoot
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "opencode")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "."+p, "sessions")
	}
}
