// Command xnotehostd is the plugin runtime host daemon: it loads its
// configuration, wires whichever collaborator adapters are enabled, and
// serves diagnostics until it receives a shutdown signal.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/xnote-app/plugin-runtime/internal/collaborators/chaintrigger"
	"github.com/xnote-app/plugin-runtime/internal/collaborators/manifeststore"
	"github.com/xnote-app/plugin-runtime/internal/collaborators/policycache"
	"github.com/xnote-app/plugin-runtime/internal/collaborators/triggerbus"
	"github.com/xnote-app/plugin-runtime/internal/config"
	"github.com/xnote-app/plugin-runtime/internal/diagnostics"
	"github.com/xnote-app/plugin-runtime/pkg/logger"
	"github.com/xnote-app/plugin-runtime/pkg/plugin"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("xnotehostd exited: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("XNOTE_HOSTD_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "xnotehostd.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	policy := policyFromConfig(cfg.Policy)

	resolver := plugin.NewWorkerResolver(cfg.Worker.BinaryName, cfg.Worker.EnvOverride, cfg.Worker.Args)
	runtime := plugin.NewProcessRuntime(policy, resolver)
	defer runtime.Close()

	if err := wireManifestDir(cfg, runtime); err != nil {
		return err
	}

	if err := wireManifestStore(ctx, cfg, runtime); err != nil {
		return err
	}

	stopPolicyWatch, err := wirePolicyCache(ctx, cfg, runtime)
	if err != nil {
		return err
	}
	if stopPolicyWatch != nil {
		defer stopPolicyWatch()
	}

	triggerCtx, triggerCancel := context.WithCancel(ctx)
	defer triggerCancel()

	if err := wireTriggerBus(triggerCtx, cfg, runtime); err != nil {
		return err
	}
	if err := wireChainTrigger(triggerCtx, cfg, runtime); err != nil {
		return err
	}

	server := diagnostics.NewServer(cfg.Server.Address, runtime)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func policyFromConfig(pc config.PolicyConfig) plugin.Policy {
	policy := plugin.DefaultPolicy()
	policy.MaxFailedActivations = pc.MaxFailedActivations
	policy.ActivationTimeoutMillis = pc.ActivationTimeoutMillis
	policy.RuntimeMode = plugin.RuntimeMode(pc.RuntimeMode)
	policy.SessionPingTimeoutMillis = pc.SessionPingTimeoutMillis
	policy.MaxKeepAliveSessions = pc.MaxKeepAliveSessions
	policy.SessionIdleTTLMillis = pc.SessionIdleTTLMillis
	policy.SupportedProtocolVersions = pc.SupportedProtocolVersions
	policy.KeepAliveSession = pc.KeepAliveSession
	if pc.CountCancelledAsFailure != nil {
		policy.CountCancelledAsFailure = *pc.CountCancelledAsFailure
	}
	for _, c := range pc.AllowedCapabilities {
		policy.AllowedCapabilities = append(policy.AllowedCapabilities, plugin.Capability(c))
	}
	return policy.Normalize()
}

func wireManifestDir(cfg *config.Config, runtime *plugin.Runtime) error {
	if cfg.ManifestDir == "" {
		return nil
	}
	manifests, err := plugin.LoadManifestDir(cfg.ManifestDir)
	if err != nil {
		return fmt.Errorf("load manifest directory: %w", err)
	}
	for _, manifest := range manifests {
		if err := runtime.Register(manifest); err != nil {
			logger.L().Warn("skipping manifest file", "plugin_id", manifest.ID, "error", err)
		}
	}
	return nil
}

func wireManifestStore(ctx context.Context, cfg *config.Config, runtime *plugin.Runtime) error {
	if !cfg.Collaborators.ManifestStore.Enabled {
		return nil
	}
	store, err := manifeststore.New(cfg.Collaborators.ManifestStore.DSN)
	if err != nil {
		return fmt.Errorf("wire manifest store: %w", err)
	}
	manifests, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load persisted manifests: %w", err)
	}
	for _, manifest := range manifests {
		if err := runtime.Register(manifest); err != nil {
			logger.L().Warn("skipping persisted manifest", "plugin_id", manifest.ID, "error", err)
		}
	}
	return nil
}

func wirePolicyCache(ctx context.Context, cfg *config.Config, runtime *plugin.Runtime) (func(), error) {
	if !cfg.Collaborators.PolicyCache.Enabled {
		return nil, nil
	}
	source, err := policycache.NewSource(policycache.Config{
		Address: cfg.Collaborators.PolicyCache.Address,
		Channel: cfg.Collaborators.PolicyCache.Channel,
	})
	if err != nil {
		return nil, fmt.Errorf("wire policy cache: %w", err)
	}

	if current, err := source.Current(ctx); err == nil {
		runtime.SetPolicy(current)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	go func() {
		if err := source.Watch(watchCtx, runtime.SetPolicy); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Warn("policy cache watch stopped", "error", err)
		}
	}()

	return func() {
		cancel()
		_ = source.Close()
	}, nil
}

func wireTriggerBus(ctx context.Context, cfg *config.Config, runtime *plugin.Runtime) error {
	if !cfg.Collaborators.TriggerBus.Enabled {
		return nil
	}
	source, err := triggerbus.NewSource(triggerbus.Config{
		URL:     cfg.Collaborators.TriggerBus.URL,
		Queue:   cfg.Collaborators.TriggerBus.Queue,
		Durable: true,
	})
	if err != nil {
		return fmt.Errorf("wire trigger bus: %w", err)
	}

	go func() {
		defer source.Close()
		err := source.Run(ctx, func(tag string) {
			runtime.Trigger(ctx, plugin.ActivationEvent(tag))
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Warn("trigger bus stopped", "error", err)
		}
	}()
	return nil
}

func wireChainTrigger(ctx context.Context, cfg *config.Config, runtime *plugin.Runtime) error {
	if !cfg.Collaborators.ChainTrigger.Enabled {
		return nil
	}
	source, err := chaintrigger.NewSource(ctx, chaintrigger.Config{RPCURL: cfg.Collaborators.ChainTrigger.RPCURL})
	if err != nil {
		return fmt.Errorf("wire chain trigger: %w", err)
	}

	go func() {
		defer source.Close()
		err := source.Run(ctx, func(tag string) {
			runtime.Trigger(ctx, plugin.ActivationEvent(tag))
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Warn("chain trigger stopped", "error", err)
		}
	}()
	return nil
}
