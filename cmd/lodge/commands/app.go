package commands

import (
	"context"
	"log"
	"strings"

	"github.com/dyluth/lodge/internal/archive"
	"github.com/dyluth/lodge/internal/config"
	"github.com/dyluth/lodge/internal/contract"
	"github.com/dyluth/lodge/internal/locks"
	"github.com/dyluth/lodge/internal/mailbox"
	"github.com/dyluth/lodge/internal/printer"
	"github.com/dyluth/lodge/internal/render"
	"github.com/dyluth/lodge/internal/watch"
	"github.com/dyluth/lodge/internal/workspace"
	"github.com/dyluth/lodge/pkg/board"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// app carries process-level settings shared by every command.
type app struct {
	v *viper.Viper
}

// services is everything a command needs to touch the board.
type services struct {
	root     string
	cfg      *config.LodgeConfig
	store    *board.Store
	bus      *mailbox.Bus
	locks    *locks.Manager
	protocol *contract.Protocol
	archive  *archive.Archive
	redis    *redis.Client
}

func (s *services) layout() board.Layout {
	return s.store.Layout()
}

// Close releases the archive database and the Redis connection.
func (s *services) Close() {
	if s.archive != nil {
		if err := s.archive.Close(); err != nil {
			log.Printf("[WARN] Failed to close archive: %v", err)
		}
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
}

// resolveRoot returns the canonical coordination root.
func (a *app) resolveRoot() (string, error) {
	root, err := workspace.Resolve(a.v.GetString("root"), "")
	if err != nil {
		return "", printer.Error("Cannot find coordination root", err.Error(), []string{
			"Pass --root <dir> or set LODGE_ROOT",
			"Run 'lodge init' in the project root",
		})
	}
	return root, nil
}

// agent returns override when set, otherwise --agent / LODGE_AGENT.
// role names the flag in the error ("agent", "from", "by").
func (a *app) agent(override, role string) (string, error) {
	name := strings.TrimSpace(override)
	if name == "" {
		name = strings.TrimSpace(a.v.GetString("agent"))
	}
	if name == "" {
		flag := "--agent"
		if role != "agent" {
			flag = "--" + role + " or --agent"
		}
		return "", printer.Error("Missing agent name",
			"This command acts as an agent, but no name was given.",
			[]string{"Pass " + flag + " <name>", "Set LODGE_AGENT in the agent's environment"})
	}
	return name, nil
}

func (a *app) format() (render.OutputFormat, error) {
	f, err := render.ParseFormat(a.v.GetString("output"))
	if err != nil {
		return "", printer.Error("Invalid output format", err.Error(), nil)
	}
	return f, nil
}

// open resolves the root, loads lodge.yml and wires the board services.
// The archive and Redis are optional: when they cannot be opened the
// command still runs, with a warning.
func (a *app) open(ctx context.Context) (*services, error) {
	root, err := a.resolveRoot()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadRoot(root)
	if err != nil {
		return nil, printer.ErrorWithContext("Invalid configuration", err.Error(),
			map[string]string{"Root": root}, []string{"Fix lodge.yml, or regenerate it with 'lodge init --force'"})
	}

	s := &services{root: root, cfg: cfg}
	s.store, err = board.Open(root, board.Options{
		GateTimeout: cfg.Gate.TimeoutDuration,
		GateRetry:   cfg.Gate.RetryDuration,
	})
	if err != nil {
		return nil, printer.FromError("open the coordination store", err)
	}

	if cfg.Notify.RedisURL != "" {
		client, err := watch.NewRedisClient(ctx, cfg.Notify.RedisURL)
		if err != nil {
			log.Printf("[WARN] Redis notifications disabled: %v", err)
		} else {
			s.redis = client
			s.store.SetNotifier(watch.NewRedisNotifier(client, cfg.Namespace))
		}
	}

	busOpts := mailbox.Options{Retention: cfg.Mailbox.Retention}
	if arch, err := archive.Open(s.store.Layout().ArchivePath()); err != nil {
		log.Printf("[WARN] Message archive disabled: %v", err)
	} else {
		s.archive = arch
		busOpts.Archiver = arch
	}

	s.bus = mailbox.New(s.store, busOpts)
	s.locks = locks.New(s.store, s.bus, locks.Options{DefaultTTL: cfg.Locks.TTLDuration, Notify: cfg.Locks.Notify})
	s.protocol = contract.New(s.store, s.bus, s.locks, contract.Options{
		HeartbeatFloor:    cfg.Contracts.HeartbeatFloorDuration,
		EnforceSafeguards: cfg.Contracts.EnforceSafeguards,
	})
	return s, nil
}
