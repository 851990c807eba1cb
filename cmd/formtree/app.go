package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aretw0/formtree"
	"github.com/aretw0/formtree/internal/config"
	"github.com/aretw0/formtree/internal/logging"
	"github.com/aretw0/formtree/pkg/adapters/file"
	loamadapter "github.com/aretw0/formtree/pkg/adapters/loam"
	"github.com/aretw0/formtree/pkg/adapters/memory"
	"github.com/aretw0/formtree/pkg/adapters/redis"
	"github.com/aretw0/formtree/pkg/adapters/sqlite"
	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/persistence/middleware"
	"github.com/aretw0/formtree/pkg/ports"
	"github.com/aretw0/formtree/pkg/session"
	backend "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// app is the environment shared by the commands: configuration, logger and store.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	store   ports.FormStore
	locker  ports.DistributedLocker
	closers []func() error
}

func newApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path, cmd.Flags().Changed("config"))
	if err != nil {
		return nil, err
	}
	if driver, _ := cmd.Flags().GetString("store"); driver != "" {
		cfg.Store.Driver = driver
	}
	if dir, _ := cmd.Flags().GetString("templates"); dir != "" {
		cfg.Templates = dir
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	lvl, _ := cfg.Level()
	a := &app{cfg: cfg, logger: logging.New(lvl, logging.WithJSON(cfg.LogFormat == "json"))}
	if err := a.openStore(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// openStore builds the configured FormStore, wrapped with redaction and
// encryption, and the distributed locker when enabled.
func (a *app) openStore() error {
	cfg := a.cfg
	var client *backend.Client
	if cfg.Store.Driver == config.DriverRedis || cfg.Store.Redis.Lock {
		client = backend.NewClient(&backend.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
	}

	var base ports.FormStore
	switch cfg.Store.Driver {
	case config.DriverMemory:
		base = memory.NewStore()
	case config.DriverFile:
		base = file.New(cfg.StorePath())
	case config.DriverSQLite:
		path := cfg.StorePath()
		if dir := filepath.Dir(path); path != ":memory:" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create store directory: %w", err)
			}
		}
		db, err := sqlite.NewWithDSN(path)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		base = db
	case config.DriverRedis:
		var opts []redis.Option
		if cfg.Store.Redis.Prefix != "" {
			opts = append(opts, redis.WithPrefix(cfg.Store.Redis.Prefix))
		}
		if cfg.Store.Redis.TTL > 0 {
			opts = append(opts, redis.WithTTL(cfg.Store.Redis.TTL))
		}
		base = redis.NewFromClient(client, opts...)
	}

	var mws []middleware.Middleware
	if cfg.Redact.Enabled {
		patterns := cfg.Redact.Patterns
		if len(patterns) == 0 {
			patterns = middleware.DefaultSecretPatterns
		}
		mws = append(mws, middleware.NewPIIMiddleware(patterns))
	}
	if cfg.Encryption.Key != "" {
		active, fallback, err := cfg.Keys()
		if err != nil {
			return err
		}
		mws = append(mws, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
			ActiveKey:    active,
			FallbackKeys: fallback,
		}))
	}
	a.store = middleware.Chain(base, mws...)

	if cfg.Store.Redis.Lock {
		a.locker = redis.NewLocker(client, "formtree:")
	}
	a.logger.Debug("store opened", "driver", cfg.Store.Driver, "middlewares", len(mws), "distributed_lock", a.locker != nil)
	return nil
}

// Close releases the store connections.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// editorConfig is the configured editor behavior.
func (a *app) editorConfig() formtree.Config {
	return a.cfg.Editor.Formtree()
}

// manager builds a session manager over the store. Editors get the
// configured behavior plus opts.
func (a *app) manager(opts ...formtree.Option) *session.Manager {
	editorOpts := append([]formtree.Option{formtree.WithConfig(a.editorConfig())}, opts...)
	mopts := []session.Option{
		session.WithLogger(a.logger),
		session.WithEditorOptions(editorOpts...),
	}
	if a.locker != nil {
		mopts = append(mopts, session.WithLocker(a.locker))
		if ttl := a.cfg.Store.Redis.LockTTL; ttl > 0 {
			mopts = append(mopts, session.WithLockTTL(ttl))
		}
	}
	if a.cfg.Store.Pull > 0 {
		mopts = append(mopts, session.WithPull(a.cfg.Store.Pull))
	}
	return session.NewManager(a.store, mopts...)
}

// templates opens the template library, or returns nil when none is configured.
func (a *app) templates() (*loamadapter.Loader, error) {
	if a.cfg.Templates == "" {
		return nil, nil
	}
	repo, err := loamadapter.Open(a.cfg.Templates)
	if err != nil {
		return nil, fmt.Errorf("failed to open templates: %w", err)
	}
	return loamadapter.New(repo), nil
}

// readEditor opens a form for reading: arg is a file (JSON or YAML, current
// or legacy shape) or the id of a stored form. Autosave is off.
func (a *app) readEditor(ctx context.Context, arg string) (*formtree.Editor, error) {
	cfg := a.editorConfig()
	cfg.Autosave.Enabled = false
	opts := []formtree.Option{formtree.WithConfig(cfg), formtree.WithLogger(a.logger)}

	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		raw, err := readDocument(arg)
		if err != nil {
			return nil, err
		}
		return formtree.New(raw, opts...)
	}

	state, err := a.store.Load(ctx, arg)
	if err != nil {
		if errors.Is(err, domain.ErrFormNotFound) {
			return nil, fmt.Errorf("%q is neither a file nor a stored form: %w", arg, err)
		}
		return nil, err
	}
	return formtree.New(state, opts...)
}

// readDocument decodes a JSON or YAML form document.
func readDocument(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	default:
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return raw, nil
}
