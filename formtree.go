package formtree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/formtree/internal/logging"
	"github.com/aretw0/formtree/pkg/autosave"
	"github.com/aretw0/formtree/pkg/command"
	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/events"
	"github.com/aretw0/formtree/pkg/migrate"
	"github.com/aretw0/formtree/pkg/reconcile"
	"github.com/aretw0/formtree/pkg/store"
	"github.com/aretw0/formtree/pkg/telemetry"
	"github.com/aretw0/formtree/pkg/validation"
	"github.com/aretw0/formtree/pkg/view"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrUnsupportedInput is returned by New for initial data of an unknown type.
var ErrUnsupportedInput = errors.New("unsupported initial form data")

// SyncConfig controls periodic reconciliation.
type SyncConfig struct {
	Enabled  bool
	Interval time.Duration
}

// Config groups the tunables of every component.
type Config struct {
	Autosave     autosave.Config
	Validation   validation.SchedulerConfig
	Sync         SyncConfig
	Thresholds   telemetry.Thresholds
	HistoryLimit int
}

// DefaultConfig returns the defaults of every component. Sync is off.
func DefaultConfig() Config {
	return Config{
		Autosave:     autosave.DefaultConfig(),
		Validation:   validation.DefaultSchedulerConfig(),
		Sync:         SyncConfig{Interval: 30 * time.Second},
		Thresholds:   telemetry.DefaultThresholds(),
		HistoryLimit: command.DefaultLimit,
	}
}

// Editor is the composition root: one form, its history and its background machinery.
type Editor struct {
	store    *store.Store
	stack    *command.Stack
	views    *view.Views
	bus      *events.Bus
	saver    *autosave.Controller
	checker  *validation.Scheduler
	syncer   *reconcile.Syncer
	monitor  *telemetry.Monitor
	migrated bool

	cfg      Config
	save     autosave.SaveFunc
	sync     reconcile.SyncFunc
	resolver reconcile.Resolver
	rules    *validation.Ruleset
	registry prometheus.Registerer
	onError  func(error)
	newID    func() string
	logger   *slog.Logger

	cancel    context.CancelFunc
	unsub     func()
	closeOnce sync.Once
}

// Option defines a functional option for configuring the Editor.
type Option func(*Editor)

// WithSave sets the persistence callback used by autosave and ForceSave.
func WithSave(fn autosave.SaveFunc) Option {
	return func(e *Editor) { e.save = fn }
}

// WithSync enables reconciliation through fn. A nil resolver means remote wins.
func WithSync(fn reconcile.SyncFunc, resolver reconcile.Resolver) Option {
	return func(e *Editor) {
		e.sync = fn
		e.resolver = resolver
	}
}

// WithSyncInterval turns on periodic reconciliation every d. Apply it after WithConfig.
func WithSyncInterval(d time.Duration) Option {
	return func(e *Editor) { e.cfg.Sync = SyncConfig{Enabled: true, Interval: d} }
}

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(e *Editor) { e.cfg = cfg }
}

// WithRules replaces the default validation ruleset.
func WithRules(rules validation.Ruleset) Option {
	return func(e *Editor) { e.rules = &rules }
}

// WithRegistry registers the performance metrics on reg.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(e *Editor) { e.registry = reg }
}

// WithOnError is called for every save failure and failed command.
func WithOnError(fn func(error)) Option {
	return func(e *Editor) { e.onError = fn }
}

// WithIDGenerator overrides the id allocator for new nodes and questions.
func WithIDGenerator(fn func() string) Option {
	return func(e *Editor) { e.newID = fn }
}

// WithLogger sets a custom structured logger for the editor.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Editor) { e.logger = logger }
}

// New builds an editor over initial, which may be nil (an empty form), a
// *domain.FormState, JSON bytes, or a decoded map. Byte and map input in the
// legacy shape is migrated once here.
func New(initial any, opts ...Option) (*Editor, error) {
	e := &Editor{
		cfg:    DefaultConfig(),
		newID:  uuid.NewString,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	state, migrated, err := e.decode(initial)
	if err != nil {
		return nil, err
	}
	if err := domain.CheckInvariants(state); err != nil {
		return nil, fmt.Errorf("initial form: %w", err)
	}
	e.migrated = migrated
	e.logger = e.logger.With("form_id", state.ID)
	if migrated {
		e.logger.Info("migrated legacy form")
	}

	e.bus = events.NewBus(events.WithLogger(e.logger))
	e.store = store.New(state, store.WithIDGenerator(e.newID), store.WithLogger(e.logger))
	e.views = view.New(e.store)

	e.monitor, err = telemetry.New(e.registry, e.cfg.Thresholds,
		telemetry.WithBus(e.bus), telemetry.WithLogger(e.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	e.stack = command.NewStack(
		command.WithLimit(e.cfg.HistoryLimit),
		command.WithObserver(e.onCommand),
		command.WithLogger(e.logger),
	)

	var save autosave.SaveFunc
	if e.save != nil {
		save = e.timedSave
	}
	e.saver = autosave.New(e.store, save, e.cfg.Autosave,
		autosave.WithBus(e.bus),
		autosave.WithErrorHandler(e.onSaveError),
		autosave.WithLogger(e.logger),
	)

	rules := validation.DefaultRuleset()
	if e.rules != nil {
		rules = *e.rules
	}
	e.checker = validation.NewScheduler(e.store,
		validation.NewEngine(rules, validation.WithLogger(e.logger)),
		e.cfg.Validation,
		validation.WithBus(e.bus),
		validation.WithSchedulerLogger(e.logger),
	)
	events.On(e.bus, events.ValidationCompleted, func(ev domain.ValidationEvent) {
		e.monitor.Observe(telemetry.OpValidation, ev.Duration)
	})
	events.On(e.bus, events.FormSaved, func(domain.SaveEvent) {
		e.monitor.CheckMemory()
	})

	if e.sync != nil {
		resolver := e.resolver
		if resolver == nil {
			resolver = reconcile.RemoteWins
		}
		e.syncer = reconcile.New(e.store, e.sync, e.cfg.Sync.Interval,
			reconcile.WithResolver(resolver),
			reconcile.WithOnAdopt(func(*domain.FormState) { e.stack.Clear() }),
			reconcile.WithBus(e.bus),
			reconcile.WithLogger(e.logger),
		)
	}

	e.unsub = e.store.Subscribe(e.onChange)

	var ctx context.Context
	ctx, e.cancel = context.WithCancel(context.Background())
	if e.syncer != nil && e.cfg.Sync.Enabled {
		e.syncer.Start(ctx)
	}
	if migrated {
		// A migrated form differs from what is stored.
		e.saver.Notify()
	}
	return e, nil
}

func (e *Editor) decode(initial any) (*domain.FormState, bool, error) {
	opts := []migrate.Option{migrate.WithIDGenerator(e.newID)}
	switch v := initial.(type) {
	case nil:
		return domain.NewFormState(e.newID(), "", ""), false, nil
	case *domain.FormState:
		if v == nil {
			return domain.NewFormState(e.newID(), "", ""), false, nil
		}
		return v, false, nil
	case []byte:
		return migrate.FromJSON(v, opts...)
	case string:
		return migrate.FromJSON([]byte(v), opts...)
	case map[string]any:
		return migrate.Migrate(v, opts...)
	}
	return nil, false, fmt.Errorf("%w: %T", ErrUnsupportedInput, initial)
}

// onChange bridges store changes to the bus and the background components.
func (e *Editor) onChange(c store.Change) {
	formID := e.store.FormID()
	switch c.Kind {
	case domain.EventNodeAdded, domain.EventNodeUpdated, domain.EventNodeDeleted, domain.EventNodeMoved:
		events.Emit(e.bus, events.Topic[domain.NodeEvent]{Name: c.Kind}, domain.NodeEvent{
			FormID:   formID,
			NodeID:   c.NodeID,
			ParentID: c.ParentID,
			NodeType: c.NodeType,
		})
	case domain.EventQuestionAdded, domain.EventQuestionUpdated, domain.EventQuestionDeleted, domain.EventQuestionReordered:
		events.Emit(e.bus, events.Topic[domain.QuestionEvent]{Name: c.Kind}, domain.QuestionEvent{
			FormID:     formID,
			QuestionID: c.QuestionID,
			ServiceID:  c.ServiceID,
		})
	case domain.EventFormReset:
		events.Emit(e.bus, events.FormReset, domain.FormEvent{FormID: formID, Version: c.Version, At: time.Now()})
		e.checker.Notify()
		return
	case domain.EventFormChanged:
		events.Emit(e.bus, events.FormChanged, domain.FormEvent{FormID: formID, Version: c.Version, IsDirty: c.Dirty, At: time.Now()})
		if c.Dirty {
			e.saver.Notify()
		}
		return
	default:
		// form.saved is published by the autosave controller.
		return
	}

	events.Emit(e.bus, events.FormChanged, domain.FormEvent{FormID: formID, Version: c.Version, IsDirty: c.Dirty, At: time.Now()})
	e.saver.Notify()
	e.checker.Notify()
}

func (e *Editor) onCommand(kind domain.EventType, ev domain.CommandEvent) {
	if topic, ok := events.CommandTopic(kind); ok {
		events.Emit(e.bus, topic, ev)
	}
	if kind != domain.EventCommandFailed {
		return
	}
	events.Emit(e.bus, events.ErrorOccurred, domain.ErrorEvent{
		Source:  "command",
		Err:     ev.Err,
		Error:   ev.Error,
		Context: map[string]any{"command": ev.Description},
	})
	if e.onError != nil && ev.Err != nil {
		e.onError(ev.Err)
	}
}

func (e *Editor) onSaveError(err error) {
	var saveErr *autosave.SaveError
	ctx := map[string]any{}
	if errors.As(err, &saveErr) {
		ctx["attempt"] = saveErr.Attempt
		ctx["retrying"] = saveErr.Retrying
	}
	events.Emit(e.bus, events.ErrorOccurred, domain.ErrorEvent{
		Source:  "autosave",
		Err:     err,
		Error:   err.Error(),
		Context: ctx,
	})
	if e.onError != nil {
		e.onError(err)
	}
}

func (e *Editor) timedSave(ctx context.Context, state *domain.FormState) error {
	defer e.monitor.Start(telemetry.OpSave).ObserveDuration()
	return e.save(ctx, state)
}

// Close stops timers and the reconciliation loop. In-flight work completes;
// unsaved edits are not flushed (call ForceSave first).
func (e *Editor) Close() {
	e.closeOnce.Do(func() {
		e.unsub()
		e.cancel()
		if e.syncer != nil {
			e.syncer.Stop()
		}
		e.saver.Close()
		e.checker.Close()
	})
}

// Bus returns the editor's event bus.
func (e *Editor) Bus() *events.Bus { return e.bus }

// Migrated reports whether the initial data was in the legacy shape.
func (e *Editor) Migrated() bool { return e.migrated }

// Monitor returns the performance monitor.
func (e *Editor) Monitor() *telemetry.Monitor { return e.monitor }
