package turnout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/xnet-bridge/internal/xnet/transport"
)

// Config defines one turnout for the Manager.
type Config struct {
	Address  int
	Name     string
	Mode     FeedbackMode
	Inverted bool
}

// ManagerOptions configures a Manager. The protocol settings are applied to
// every turnout it creates.
type ManagerOptions struct {
	// Transport is shared by all turnouts. Required.
	Transport transport.Transport

	// Repository seeds known state and stores definitions. Optional.
	Repository Repository

	ReplyTimeout  time.Duration
	OffDelay      time.Duration
	MaxOffRetries int
	BusyRetries   int

	// RequestUpdate polls each new turnout's feedback nibble on creation.
	RequestUpdate bool

	Logger  Logger
	Metrics Metrics
	Clock   Clock
}

type managed struct {
	turnout     *Turnout
	unsubscribe func()
}

// Manager owns the turnouts of one bus, one per address.
//
// Observers registered on the Manager receive changes from every turnout it
// provides, with the same synchronous delivery as Turnout.Subscribe.
type Manager struct {
	opts ManagerOptions

	mu       sync.RWMutex
	turnouts map[int]*managed

	observersMu sync.RWMutex
	observers   []subscription
	nextSubID   uint64
}

// NewManager creates an empty Manager.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Transport == nil {
		return nil, ErrNoTransport
	}
	return &Manager{
		opts:     opts,
		turnouts: make(map[int]*managed),
	}, nil
}

// Provide returns the turnout for cfg.Address, creating it if needed. An
// existing turnout takes the configured name, mode and inversion.
//
// A new turnout starts in the known state last stored in the repository.
func (m *Manager) Provide(ctx context.Context, cfg Config) (*Turnout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.turnouts[cfg.Address]; ok {
		t := e.turnout
		t.SetName(cfg.Name)
		t.SetInverted(cfg.Inverted)
		if err := t.SetFeedbackMode(cfg.Mode); err != nil {
			return nil, err
		}
		if err := m.store(ctx, cfg, Unknown); err != nil {
			return nil, err
		}
		return t, nil
	}

	initial := Unknown
	if m.opts.Repository != nil {
		rec, err := m.opts.Repository.GetTurnout(ctx, cfg.Address)
		switch {
		case err == nil:
			initial = rec.KnownState
		case !errors.Is(err, ErrNotFound):
			return nil, fmt.Errorf("loading turnout %d: %w", cfg.Address, err)
		}
	}

	t, err := New(Options{
		Address:       cfg.Address,
		Name:          cfg.Name,
		Mode:          cfg.Mode,
		Inverted:      cfg.Inverted,
		Transport:     m.opts.Transport,
		ReplyTimeout:  m.opts.ReplyTimeout,
		OffDelay:      m.opts.OffDelay,
		MaxOffRetries: m.opts.MaxOffRetries,
		BusyRetries:   m.opts.BusyRetries,
		InitialState:  initial,
		Logger:        m.opts.Logger,
		Metrics:       m.opts.Metrics,
		Clock:         m.opts.Clock,
	})
	if err != nil {
		return nil, err
	}
	if err := m.store(ctx, cfg, initial); err != nil {
		t.Dispose()
		return nil, err
	}

	unsubscribe := t.Subscribe(ObserverFunc(m.fanOut))
	m.turnouts[cfg.Address] = &managed{turnout: t, unsubscribe: unsubscribe}

	if m.opts.RequestUpdate {
		t.RequestUpdateFromLayout()
	}
	return t, nil
}

// Load provides every configured turnout. All definitions are attempted;
// the returned error joins the failures.
func (m *Manager) Load(ctx context.Context, cfgs []Config) error {
	var errs []error
	for _, cfg := range cfgs {
		if _, err := m.Provide(ctx, cfg); err != nil {
			errs = append(errs, fmt.Errorf("turnout %d: %w", cfg.Address, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) store(ctx context.Context, cfg Config, known State) error {
	if m.opts.Repository == nil {
		return nil
	}
	err := m.opts.Repository.UpsertTurnout(ctx, Record{
		Address:      cfg.Address,
		Name:         cfg.Name,
		FeedbackMode: cfg.Mode,
		Inverted:     cfg.Inverted,
		KnownState:   known,
	})
	if err != nil {
		return fmt.Errorf("storing turnout %d: %w", cfg.Address, err)
	}
	return nil
}

// Get returns the turnout at address or ErrNotFound.
func (m *Manager) Get(address int) (*Turnout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.turnouts[address]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, address)
	}
	return e.turnout, nil
}

// List returns all turnouts ordered by address.
func (m *Manager) List() []*Turnout {
	m.mu.RLock()
	out := make([]*Turnout, 0, len(m.turnouts))
	for _, e := range m.turnouts {
		out = append(out, e.turnout)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Address() < out[j].Address() })
	return out
}

// Dispose removes the turnout at address and unregisters it from the bus.
// The stored definition is kept.
func (m *Manager) Dispose(address int) error {
	m.mu.Lock()
	e, ok := m.turnouts[address]
	if ok {
		delete(m.turnouts, address)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, address)
	}
	e.unsubscribe()
	e.turnout.Dispose()
	return nil
}

// Remove disposes the turnout and deletes its stored definition and history.
func (m *Manager) Remove(ctx context.Context, address int) error {
	if err := m.Dispose(address); err != nil {
		return err
	}
	if m.opts.Repository == nil {
		return nil
	}
	if err := m.opts.Repository.DeleteTurnout(ctx, address); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// DisposeAll disposes every turnout. Used on shutdown.
func (m *Manager) DisposeAll() {
	m.mu.Lock()
	all := m.turnouts
	m.turnouts = make(map[int]*managed)
	m.mu.Unlock()

	for _, e := range all {
		e.unsubscribe()
		e.turnout.Dispose()
	}
}

// Subscribe registers o for changes from every managed turnout.
func (m *Manager) Subscribe(o Observer) (unsubscribe func()) {
	m.observersMu.Lock()
	defer m.observersMu.Unlock()
	m.nextSubID++
	id := m.nextSubID
	m.observers = append(m.observers, subscription{id: id, observer: o})
	return func() {
		m.observersMu.Lock()
		defer m.observersMu.Unlock()
		for i, s := range m.observers {
			if s.id == id {
				m.observers = append(m.observers[:i], m.observers[i+1:]...)
				return
			}
		}
	}
}

// fanOut runs under the changed turnout's lock.
func (m *Manager) fanOut(c Change) {
	m.observersMu.RLock()
	defer m.observersMu.RUnlock()
	for _, s := range m.observers {
		s.observer.TurnoutChanged(c)
	}
}
