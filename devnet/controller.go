// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package devnet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/thefifthdev/stellarforge/common"
	"github.com/thefifthdev/stellarforge/common/amount"
	"github.com/thefifthdev/stellarforge/common/future"
	"github.com/thefifthdev/stellarforge/executor"
	"github.com/thefifthdev/stellarforge/ledger"
	"github.com/thefifthdev/stellarforge/ledger/account"
	"github.com/thefifthdev/stellarforge/ledger/registry"
	"github.com/thefifthdev/stellarforge/ledger/store"
)

const (
	ErrNotRunning     = common.ConstError("devnet not running")
	ErrNotPersistent  = common.ConstError("devnet persistence not enabled")
	ErrNotConfigured  = common.ConstError("devnet has never been started")
	ErrInvalidGenesis = common.ConstError("invalid genesis account")
)

// State is the lifecycle state of a local network.
type State int32

const (
	Stopped State = iota
	Starting
	Running
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// GenesisAccount is an account created whenever a network starts from an
// empty ledger.
type GenesisAccount struct {
	Handle  string        `json:"handle"`
	Balance amount.Amount `json:"balance"`
}

// Config describes a local network.
type Config struct {
	// Retention is the number of ledger snapshots kept in memory.
	Retention int `json:"retention"`
	// Persistence is the directory the ledger is saved to on stop. An
	// empty directory disables persistence.
	Persistence string `json:"persistence"`
	// PersistTimeout bounds every persistence operation. Zero disables the
	// bound.
	PersistTimeout time.Duration    `json:"persistTimeout"`
	Executor       executor.Config  `json:"executor"`
	Genesis        []GenesisAccount `json:"genesis"`
}

func DefaultConfig() Config {
	return Config{
		Retention:      ledger.DefaultRetention,
		PersistTimeout: 10 * time.Second,
		Executor:       executor.DefaultConfig(),
	}
}

func (c Config) Check() error {
	if err := c.Executor.Check(); err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, cur := range c.Genesis {
		if err := account.CheckHandle(cur.Handle); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidGenesis, err)
		}
		if seen[cur.Handle] {
			return fmt.Errorf("%w: %q listed twice", ErrInvalidGenesis, cur.Handle)
		}
		seen[cur.Handle] = true
	}
	return nil
}

// Status summarizes the state of a network.
type Status struct {
	State      State         `json:"state"`
	Sequence   uint64        `json:"sequence"`
	Accounts   int           `json:"accounts"`
	Instances  int           `json:"instances"`
	Uptime     time.Duration `json:"uptime"`
	Persistent bool          `json:"persistent"`
}

// Opener opens the snapshot store of a persistent network.
type Opener func(directory string) (store.Store, error)

// Option customizes a Controller.
type Option func(*Controller)

func WithLogger(logger log.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithStoreOpener replaces the way snapshot stores are opened.
func WithStoreOpener(open Opener) Option {
	return func(c *Controller) {
		c.open = open
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// network is the running part of a controller.
type network struct {
	config   Config
	ledger   *ledger.Engine
	executor *executor.Executor
	store    store.Store   // < nil without persistence
	saving   chan struct{} // < closed once the last save completed
	started  time.Time
}

// Controller manages the lifecycle of a local network. Lifecycle
// transitions are serialized; queries and submissions are served
// concurrently with each other.
type Controller struct {
	mu      sync.Mutex
	state   atomic.Int32
	current atomic.Pointer[network]
	config  *Config // < configuration of the last start

	logger log.Logger
	open   Opener
	now    func() time.Time
}

func New(options ...Option) *Controller {
	res := &Controller{
		logger: log.Root(),
		open:   store.Open,
		now:    time.Now,
	}
	for _, option := range options {
		option(res)
	}
	return res
}

func (c *Controller) State() State {
	return State(c.state.Load())
}

// Start brings up a network. If persistence is enabled and a saved ledger
// exists it is resumed, otherwise a fresh ledger at sequence 0 with the
// configured genesis accounts is created. On failure the controller stays
// stopped. Starting a running network has no effect.
func (c *Controller) Start(ctx context.Context, config Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() == Running {
		c.logger.Warn("Devnet already running, ignoring start request")
		return nil
	}
	return c.start(ctx, config)
}

func (c *Controller) start(ctx context.Context, config Config) error {
	if err := config.Check(); err != nil {
		return err
	}
	c.state.Store(int32(Starting))
	net, err := c.boot(ctx, config)
	if err != nil {
		c.state.Store(int32(Stopped))
		c.logger.Warn("Devnet failed to start", "err", err)
		return err
	}
	c.config = &config
	c.current.Store(net)
	c.state.Store(int32(Running))
	snapshot := net.ledger.Current()
	c.logger.Info("Devnet started", "sequence", snapshot.Sequence(), "accounts", snapshot.NumAccounts(), "persistent", net.store != nil)
	return nil
}

func (c *Controller) boot(ctx context.Context, config Config) (_ *network, err error) {
	options := []ledger.Option{
		ledger.WithRetention(config.Retention),
		ledger.WithLogger(c.logger),
		ledger.WithClock(c.now),
	}
	net := &network{config: config, started: c.now()}
	codes := registry.New()

	var snapshot *ledger.Snapshot
	if config.Persistence != "" {
		net.store, err = bounded(ctx, config.PersistTimeout, "open snapshot store", func() (store.Store, error) {
			return c.open(config.Persistence)
		}, c.closeLate)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err != nil {
				err = errors.Join(err, net.store.Close())
			}
		}()
		snapshot, err = bounded(ctx, config.PersistTimeout, "load snapshot", func() (*ledger.Snapshot, error) {
			latest, err := net.store.Latest()
			if errors.Is(err, store.ErrNotFound) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			saved, err := net.store.Codes()
			if err != nil {
				return nil, err
			}
			for _, code := range saved {
				if err := codes.Restore(code); err != nil {
					return nil, err
				}
			}
			return latest, nil
		}, nil)
		if err != nil {
			return nil, err
		}
	}

	if snapshot == nil {
		snapshot, err = genesisSnapshot(c.now(), config.Genesis)
		if err != nil {
			return nil, err
		}
	}
	net.ledger, err = ledger.Restore(snapshot, codes, options...)
	if err != nil {
		return nil, err
	}
	net.executor = executor.New(net.ledger, config.Executor, c.logger)
	return net, nil
}

// genesisSnapshot is ledger sequence 0 of a fresh network, holding the
// genesis accounts with their initial balances.
func genesisSnapshot(now time.Time, genesis []GenesisAccount) (*ledger.Snapshot, error) {
	accounts := make([]account.Account, 0, len(genesis))
	for _, cur := range genesis {
		created, err := account.New(cur.Handle)
		if err != nil {
			return nil, fmt.Errorf("failed to create genesis account %q: %w", cur.Handle, err)
		}
		created.Balance = cur.Balance
		accounts = append(accounts, created)
	}
	return ledger.NewSnapshot(0, now, accounts, nil)
}

// Stop shuts the network down. With persistence enabled the current ledger
// is saved first; if that fails the network keeps running and the error is
// returned. Stopping a stopped network has no effect.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	net := c.current.Load()
	if c.State() != Running || net == nil {
		return nil
	}
	if net.store != nil {
		if err := c.persist(ctx, net); err != nil {
			c.logger.Warn("Devnet state could not be saved, network keeps running", "err", err)
			return err
		}
	}
	err := c.teardown(net)
	c.logger.Info("Devnet stopped", "sequence", net.ledger.Current().Sequence())
	return err
}

// Reset discards the ledger, including any saved state, and starts over
// with the configuration of the last start.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.config == nil {
		return ErrNotConfigured
	}
	config := *c.config

	if net := c.current.Load(); c.State() == Running && net != nil {
		if net.store != nil {
			if err := c.settle(ctx, net); err != nil {
				return err
			}
			if _, err := bounded(ctx, config.PersistTimeout, "clear snapshot store", func() (struct{}, error) {
				return struct{}{}, net.store.Clear()
			}, nil); err != nil {
				return err
			}
		}
		if err := c.teardown(net); err != nil {
			return err
		}
	} else if config.Persistence != "" {
		if err := c.wipe(ctx, config); err != nil {
			return err
		}
	}

	c.logger.Info("Devnet reset")
	return c.start(ctx, config)
}

func (c *Controller) wipe(ctx context.Context, config Config) error {
	_, err := bounded(ctx, config.PersistTimeout, "clear snapshot store", func() (struct{}, error) {
		db, err := c.open(config.Persistence)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, errors.Join(db.Clear(), db.Close())
	}, nil)
	return err
}

// Checkpoint saves the current ledger without stopping the network.
func (c *Controller) Checkpoint(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	net, err := c.running()
	if err != nil {
		return err
	}
	if net.store == nil {
		return ErrNotPersistent
	}
	return c.persist(ctx, net)
}

func (c *Controller) persist(ctx context.Context, net *network) error {
	if err := c.settle(ctx, net); err != nil {
		return err
	}
	snapshot := net.ledger.Current()
	codes := net.ledger.Registry().All()
	saving := make(chan struct{})
	net.saving = saving
	_, err := bounded(ctx, net.config.PersistTimeout, "save snapshot", func() (struct{}, error) {
		defer close(saving)
		return struct{}{}, net.store.Save(snapshot, codes)
	}, nil)
	if err != nil {
		return err
	}
	c.logger.Debug("Devnet state saved", "sequence", snapshot.Sequence(), "codes", len(codes))
	return nil
}

// settle waits for a save that outlived its timeout, so that no two saves
// run on the store at the same time.
func (c *Controller) settle(ctx context.Context, net *network) error {
	saving := net.saving
	if saving == nil {
		return nil
	}
	_, err := bounded(ctx, net.config.PersistTimeout, "finish pending save", func() (struct{}, error) {
		<-saving
		return struct{}{}, nil
	}, nil)
	return err
}

// closeLate releases a store whose opening completed after it timed out.
func (c *Controller) closeLate(db store.Store, err error) {
	if err == nil && db != nil {
		if err := db.Close(); err != nil {
			c.logger.Warn("Failed to close late snapshot store", "err", err)
		}
	}
}

// teardown releases the resources of a network. The controller is stopped
// afterwards, even if releasing resources failed.
func (c *Controller) teardown(net *network) error {
	c.current.Store(nil)
	c.state.Store(int32(Stopped))
	err := net.ledger.Close()
	if net.store != nil {
		err = errors.Join(err, net.store.Close())
	}
	return err
}

func (c *Controller) running() (*network, error) {
	net := c.current.Load()
	if net == nil || c.State() != Running {
		return nil, ErrNotRunning
	}
	return net, nil
}

// Status reports the state of the network.
func (c *Controller) Status() Status {
	net, err := c.running()
	if err != nil {
		return Status{State: c.State()}
	}
	snapshot := net.ledger.Current()
	return Status{
		State:      Running,
		Sequence:   snapshot.Sequence(),
		Accounts:   snapshot.NumAccounts(),
		Instances:  snapshot.NumInstances(),
		Uptime:     c.now().Sub(net.started),
		Persistent: net.store != nil,
	}
}

// Submit executes a transaction on the running network.
func (c *Controller) Submit(ctx context.Context, tx *executor.Transaction) (*executor.Receipt, error) {
	net, err := c.running()
	if err != nil {
		return nil, err
	}
	return net.executor.Execute(ctx, tx)
}

func (c *Controller) Ledger() (*ledger.Engine, error) {
	net, err := c.running()
	if err != nil {
		return nil, err
	}
	return net.ledger, nil
}

func (c *Controller) Executor() (*executor.Executor, error) {
	net, err := c.running()
	if err != nil {
		return nil, err
	}
	return net.executor, nil
}

// CreateAccount adds an empty account to the running network.
func (c *Controller) CreateAccount(handle string) (account.Account, error) {
	net, err := c.running()
	if err != nil {
		return account.Account{}, err
	}
	return net.ledger.CreateAccount(handle)
}

// Fund credits an account of the running network from the faucet without
// consuming a sequence number.
func (c *Controller) Fund(handle string, value amount.Amount) (account.Account, error) {
	net, err := c.running()
	if err != nil {
		return account.Account{}, err
	}
	return net.ledger.Fund(handle, value)
}

// bounded runs a persistence operation under the given timeout. If the
// operation stalls, ErrTimeout is returned while the operation keeps going
// in the background; release, if not nil, receives its late result.
func bounded[T any](ctx context.Context, timeout time.Duration, what string, op func() (T, error), release func(T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	promise, result := future.Create[T]()
	go func() {
		promise.Fulfill(future.Of(op()))
	}()
	res, err := result.AwaitContext(ctx, release)
	if errors.Is(err, context.DeadlineExceeded) {
		var zero T
		return zero, fmt.Errorf("%w: %s did not complete within %v", common.ErrTimeout, what, timeout)
	}
	if err != nil {
		var zero T
		return zero, fmt.Errorf("failed to %s: %w", what, err)
	}
	return res, nil
}
