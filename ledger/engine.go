// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/0xsoniclabs/tracy"
	"github.com/ethereum/go-ethereum/log"
	"github.com/thefifthdev/stellarforge/common"
	"github.com/thefifthdev/stellarforge/common/amount"
	"github.com/thefifthdev/stellarforge/common/future"
	"github.com/thefifthdev/stellarforge/ledger/account"
	"github.com/thefifthdev/stellarforge/ledger/registry"
)

const (
	ErrNotFound = common.ConstError("snapshot not found")
	ErrClosed   = common.ConstError("ledger closed")
)

// DefaultRetention is the number of snapshots kept by default, including
// the current one.
const DefaultRetention = 64

// UpdateFunc computes a delta against the exact snapshot it will be applied
// to. Returning an error aborts the update without any state change.
type UpdateFunc func(prior *Snapshot) (*Delta, error)

// Engine is the single writer of ledger snapshots. All commits are
// processed in arrival order by a background worker; reads of the current
// and retained snapshots are served concurrently.
type Engine struct {
	registry  *registry.Registry
	retention int
	logger    log.Logger
	now       func() time.Time

	mu      sync.RWMutex
	history []*Snapshot // < retained snapshots, oldest first, last is current

	commands chan<- command  // < commits to background worker
	quit     chan struct{}   // < closed to stop the worker
	done     <-chan struct{} // < closed when the worker has stopped
	closing  sync.Once
}

type command struct {
	update UpdateFunc
	result future.Promise[*Snapshot]
}

type config struct {
	retention int
	logger    log.Logger
	now       func() time.Time
}

// Option customizes an Engine.
type Option func(*config)

// WithRetention sets the number of retained snapshots. Values below 1 are
// replaced by DefaultRetention.
func WithRetention(retention int) Option {
	return func(c *config) {
		c.retention = retention
	}
}

func WithLogger(logger log.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithClock replaces the source of snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// NewEngine creates a ledger at sequence 0 without any accounts.
func NewEngine(codes *registry.Registry, options ...Option) *Engine {
	cfg := makeConfig(options)
	return start(codes, genesis(cfg.now()), cfg)
}

// Restore creates a ledger resuming from the given snapshot. The code
// referenced by its instances must be present in the registry.
func Restore(snapshot *Snapshot, codes *registry.Registry, options ...Option) (*Engine, error) {
	for _, instance := range snapshot.instances {
		if !codes.Contains(instance.Code) {
			return nil, fmt.Errorf("%w: instance %v refers to unknown code %v", common.ErrInvalidCode, instance.ID, instance.Code)
		}
	}
	return start(codes, snapshot, makeConfig(options)), nil
}

func makeConfig(options []Option) config {
	cfg := config{
		retention: DefaultRetention,
		logger:    log.Root(),
		now:       time.Now,
	}
	for _, option := range options {
		option(&cfg)
	}
	if cfg.retention < 1 {
		cfg.retention = DefaultRetention
	}
	return cfg
}

func start(codes *registry.Registry, initial *Snapshot, cfg config) *Engine {
	// Unbuffered, so that every accepted command is processed by the worker
	// and blocked senders are served in arrival order.
	commands := make(chan command)
	quit := make(chan struct{})
	done := make(chan struct{})

	engine := &Engine{
		registry:  codes,
		retention: cfg.retention,
		logger:    cfg.logger,
		now:       cfg.now,
		history:   []*Snapshot{initial},
		commands:  commands,
		quit:      quit,
		done:      done,
	}

	go func() {
		defer close(done)
		for {
			select {
			case command := <-commands:
				command.result.Fulfill(future.Of(engine.commit(command.update)))
			case <-quit:
				return
			}
		}
	}()

	return engine
}

// commit runs on the worker goroutine only.
func (e *Engine) commit(update UpdateFunc) (snapshot *Snapshot, err error) {
	zone := tracy.ZoneBegin("ledger::commit")
	defer zone.End()

	prior := e.Current()
	defer func() {
		if r := recover(); r != nil {
			snapshot, err = prior, fmt.Errorf("ledger update panicked: %v", r)
		}
	}()

	delta, err := update(prior)
	if err != nil {
		return prior, err
	}
	next, err := prior.apply(delta, e.registry, e.now())
	if err != nil {
		return prior, err
	}
	// Codes have been validated, registration can not fail anymore.
	for _, code := range delta.Codes {
		if _, err := e.registry.Register(code.Binary, code.Interface, code.Deployer); err != nil {
			return prior, err
		}
	}

	e.mu.Lock()
	e.history = append(e.history, next)
	if excess := len(e.history) - e.retention; excess > 0 {
		clear(e.history[:excess])
		e.history = e.history[excess:]
	}
	e.mu.Unlock()

	e.logger.Debug("Ledger advanced", "sequence", next.sequence, "accounts", next.NumAccounts(), "instances", next.NumInstances())
	return next, nil
}

// Registry returns the code registry shared by all snapshots.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Current returns the most recent snapshot.
func (e *Engine) Current() *Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.history[len(e.history)-1]
}

// At returns the retained snapshot with the given sequence number.
func (e *Engine) At(sequence uint64) (*Snapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	oldest := e.history[0].sequence
	if sequence < oldest || sequence-oldest >= uint64(len(e.history)) {
		return nil, fmt.Errorf("%w: sequence %d, retained range [%d,%d]", ErrNotFound, sequence, oldest, e.history[len(e.history)-1].sequence)
	}
	return e.history[sequence-oldest], nil
}

// Sequences lists the sequence numbers of all retained snapshots.
func (e *Engine) Sequences() []uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	res := make([]uint64, len(e.history))
	for i, snapshot := range e.history {
		res[i] = snapshot.sequence
	}
	return res
}

// Update computes a delta against the current snapshot and applies it in
// one serialized step. On failure the current snapshot is returned
// unchanged together with the error. A context cancelled before the update
// is accepted aborts it; accepted updates always complete.
func (e *Engine) Update(ctx context.Context, update UpdateFunc) (*Snapshot, error) {
	promise, result := future.Create[*Snapshot]()
	select {
	case e.commands <- command{update: update, result: promise}:
	case <-e.quit:
		return e.Current(), ErrClosed
	case <-ctx.Done():
		return e.Current(), ctx.Err()
	}
	return result.Await()
}

// Apply atomically applies the delta, advancing the ledger by one sequence
// number.
func (e *Engine) Apply(delta *Delta) (*Snapshot, error) {
	return e.Update(context.Background(), func(*Snapshot) (*Delta, error) {
		return delta, nil
	})
}

// CreateAccount adds an empty account to the ledger.
func (e *Engine) CreateAccount(handle string) (account.Account, error) {
	var created account.Account
	_, err := e.Update(context.Background(), func(prior *Snapshot) (*Delta, error) {
		var err error
		created, err = prior.accounts.Clone().Create(handle)
		if err != nil {
			return nil, err
		}
		return &Delta{Created: []account.Account{created}}, nil
	})
	if err != nil {
		return account.Account{}, err
	}
	return created, nil
}

// Fund credits a positive amount to an account without consuming a
// sequence number. It is intended for seeding test accounts.
func (e *Engine) Fund(handle string, value amount.Amount) (account.Account, error) {
	var funded account.Account
	_, err := e.Update(context.Background(), func(prior *Snapshot) (*Delta, error) {
		var err error
		funded, err = prior.accounts.Clone().Fund(handle, value)
		if err != nil {
			return nil, err
		}
		return &Delta{Accounts: []account.Account{funded}}, nil
	})
	if err != nil {
		return account.Account{}, err
	}
	return funded, nil
}

// Close stops the background worker. Updates issued afterwards fail with
// ErrClosed; reads keep working.
func (e *Engine) Close() error {
	e.closing.Do(func() {
		close(e.quit)
	})
	<-e.done
	return nil
}
