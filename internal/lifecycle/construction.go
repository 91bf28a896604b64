/*
 * Copyright © 2025 Kaleido, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with
 * the License. You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
 * an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
 * specific language governing permissions and limitations under the License.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package lifecycle

import (
	"context"
	"sync"

	"github.com/hyperledger/firefly-common/pkg/log"
)

// Status is the construction state of a component. It moves Initializing ->
// Active | Incapacitated, and may move to Destroyed from any non-terminal
// state via cancellation. Exactly one terminal value is ever reached.
type Status int

const (
	Initializing Status = iota
	Active
	Incapacitated
	Destroyed
)

func (s Status) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Active:
		return "active"
	case Incapacitated:
		return "incapacitated"
	case Destroyed:
		return "destroyed"
	}
	return "unknown"
}

// Initializer completes construction of a component off its constructor. A nil
// error transitions the construction to Active.
type Initializer func(ctx context.Context) error

// Construction is the asynchronous-construction handle attached to every
// component whose initialization may outlive its constructor. The target is
// available synchronously; Await gates use of it on initialization having
// completed. When the initializer happens to run synchronously (the common
// case - most state is eagerly loaded), Await returns without blocking.
type Construction[T any] struct {
	target   T
	name     string
	cancelFn func()

	lock    sync.Mutex
	status  Status
	err     error
	started bool
	done    chan struct{}
}

// New starts the initializer immediately. A nil initializer resolves the
// handle to Active before New returns; otherwise the initializer runs on its
// own goroutine and the handle resolves when it returns.
func New[T any](name string, target T, init Initializer, opts ...Option) *Construction[T] {
	ac := newConstruction(name, target, opts...)
	ac.start(init)
	return ac
}

// NewDeferred returns a handle whose initializer is supplied later via Start.
// Awaiting before Start parks on a placeholder that is fulfilled once the
// deferred initializer resolves.
func NewDeferred[T any](name string, target T, opts ...Option) *Construction[T] {
	return newConstruction(name, target, opts...)
}

// Option customizes a construction handle.
type Option func(cfg *options)

type options struct {
	cancelFn func()
}

// WithCancel supplies the cancel hook invoked by Cancel. Without one, Cancel
// is silent.
func WithCancel(fn func()) Option {
	return func(cfg *options) { cfg.cancelFn = fn }
}

func newConstruction[T any](name string, target T, opts ...Option) *Construction[T] {
	cfg := &options{}
	for _, o := range opts {
		o(cfg)
	}
	return &Construction[T]{
		target:   target,
		name:     name,
		cancelFn: cfg.cancelFn,
		status:   Initializing,
		done:     make(chan struct{}),
	}
}

// Start supplies the initializer for a deferred construction. A second Start,
// or a Start on a handle built with New, is refused.
func (ac *Construction[T]) Start(init Initializer) error {
	ac.lock.Lock()
	if ac.started {
		ac.lock.Unlock()
		return newSecondStartError(ac.name)
	}
	ac.lock.Unlock()
	ac.start(init)
	return nil
}

func (ac *Construction[T]) start(init Initializer) {
	ac.lock.Lock()
	ac.started = true
	if ac.status != Initializing {
		// Cancelled before the initializer was supplied - awaiters were
		// already released, nothing left to run.
		ac.lock.Unlock()
		return
	}
	ac.lock.Unlock()

	if init == nil {
		ac.complete(nil)
		return
	}
	ctx := log.WithLogField(context.Background(), "construct", ac.name)
	go func() {
		ac.complete(init(ctx))
	}()
}

func (ac *Construction[T]) complete(err error) {
	ac.lock.Lock()
	defer ac.lock.Unlock()
	if ac.status != Initializing {
		return // terminal state already reached (cancelled under our feet)
	}
	if err != nil {
		ac.status = Incapacitated
		ac.err = err
	} else {
		ac.status = Active
	}
	close(ac.done)
}

// Cancel invokes the cancel hook if one was supplied, and moves the
// construction to Destroyed. Awaiters are always released - cancel never
// leaves them hanging.
func (ac *Construction[T]) Cancel() {
	ac.lock.Lock()
	if ac.status != Initializing {
		ac.lock.Unlock()
		return
	}
	hook := ac.cancelFn
	if hook == nil {
		// No hook: cancellation is a silent no-op for the owner, but the
		// status still resolves so nothing awaits forever.
		ac.status = Destroyed
		close(ac.done)
		ac.lock.Unlock()
		return
	}
	ac.status = Destroyed
	close(ac.done)
	ac.lock.Unlock()
	hook()
}

// Await blocks until construction resolves, returning the target or the
// initialization failure. Resolved handles return immediately.
func (ac *Construction[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-ac.done:
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
	ac.lock.Lock()
	defer ac.lock.Unlock()
	switch ac.status {
	case Active:
		return ac.target, nil
	case Incapacitated:
		var zero T
		return zero, ac.err
	default:
		var zero T
		return zero, newNotReadyError(ac.name, ac.status)
	}
}

// Assert returns nil only when the construction is Active. Not-yet-ready and
// cancelled constructions report UninitializedDependencyError; failed ones
// report IncapacitatedDependencyError carrying the original cause.
func (ac *Construction[T]) Assert() error {
	ac.lock.Lock()
	defer ac.lock.Unlock()
	switch ac.status {
	case Active:
		return nil
	case Incapacitated:
		return newIncapacitatedError(ac.name, ac.err)
	default:
		return newNotReadyError(ac.name, ac.status)
	}
}

// Ready reports whether the target is safe to use. Never regresses once true.
func (ac *Construction[T]) Ready() bool {
	ac.lock.Lock()
	defer ac.lock.Unlock()
	return ac.status == Active
}

func (ac *Construction[T]) Status() Status {
	ac.lock.Lock()
	defer ac.lock.Unlock()
	return ac.status
}

// Err returns the initialization failure, if any.
func (ac *Construction[T]) Err() error {
	ac.lock.Lock()
	defer ac.lock.Unlock()
	return ac.err
}
