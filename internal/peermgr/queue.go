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

package peermgr

import (
	"context"
	"sync"
	"time"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/kaleido-io/matternode/internal/msgs"
	"golang.org/x/time/rate"
)

// interactionQueue admits a bounded number of concurrent interactions in
// strict arrival order, and spaces successive admissions so that
// resource-constrained endpoints are not hit with bursts.
type interactionQueue struct {
	concurrency int
	limiter     *rate.Limiter

	lock    sync.Mutex
	active  int
	waiters []chan error
	closed  bool
}

func newInteractionQueue(concurrency int, admissionDelay time.Duration) *interactionQueue {
	return &interactionQueue{
		concurrency: concurrency,
		limiter:     rate.NewLimiter(rate.Every(admissionDelay), 1),
	}
}

// Acquire blocks until a slot is granted, the context ends, or the queue is
// closed. A granted slot must be paired with Release.
func (q *interactionQueue) Acquire(ctx context.Context) error {
	q.lock.Lock()
	if q.closed {
		q.lock.Unlock()
		return i18n.NewError(ctx, msgs.MsgQueueClosed)
	}
	if q.active < q.concurrency && len(q.waiters) == 0 {
		q.active++
		q.lock.Unlock()
		return q.pace(ctx)
	}

	// FIFO: join the tail and wait to be granted by a Release
	w := make(chan error, 1)
	q.waiters = append(q.waiters, w)
	q.lock.Unlock()

	select {
	case err := <-w:
		if err != nil {
			return err
		}
		return q.pace(ctx)
	case <-ctx.Done():
		q.lock.Lock()
		for i, other := range q.waiters {
			if other == w {
				q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
				q.lock.Unlock()
				return ctx.Err()
			}
		}
		q.lock.Unlock()
		// Granted while we were abandoning - pass the slot on
		if err := <-w; err == nil {
			q.Release()
		}
		return ctx.Err()
	}
}

// pace enforces the inter-admission delay after the slot is granted, so the
// spacing applies to admissions rather than to arrivals.
func (q *interactionQueue) pace(ctx context.Context) error {
	if err := q.limiter.Wait(ctx); err != nil {
		q.Release()
		return err
	}
	return nil
}

func (q *interactionQueue) Release() {
	q.lock.Lock()
	defer q.lock.Unlock()
	q.active--
	if !q.closed && len(q.waiters) > 0 && q.active < q.concurrency {
		w := q.waiters[0]
		q.waiters = q.waiters[1:]
		q.active++
		w <- nil
	}
}

// Close stops new admissions. In-flight interactions run to completion;
// queued waiters are released with an error.
func (q *interactionQueue) Close() {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	closedErr := i18n.NewError(context.Background(), msgs.MsgQueueClosed)
	for _, w := range q.waiters {
		w <- closedErr
	}
	q.waiters = nil
}
