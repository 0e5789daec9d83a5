/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package plugin

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/panjf2000/ants/v2"

	"github.com/srediag/futexrpc/pkg/channel"
)

// peer is the running server side of a Host.
type peer interface {
	pid() int
	// alive returns nil while the serve loop runs.
	alive() error
	// reap waits up to timeout for the serve loop to end and releases the
	// peer's resources.
	reap(timeout time.Duration) error
}

func reapBackOff(timeout time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 50 * time.Millisecond
	b.MaxElapsedTime = timeout
	b.Reset()
	return b
}

// goroutinePeer serves the channel from a single-worker pool of the host
// process.
type goroutinePeer struct {
	pool   *ants.Pool
	done   chan struct{}
	host   int
	logger *logger
}

func startGoroutinePeer(mem []byte, h channel.Handler, hostPID int, l *logger) (*goroutinePeer, error) {
	ch, err := channel.Attach(mem)
	if err != nil {
		return nil, err
	}
	pool, err := ants.NewPool(1, ants.WithPanicHandler(func(v interface{}) {
		l.errorf("goroutine peer panicked: %v", v)
	}))
	if err != nil {
		return nil, fmt.Errorf("peer pool: %w", err)
	}
	p := &goroutinePeer{pool: pool, done: make(chan struct{}), host: hostPID, logger: l}
	if err := pool.Submit(func() {
		defer close(p.done)
		ch.Serve(h)
	}); err != nil {
		pool.Release()
		return nil, fmt.Errorf("peer submit: %w", err)
	}
	return p, nil
}

func (p *goroutinePeer) pid() int { return p.host }

func (p *goroutinePeer) alive() error {
	select {
	case <-p.done:
		return ErrPeerExited
	default:
		return nil
	}
}

func (p *goroutinePeer) reap(timeout time.Duration) error {
	err := backoff.Retry(func() error {
		if p.alive() == nil {
			return errPeerRunning
		}
		return nil
	}, reapBackOff(timeout))
	if err != nil {
		// A goroutine cannot be killed; leave the pool to it.
		p.logger.warnf("goroutine peer still serving after %v", timeout)
		return ErrReapTimeout
	}
	p.pool.Release()
	return nil
}
