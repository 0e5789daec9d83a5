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
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/srediag/futexrpc/internal/shm"
	"github.com/srediag/futexrpc/pkg/channel"
)

var regionSeq atomic.Uint64

// Host owns the shared region, constructs the channel in it and runs the
// serving peer. It is the client side of the channel.
type Host struct {
	conf   *Config
	logger *logger
	region *shm.MappedRegion
	ch     *channel.Channel
	peer   peer

	// mu serializes Stop and Close; stopped is also read by PeerAlive.
	mu      sync.Mutex
	stopped atomic.Bool
	closed  bool
}

// NewHost maps a region, constructs the channel and starts the peer. Calls
// may be issued as soon as it returns; they block until the peer serves.
func NewHost(ctx context.Context, conf *Config) (*Host, error) {
	if conf == nil {
		conf = DefaultConfig()
	}
	if err := VerifyConfig(conf); err != nil {
		return nil, err
	}
	h := &Host{conf: conf, logger: newLogger("host", conf.LogOutput)}

	name := conf.RegionName
	if name == "" {
		name = fmt.Sprintf("futexrpc_%d_%d", os.Getpid(), regionSeq.Add(1))
	}
	region, err := shm.MapRegion(ctx, shm.MapOptions{
		Name:       name,
		Size:       channel.RegionSize,
		Type:       conf.MemMapType,
		PathPrefix: conf.ShareMemoryPathPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("map region %s: %w", name, err)
	}
	h.region = region
	h.logger.debugf("mapped region name:%s type:%v path:%s", region.Name, region.Type, region.Path)

	h.ch, err = channel.Init(region.Addr, conf.SpinBudget)
	if err != nil {
		h.unmap(ctx)
		return nil, fmt.Errorf("init channel: %w", err)
	}

	switch conf.PeerMode {
	case PeerModeExec:
		var f *os.File
		if f, err = region.File(); err == nil {
			h.peer, err = startExecPeer(conf, f, h.logger)
		}
	case PeerModeGoroutine:
		h.peer, err = startGoroutinePeer(region.Addr, conf.Handler, os.Getpid(), h.logger)
	}
	if err != nil {
		h.unmap(ctx)
		return nil, err
	}
	return h, nil
}

func (h *Host) unmap(ctx context.Context) {
	if err := shm.UnmapRegion(ctx, h.region); err != nil {
		h.logger.warnf("unmap region %s: %v", h.region.Name, err)
	}
}

// Channel returns the channel shared with the peer.
func (h *Host) Channel() *channel.Channel { return h.ch }

// RegionPath returns the backing file of a MemMapTypeDevShmFile region.
func (h *Host) RegionPath() string { return h.region.Path }

// Call submits x to the peer and returns its result.
func (h *Host) Call(x float64) float64 { return h.ch.Call(x) }

// Stop asks the peer to leave its serve loop. It is idempotent and may race
// with Close, but not with Call.
func (h *Host) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked()
}

func (h *Host) stopLocked() {
	if h.stopped.Load() {
		return
	}
	h.ch.Stop()
	h.stopped.Store(true)
}

// ServerSleeps returns the peer's sleep counter.
func (h *Host) ServerSleeps() uint64 { return h.ch.ServerSleeps() }

// ClientSleeps returns the host's sleep counter.
func (h *Host) ClientSleeps() uint64 { return h.ch.ClientSleeps() }

// PeerPID returns the pid of the serving process.
func (h *Host) PeerPID() int { return h.peer.pid() }

// PeerAlive returns nil while the peer is serving.
func (h *Host) PeerAlive() error {
	if h.stopped.Load() {
		return ErrPeerExited
	}
	return h.peer.alive()
}

// Close stops the peer if it is still running, reaps it and unmaps the
// region. It returns ErrPeerExited when the peer had died before Stop.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHostClosed
	}
	h.closed = true

	var errs []error
	if !h.stopped.Load() {
		// Stop against a dead peer would block forever.
		if err := h.peer.alive(); err != nil {
			h.logger.errorf("peer pid:%d gone before stop: %v", h.peer.pid(), err)
			errs = append(errs, err)
		} else {
			h.stopLocked()
		}
	}
	if err := h.peer.reap(h.conf.ReapTimeout); err != nil && !errors.Is(err, ErrPeerExited) {
		errs = append(errs, err)
	}
	if debugMode {
		h.logger.debugf("closing region %s: %+v", h.region.Name, h.ch.Snapshot())
	}
	if err := shm.UnmapRegion(context.Background(), h.region); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
