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
	"fmt"
	"os"
	"strconv"

	"github.com/srediag/futexrpc/internal/shm"
	"github.com/srediag/futexrpc/pkg/channel"
)

// PeerFile returns the region descriptor a Host handed to this process. It
// returns ErrNotPeer when the process was not started by a Host.
func PeerFile() (*os.File, error) {
	v, ok := os.LookupEnv(PeerFdEnv)
	if !ok {
		return nil, ErrNotPeer
	}
	fd, err := strconv.Atoi(v)
	if err != nil || fd < 0 {
		return nil, fmt.Errorf("%s=%q: invalid descriptor", PeerFdEnv, v)
	}
	return os.NewFile(uintptr(fd), "futexrpc-region"), nil
}

// IsPeer reports whether the process was started by a Host.
func IsPeer() bool {
	_, ok := os.LookupEnv(PeerFdEnv)
	return ok
}

// ServePeer maps the region inherited from the host, attaches to the channel
// the host constructed and serves it with h until the host stops it.
func ServePeer(ctx context.Context, h channel.Handler) error {
	f, err := PeerFile()
	if err != nil {
		return err
	}
	region, err := shm.MapFile(ctx, "peer", f)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("map inherited region: %w", err)
	}
	ch, err := channel.Attach(region.Addr)
	if err != nil {
		_ = shm.UnmapRegion(ctx, region)
		return err
	}
	l := newLogger("peer", os.Stderr)
	l.infof("peer pid:%d serving spin:%d", os.Getpid(), ch.SpinBudget())
	ch.Serve(h)
	l.infof("peer pid:%d stopped serverSleeps:%d", os.Getpid(), ch.ServerSleeps())
	return shm.UnmapRegion(ctx, region)
}
