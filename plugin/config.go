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
	"io"
	"os"
	"strconv"
	"time"

	"github.com/srediag/futexrpc/internal/shm"
	"github.com/srediag/futexrpc/pkg/channel"
)

// MemMapType selects how the channel region is backed.
type MemMapType = shm.MapType

const (
	// MemMapTypeMemFd maps an anonymous memfd; the peer inherits its descriptor.
	MemMapTypeMemFd = shm.MapTypeMemFd
	// MemMapTypeDevShmFile maps a file under ShareMemoryPathPrefix; the peer
	// inherits its descriptor and the file can be inspected while running.
	MemMapTypeDevShmFile = shm.MapTypeDevShmFile
	// MemMapTypeAnonymous maps anonymous shared memory, usable only with
	// PeerModeGoroutine.
	MemMapTypeAnonymous = shm.MapTypeAnonymous
)

// PeerMode selects how the serving peer is started.
type PeerMode uint8

const (
	// PeerModeExec runs PeerCommand as a separate process.
	PeerModeExec PeerMode = iota
	// PeerModeGoroutine runs the serve loop on a goroutine of the host.
	PeerModeGoroutine
)

func (m PeerMode) String() string {
	switch m {
	case PeerModeExec:
		return "exec"
	case PeerModeGoroutine:
		return "goroutine"
	default:
		return "PeerMode(" + strconv.Itoa(int(m)) + ")"
	}
}

// ParsePeerMode is the inverse of PeerMode.String.
func ParsePeerMode(s string) (PeerMode, error) {
	switch s {
	case "exec":
		return PeerModeExec, nil
	case "goroutine":
		return PeerModeGoroutine, nil
	}
	return 0, fmt.Errorf("unknown peer mode %q", s)
}

const (
	defaultReapTimeout = 5 * time.Second

	// PeerFdEnv names the environment variable that carries the inherited
	// region descriptor to an exec'd peer.
	PeerFdEnv = "FUTEXRPC_PEER_FD"
	// peerFd is the descriptor number of ExtraFiles[0] in the child.
	peerFd = 3
)

// Config is used to tune the Host.
type Config struct {
	// SpinBudget is the number of polls of the state word before a role
	// parks in the kernel.
	SpinBudget uint32

	// MemMapType selects the backing of the shared region.
	MemMapType MemMapType

	// ShareMemoryPathPrefix is the path prefix of the region file for
	// MemMapTypeDevShmFile.
	ShareMemoryPathPrefix string

	// RegionName names the region. A unique name is generated when empty.
	RegionName string

	// PeerMode selects how the peer is started.
	PeerMode PeerMode

	// PeerCommand is the program and arguments run for PeerModeExec. The
	// program must call ServePeer.
	PeerCommand []string

	// PeerEnv is appended to the host environment of an exec'd peer.
	PeerEnv []string

	// Handler is the server transformation used by PeerModeGoroutine. An
	// exec'd peer picks its own handler.
	Handler channel.Handler

	// ReapTimeout bounds how long Close waits for the peer after Stop.
	ReapTimeout time.Duration

	// LogOutput is where the host logs.
	LogOutput io.Writer
}

// DefaultConfig is used to create a default config.
func DefaultConfig() *Config {
	return &Config{
		SpinBudget:            channel.DefaultSpinBudget,
		MemMapType:            MemMapTypeMemFd,
		ShareMemoryPathPrefix: shm.DefaultPathPrefix,
		PeerMode:              PeerModeExec,
		Handler:               channel.DefaultHandler,
		ReapTimeout:           defaultReapTimeout,
		LogOutput:             os.Stdout,
	}
}

// VerifyConfig is used to verify the sanity of configuration
func VerifyConfig(config *Config) error {
	if config.SpinBudget == 0 {
		return fmt.Errorf("%w: SpinBudget must be positive", ErrInvalidConfig)
	}
	switch config.MemMapType {
	case MemMapTypeMemFd, MemMapTypeAnonymous:
	case MemMapTypeDevShmFile:
		if config.ShareMemoryPathPrefix == "" {
			return fmt.Errorf("%w: ShareMemoryPathPrefix is required for %v", ErrInvalidConfig, config.MemMapType)
		}
	default:
		return fmt.Errorf("%w: unsupported MemMapType %v", ErrInvalidConfig, config.MemMapType)
	}
	switch config.PeerMode {
	case PeerModeExec:
		if len(config.PeerCommand) == 0 {
			return fmt.Errorf("%w: PeerCommand is required for %v", ErrInvalidConfig, config.PeerMode)
		}
		if config.MemMapType == MemMapTypeAnonymous {
			return fmt.Errorf("%w: %v mapping cannot be shared with an %v peer", ErrInvalidConfig, config.MemMapType, config.PeerMode)
		}
	case PeerModeGoroutine:
	default:
		return fmt.Errorf("%w: unsupported PeerMode %v", ErrInvalidConfig, config.PeerMode)
	}
	if config.ReapTimeout <= 0 {
		return fmt.Errorf("%w: ReapTimeout must be positive", ErrInvalidConfig)
	}
	return nil
}
