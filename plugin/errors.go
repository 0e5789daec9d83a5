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

import "errors"

var (
	// ErrInvalidConfig wraps every VerifyConfig failure.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrPeerExited is returned when the serving peer is gone.
	ErrPeerExited = errors.New("peer exited")
	// ErrPeerKilled is returned by Close when the peer did not exit within
	// ReapTimeout after Stop and had to be killed.
	ErrPeerKilled = errors.New("peer killed after reap timeout")
	// ErrReapTimeout is returned by Close when a goroutine peer did not
	// return within ReapTimeout.
	ErrReapTimeout = errors.New("peer did not exit within reap timeout")
	// ErrNotPeer is returned by ServePeer when the process was not started
	// by a Host.
	ErrNotPeer = errors.New("process was not started as a peer")
	// ErrHostClosed is returned by Close on an already closed Host.
	ErrHostClosed = errors.New("host closed")

	errPeerRunning = errors.New("peer still running")
)
