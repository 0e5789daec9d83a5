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
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sys/unix"
)

// execPeer is a peer process started from PeerCommand with the region
// descriptor as fd 3.
type execPeer struct {
	cmd    *exec.Cmd
	logger *logger
	// Process.Release invalidates cmd.Process.Pid.
	childPID int

	mu     sync.Mutex
	exited bool
	status unix.WaitStatus
}

func startExecPeer(conf *Config, region *os.File, l *logger) (*execPeer, error) {
	cmd := exec.Command(conf.PeerCommand[0], conf.PeerCommand[1:]...)
	cmd.Env = append(os.Environ(), conf.PeerEnv...)
	cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%d", PeerFdEnv, peerFd))
	cmd.ExtraFiles = []*os.File{region}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = peerSysProcAttr()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start peer %s: %w", conf.PeerCommand[0], err)
	}
	l.infof("started peer pid:%d command:%q", cmd.Process.Pid, conf.PeerCommand)
	return &execPeer{cmd: cmd, logger: l, childPID: cmd.Process.Pid}, nil
}

func (p *execPeer) pid() int { return p.childPID }

// poll reaps the child without blocking and reports whether it exited.
func (p *execPeer) poll() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return true, nil
	}
	var ws unix.WaitStatus
	pid, err := unix.Wait4(p.pid(), &ws, unix.WNOHANG, nil)
	if err != nil {
		return false, fmt.Errorf("wait4 %d: %w", p.pid(), err)
	}
	if pid == p.pid() {
		p.exited = true
		p.status = ws
		_ = p.cmd.Process.Release()
		p.logger.infof("peer pid:%d exited status:%d", pid, ws.ExitStatus())
	}
	return p.exited, nil
}

func (p *execPeer) alive() error {
	exited, err := p.poll()
	if err != nil {
		return err
	}
	if exited {
		return fmt.Errorf("%w: %s", ErrPeerExited, describeStatus(p.status))
	}
	return nil
}

func (p *execPeer) reap(timeout time.Duration) error {
	err := backoff.Retry(func() error {
		exited, err := p.poll()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !exited {
			p.logger.tracef("peer pid:%d still running", p.pid())
			return errPeerRunning
		}
		return nil
	}, reapBackOff(timeout))
	if err == nil {
		if p.status.ExitStatus() != 0 {
			return fmt.Errorf("%w: %s", ErrPeerExited, describeStatus(p.status))
		}
		return nil
	}
	if !errors.Is(err, errPeerRunning) {
		return err
	}

	p.logger.warnf("peer pid:%d did not exit within %v, killing it", p.pid(), timeout)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.cmd.Process.Kill(); err != nil {
		p.logger.warnf("kill peer pid:%d: %v", p.pid(), err)
	}
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(p.pid(), &ws, 0, nil)
		if err == nil {
			break
		}
		if err != unix.EINTR {
			return fmt.Errorf("wait4 %d: %w", p.pid(), err)
		}
	}
	p.exited = true
	p.status = ws
	_ = p.cmd.Process.Release()
	return ErrPeerKilled
}

func describeStatus(ws unix.WaitStatus) string {
	if ws.Signaled() {
		return "killed by " + ws.Signal().String()
	}
	return fmt.Sprintf("exit status %d", ws.ExitStatus())
}
