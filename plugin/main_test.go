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
	"testing"

	"github.com/srediag/futexrpc/pkg/channel"
)

const testHandlerEnv = "FUTEXRPC_TEST_HANDLER"

// TestMain doubles as the peer program: a Host in PeerModeExec re-runs the
// test binary, which serves instead of running tests.
func TestMain(m *testing.M) {
	if IsPeer() {
		h := channel.DefaultHandler
		switch os.Getenv(testHandlerEnv) {
		case "negate":
			h = func(x float64) float64 { return -x }
		case "exit":
			// Simulates a peer that dies before serving.
			os.Exit(3)
		}
		if err := ServePeer(context.Background(), h); err != nil {
			fmt.Fprintln(os.Stderr, "peer:", err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}
