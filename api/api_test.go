package api_test

import (
	"github.com/srediag/futexrpc/adapter"
	"github.com/srediag/futexrpc/api"
	"github.com/srediag/futexrpc/pkg/bench"
	"github.com/srediag/futexrpc/pkg/channel"
	"github.com/srediag/futexrpc/plugin"
)

var (
	_ api.Client        = (*channel.Channel)(nil)
	_ api.SleepCounters = (*channel.Channel)(nil)
	_ api.Client        = (*plugin.Host)(nil)
	_ api.SleepCounters = (*plugin.Host)(nil)
	_ api.Health        = (*plugin.Host)(nil)
	_ api.Client        = (*adapter.InstrumentedClient)(nil)
	_ bench.Target      = (*plugin.Host)(nil)
)
