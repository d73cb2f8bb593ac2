// Package runner coordinates a benchmark run across many WebSocket connections.
//
// A run opens the configured number of connections in ten ramp-up batches,
// lets each connection drive its own lifecycle, and waits until every
// connection has completed before summarizing.
//
// # Basic Usage
//
//	r := runner.New(runner.Options{
//		Target:                "wss://gateway.example.com/ws",
//		Connections:           500,
//		RequestsPerConnection: 100,
//		Interval:              200 * time.Millisecond,
//		RampUp:                30 * time.Second,
//		Dialer:                websocket.NewDialer(websocket.Config{}),
//	})
//	summary, err := r.Run(ctx)
//
// # Ramp-up
//
// Connections are split into at most ten batches whose sizes differ by at
// most one. Batches start RampUp/10 apart; the final batch has no trailing
// delay. Batches are not joined: the coordinator only watches the shared
// completed-connection counter, so a slow batch never holds up the next.
//
// # Errors
//
// Run fails only when the run cannot start, for example because the target
// is not a ws:// or wss:// URL. Connection failures are reported in the
// summary's error tally.
package runner
