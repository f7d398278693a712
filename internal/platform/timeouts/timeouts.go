// Package timeouts defines the few timeouts the publisher owns itself.
// Transaction submission and confirmation have none; they inherit the chain
// client's defaults and the run's signal context.
package timeouts

import "time"

// ChainDial caps the wait for the initial RPC connection and chain id lookup.
const ChainDial = 10 * time.Second

// Shutdown limits how long telemetry flushing may take when the command exits.
const Shutdown = 5 * time.Second
