//go:build !unix

package main

import "os"

// Sleep and wake cannot be signalled here; the switch cases never match.
var (
	suspendSignal os.Signal
	resumeSignal  os.Signal
	powerSignals  []os.Signal
)
