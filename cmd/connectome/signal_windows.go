//go:build windows

package main

import (
	"os"
	"os/signal"
)

// notifySignals routes interrupts to ch so a sweep or server can stop cleanly.
// On Windows, only os.Interrupt (Ctrl+C) is supported; SIGTERM does not exist.
func notifySignals(ch chan<- os.Signal) {
	signal.Notify(ch, os.Interrupt)
}
