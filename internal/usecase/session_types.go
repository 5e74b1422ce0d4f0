package usecase

import (
	"time"

	"micscribe/internal/ports"
)

// activeSession is one underlying engine session. The generation lets the
// controller drop events from sessions it already detached.
type activeSession struct {
	generation uint64
	session    ports.RecognitionSession
	eventsDone chan struct{}
}

func waitForEvents(active *activeSession, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-active.eventsDone:
		return true
	case <-timer.C:
		return false
	}
}
