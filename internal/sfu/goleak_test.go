package sfu

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies the Acceptor/Forwarder/Session goroutines this package
// spawns all exit when their owning test returns, catching the class of
// shutdown hang spec.md §5 warns against.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
