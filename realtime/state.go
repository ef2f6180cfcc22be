package realtime

// State is the lifecycle position of a Conn.
type State int32

const (
	// StateConnecting means a dial is in progress.
	StateConnecting State = iota
	// StateOpen means frames can be sent and are being received.
	StateOpen
	// StateRetryScheduled means the last connection closed or failed and the
	// next attempt waits on the retry timer.
	StateRetryScheduled
	// StateClosed is reached only through Conn.Close.
	StateClosed
)

var stateNames = []string{"connecting", "open", "retry_scheduled", "closed"}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
