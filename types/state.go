package types

// ConnectionState is the state of the sensor link.
// Owned by the link; everyone else observes it through events.
type ConnectionState string

// Connection states.
const (
	StateIdle          ConnectionState = "idle"
	StateConnecting    ConnectionState = "connecting"
	StateListening     ConnectionState = "listening"
	StateDisconnecting ConnectionState = "disconnecting"
)

// String returns the state name.
func (s ConnectionState) String() string {
	if s == "" {
		return string(StateIdle)
	}
	return string(s)
}

// Active returns true while a session holds the link.
func (s ConnectionState) Active() bool {
	return s == StateConnecting || s == StateListening || s == StateDisconnecting
}
