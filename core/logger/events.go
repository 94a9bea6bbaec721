package logger

// LogEntry is one line of the newline delimited JSON event log. Exactly one
// of the event fields is set.
type LogEntry struct {
	TimestampMicros int64  `json:"timestamp_micros"`
	SessionID       string `json:"session_id,omitempty"`

	ClientConnect    *ClientConnect    `json:"client_connect,omitempty"`
	ClientDisconnect *ClientDisconnect `json:"client_disconnect,omitempty"`
	Subscribe        *Subscribe        `json:"subscribe,omitempty"`
	Unsubscribe      *Unsubscribe      `json:"unsubscribe,omitempty"`
	SubscribeError   *SubscribeError   `json:"subscribe_error,omitempty"`
	InvalidMessage   *InvalidMessage   `json:"invalid_message,omitempty"`
	BackendConnect   *BackendConnect   `json:"backend_connect,omitempty"`
	BackendDrop      *BackendDrop      `json:"backend_drop,omitempty"`
}

// Event is an entry type that can be recorded in the log.
type Event interface {
	attach(le *LogEntry)
}

// ClientConnect records a new WebSocket session.
type ClientConnect struct {
	// RemoteAddr of the TCP peer.
	RemoteAddr string `json:"remote_addr"`
	// ClientIP is the first X-Forwarded-For entry when set, otherwise the
	// remote address host.
	ClientIP string `json:"client_ip"`
	// ListenAddr of the server the client connected to.
	ListenAddr string `json:"listen_addr,omitempty"`
}

func (e *ClientConnect) attach(le *LogEntry) { le.ClientConnect = e }

// ClientDisconnect records the end of a session.
type ClientDisconnect struct {
	Reason string `json:"reason,omitempty"`
	// ChangesSent counts change frames delivered over the session.
	ChangesSent int64 `json:"changes_sent"`
}

func (e *ClientDisconnect) attach(le *LogEntry) { le.ClientDisconnect = e }

// Subscribe records wikis added to a session's subscription set.
type Subscribe struct {
	Wikis []string `json:"wikis"`
	// Total subscriptions after the call.
	Total int `json:"total"`
}

func (e *Subscribe) attach(le *LogEntry) { le.Subscribe = e }

// Unsubscribe records wikis removed from a session's subscription set.
type Unsubscribe struct {
	Wikis []string `json:"wikis"`
	Total int      `json:"total"`
}

func (e *Unsubscribe) attach(le *LogEntry) { le.Unsubscribe = e }

// SubscribeError records a rejected subscription.
type SubscribeError struct {
	Wiki  string `json:"wiki"`
	Error string `json:"error"`
}

func (e *SubscribeError) attach(le *LogEntry) { le.SubscribeError = e }

// InvalidMessage records an unparseable or malformed inbound frame.
type InvalidMessage struct {
	Reason string `json:"reason"`
	// Data holds a truncated copy of the offending frame.
	Data string `json:"data,omitempty"`
}

func (e *InvalidMessage) attach(le *LogEntry) { le.InvalidMessage = e }

// BackendConnect records a successful Redis subscription.
type BackendConnect struct {
	Addr    string `json:"addr"`
	Pattern string `json:"pattern"`
}

func (e *BackendConnect) attach(le *LogEntry) { le.BackendConnect = e }

// BackendDrop records a lost Redis connection.
type BackendDrop struct {
	Error string `json:"error"`
}

func (e *BackendDrop) attach(le *LogEntry) { le.BackendDrop = e }
