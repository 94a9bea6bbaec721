package logger

import (
	"encoding/json"
	"io"
	"sort"
)

// ReadJSONLinesLog parses a newline delimited JSON log.
func ReadJSONLinesLog(r io.Reader, handler func(le *LogEntry)) error {
	decoder := json.NewDecoder(r)
	for decoder.More() {
		var logEntry LogEntry
		if err := decoder.Decode(&logEntry); err != nil {
			return err
		}

		handler(&logEntry)
	}
	return nil
}

// Report holds statistics about the logged events.
type Report struct {
	LogEntries     int        `json:"log_entries"`
	InvalidEntries StrCounter `json:"unknown_log_entries,omitempty"`

	Connect        ConnectReport        `json:"connect_report"`
	Subscription   SubscriptionReport   `json:"subscription_report"`
	InvalidMessage InvalidMessageReport `json:"invalid_message_report"`
	Backend        BackendReport        `json:"backend_report"`
}

func (r *Report) Update(le *LogEntry) {
	r.LogEntries++

	switch {
	case le.ClientConnect != nil:
		r.Connect.update(le.ClientConnect)
	case le.ClientDisconnect != nil:
		r.Connect.updateDisconnect(le.ClientDisconnect)
	case le.Subscribe != nil:
		r.Subscription.update(le.Subscribe)
	case le.Unsubscribe != nil:
		r.Subscription.updateUnsubscribe(le.Unsubscribe)
	case le.SubscribeError != nil:
		r.Subscription.updateError(le.SubscribeError)
	case le.InvalidMessage != nil:
		r.InvalidMessage.update(le.InvalidMessage)
	case le.BackendConnect != nil, le.BackendDrop != nil:
		r.Backend.update(le)
	default:
		r.InvalidEntries.Increment("empty_entry")
	}
}

type ConnectReport struct {
	Count int `json:"count"`
	// List of client IPs and their counts.
	ClientIPs StrCounter `json:"client_ips"`
	// List of listen addresses and their counts.
	ListenAddrs StrCounter `json:"listen_addrs"`
	// List of disconnect reasons and their counts.
	DisconnectReasons StrCounter `json:"disconnect_reasons"`
	// Change frames delivered across all finished sessions.
	ChangesSent int64 `json:"changes_sent"`
}

func (r *ConnectReport) update(e *ClientConnect) {
	r.Count++
	r.ClientIPs.Increment(e.ClientIP)
	r.ListenAddrs.Increment(e.ListenAddr)
}

func (r *ConnectReport) updateDisconnect(e *ClientDisconnect) {
	r.DisconnectReasons.Increment(e.Reason)
	r.ChangesSent += e.ChangesSent
}

type SubscriptionReport struct {
	// List of subscribed wikis and their counts.
	Wikis StrCounter `json:"wikis"`
	// List of unsubscribed wikis and their counts.
	Unsubscribed StrCounter `json:"unsubscribed"`
	// Rejected subscriptions by wiki and error.
	Errors *PathCounter `json:"errors,omitempty"`
}

func (r *SubscriptionReport) update(e *Subscribe) {
	for _, wiki := range e.Wikis {
		r.Wikis.Increment(wiki)
	}
}

func (r *SubscriptionReport) updateUnsubscribe(e *Unsubscribe) {
	for _, wiki := range e.Wikis {
		r.Unsubscribed.Increment(wiki)
	}
}

func (r *SubscriptionReport) updateError(e *SubscribeError) {
	if r.Errors == nil {
		r.Errors = NewPathCounter("wiki", "error")
	}
	r.Errors.Increment(e.Wiki, e.Error)
}

type InvalidMessageReport struct {
	Count   int        `json:"count"`
	Reasons StrCounter `json:"reasons"`
}

func (r *InvalidMessageReport) update(e *InvalidMessage) {
	r.Count++
	r.Reasons.Increment(e.Reason)
}

type BackendReport struct {
	Connects int        `json:"connects"`
	Drops    int        `json:"drops"`
	Errors   StrCounter `json:"errors"`
}

func (r *BackendReport) update(le *LogEntry) {
	switch {
	case le.BackendConnect != nil:
		r.Connects++
	case le.BackendDrop != nil:
		r.Drops++
		r.Errors.Increment(le.BackendDrop.Error)
	}
}

// StrCounter counts the number of strings seen.
type StrCounter struct {
	internal map[string]int
}

// Increment adds one to the given key.
func (s *StrCounter) Increment(toAdd string) {
	if s.internal == nil {
		s.internal = make(map[string]int)
	}

	s.internal[toAdd]++
}

// Count returns the count for the given key.
func (s *StrCounter) Count(key string) int {
	return s.internal[key]
}

// MarshalJSON implemnts custom JSON marshaler.
func (s StrCounter) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.internal)
}

func NewPathCounter(cols ...string) *PathCounter {
	return &PathCounter{
		cols:     cols,
		internal: make(map[string]int),
	}
}

// PathCounter counts the number of string tuples seen.
type PathCounter struct {
	cols     []string
	internal map[string]int
}

// Increment adds one to the given key.
func (ctr *PathCounter) Increment(toAdd ...string) {
	if len(toAdd) != len(ctr.cols) {
		panic("wrong number of columns to add")
	}

	ctr.internal[toKey(toAdd...)]++
}

// MarshalJSON implemnts custom JSON marshaler.
func (ctr *PathCounter) MarshalJSON() ([]byte, error) {
	type Count struct {
		Count  int               `json:"count"`
		Fields map[string]string `json:"event"`
		Path   string            `json:"-"`
	}

	var out []Count
	for k, v := range ctr.internal {
		count := Count{
			Count:  v,
			Path:   k,
			Fields: make(map[string]string),
		}

		splitPath := fromKey(k)
		for colNum, colVal := range ctr.cols {
			count.Fields[colVal] = splitPath[colNum]
		}

		out = append(out, count)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Path < out[j].Path
		}
		return out[i].Count > out[j].Count
	})

	return json.Marshal(out)
}

func toKey(vals ...string) string {
	key, _ := json.Marshal(vals)
	return string(key)
}

func fromKey(key string) (out []string) {
	json.Unmarshal([]byte(key), &out)
	return
}
