package domain

import (
	"sort"
	"time"
)

// StateVersion is the schema version written into every persisted relay state
const StateVersion = 1

// DefaultTimestampCapacity bounds RecentMessageTimestamps when no capacity is configured
const DefaultTimestampCapacity = 100

// ConversationRecord is the relay bookkeeping for one bridged conversation
type ConversationRecord struct {
	ConversationID    string        `json:"conversation_id"`
	RemoteChannelID   string        `json:"remote_channel_id,omitempty"`
	Cursor            int64         `json:"cursor"`
	CursorInitialized bool          `json:"cursor_initialized,omitempty"`
	PollInterval      float64       `json:"poll_interval"` // seconds
	ActivityState     ActivityState `json:"activity_state"`

	// RecentMessageTimestamps feeds the burst check only, it is not history
	RecentMessageTimestamps []time.Time `json:"recent_message_timestamps,omitempty"`

	ActiveUntil      time.Time `json:"active_until"`
	LastPolledAt     time.Time `json:"last_polled_at"`
	LastNameCheckAt  time.Time `json:"last_name_check_at"`
	DeliveryFailures int       `json:"delivery_failures,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Mapped reports whether a remote channel has been provisioned
func (r *ConversationRecord) Mapped() bool {
	return r.RemoteChannelID != ""
}

// PollPeriod returns PollInterval as a duration
func (r *ConversationRecord) PollPeriod() time.Duration {
	return time.Duration(r.PollInterval * float64(time.Second))
}

// NextDue returns the time the conversation should next be polled
func (r *ConversationRecord) NextDue() time.Time {
	return r.LastPolledAt.Add(r.PollPeriod())
}

// IsDue reports whether the conversation should be polled at now
func (r *ConversationRecord) IsDue(now time.Time) bool {
	return !now.Before(r.NextDue())
}

// RecordTimestamp appends a message timestamp, evicting the oldest entries beyond capacity
func (r *ConversationRecord) RecordTimestamp(ts time.Time, capacity int) {
	if capacity <= 0 {
		capacity = DefaultTimestampCapacity
	}
	r.RecentMessageTimestamps = append(r.RecentMessageTimestamps, ts)
	if over := len(r.RecentMessageTimestamps) - capacity; over > 0 {
		kept := make([]time.Time, capacity)
		copy(kept, r.RecentMessageTimestamps[over:])
		r.RecentMessageTimestamps = kept
	}
}

// ExtendActive pushes active_until forward to now+grace, never backwards
func (r *ConversationRecord) ExtendActive(now time.Time, grace time.Duration) {
	until := now.Add(grace)
	if until.After(r.ActiveUntil) {
		r.ActiveUntil = until
	}
}

// clone returns a deep copy
func (r *ConversationRecord) clone() *ConversationRecord {
	c := *r
	if r.RecentMessageTimestamps != nil {
		c.RecentMessageTimestamps = append([]time.Time(nil), r.RecentMessageTimestamps...)
	}
	return &c
}

// RelayState is the global relay document shared by the forwarder and the responder
type RelayState struct {
	Version             int                            `json:"version"`
	Conversations       map[string]*ConversationRecord `json:"conversations"`
	LastDiscoveryScanAt time.Time                      `json:"last_discovery_scan_at"`
	DisplayNames        map[string]string              `json:"display_names"`

	// Archived holds tombstones so discovery does not re-provision archived conversations
	Archived map[string]time.Time `json:"archived,omitempty"`
}

// NewRelayState returns an empty state at the current schema version
func NewRelayState() *RelayState {
	return &RelayState{
		Version:       StateVersion,
		Conversations: make(map[string]*ConversationRecord),
		DisplayNames:  make(map[string]string),
	}
}

// Normalize fills defaults for fields missing from an older or partial document
func (s *RelayState) Normalize() {
	if s.Version == 0 {
		s.Version = StateVersion
	}
	if s.Conversations == nil {
		s.Conversations = make(map[string]*ConversationRecord)
	}
	if s.DisplayNames == nil {
		s.DisplayNames = make(map[string]string)
	}
	for id, rec := range s.Conversations {
		if rec == nil {
			delete(s.Conversations, id)
			continue
		}
		if rec.ConversationID == "" {
			rec.ConversationID = id
		}
		if rec.ActivityState == "" {
			rec.ActivityState = ActivityIdle
		}
		// A record written before cursor_initialized existed but already forwarding
		if rec.Cursor > 0 {
			rec.CursorInitialized = true
		}
	}
}

// Conversation returns the record for id
func (s *RelayState) Conversation(id string) (*ConversationRecord, bool) {
	rec, ok := s.Conversations[id]
	return rec, ok
}

// EnsureConversation returns the record for id, creating an unmapped one if absent
func (s *RelayState) EnsureConversation(id string, now time.Time) (*ConversationRecord, bool) {
	if rec, ok := s.Conversations[id]; ok {
		return rec, false
	}
	rec := &ConversationRecord{
		ConversationID: id,
		ActivityState:  ActivityIdle,
		ActiveUntil:    now,
		CreatedAt:      now,
	}
	s.Conversations[id] = rec
	return rec, true
}

// Archive removes a conversation record and tombstones it, returning false if it did not exist
func (s *RelayState) Archive(id string, now time.Time) bool {
	if _, ok := s.Conversations[id]; !ok {
		return false
	}
	delete(s.Conversations, id)
	if s.Archived == nil {
		s.Archived = make(map[string]time.Time)
	}
	s.Archived[id] = now
	return true
}

// IsArchived reports whether id was archived by an operator
func (s *RelayState) IsArchived(id string) bool {
	_, ok := s.Archived[id]
	return ok
}

// ConversationIDs returns all conversation ids in ascending order
func (s *RelayState) ConversationIDs() []string {
	ids := make([]string, 0, len(s.Conversations))
	for id := range s.Conversations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ChannelIndex builds the reverse mapping remote channel id -> conversation id
func (s *RelayState) ChannelIndex() map[string]string {
	index := make(map[string]string, len(s.Conversations))
	for id, rec := range s.Conversations {
		if rec.Mapped() {
			index[rec.RemoteChannelID] = id
		}
	}
	return index
}

// Clone returns a deep copy safe to hand to another goroutine
func (s *RelayState) Clone() *RelayState {
	c := &RelayState{
		Version:             s.Version,
		Conversations:       make(map[string]*ConversationRecord, len(s.Conversations)),
		LastDiscoveryScanAt: s.LastDiscoveryScanAt,
		DisplayNames:        make(map[string]string, len(s.DisplayNames)),
	}
	for id, rec := range s.Conversations {
		c.Conversations[id] = rec.clone()
	}
	for k, v := range s.DisplayNames {
		c.DisplayNames[k] = v
	}
	if s.Archived != nil {
		c.Archived = make(map[string]time.Time, len(s.Archived))
		for k, v := range s.Archived {
			c.Archived[k] = v
		}
	}
	return c
}
