package queue

import "time"

// TellerSession is the single registry record a teller owns. While Active it
// holds QueueType exclusively, as long as heartbeats keep arriving.
type TellerSession struct {
	TellerID      string      `bson:"_id" json:"teller_id"`
	QueueType     string      `bson:"queue_type,omitempty" json:"queue_type,omitempty"`
	Status        string      `bson:"status" json:"status"`
	Active        bool        `bson:"active" json:"active"`
	ClaimedAt     time.Time   `bson:"claimed_at" json:"claimed_at"`
	LastHeartbeat time.Time   `bson:"last_heartbeat" json:"last_heartbeat"`
	LastAction    *LastAction `bson:"last_action,omitempty" json:"last_action,omitempty"`
}

// LastAction is the one-slot undo record: the most recent ticket the teller
// completed or skipped.
type LastAction struct {
	TicketID TicketID  `bson:"ticket_id" json:"ticket_id"`
	State    string    `bson:"state" json:"state"`
	At       time.Time `bson:"at" json:"at"`
}

// Claim is the read-only view of who is serving which queue type.
type Claim struct {
	QueueType     string    `json:"queue_type"`
	TellerID      string    `json:"teller_id"`
	Status        string    `json:"status"`
	ClaimedAt     time.Time `json:"claimed_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Stale reports whether the session missed heartbeats for longer than window.
func (s *TellerSession) Stale(now time.Time, window time.Duration) bool {
	return now.Sub(s.LastHeartbeat) > window
}

// Holds reports whether the session is a live claim on queueType.
func (s *TellerSession) Holds(queueType string, now time.Time, window time.Duration) bool {
	return s != nil && s.Active && s.QueueType == queueType && !s.Stale(now, window)
}
