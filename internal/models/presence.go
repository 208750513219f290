package models

import "time"

// Stats is the read-only summary exposed on the health endpoint
type Stats struct {
	Users       int `json:"users"`
	ActiveCalls int `json:"activeCalls"`
}

// OnlineUser describes one identity with a live connection
type OnlineUser struct {
	Identity     string    `json:"identity"`
	ConnectionID string    `json:"connectionId"`
	ConnectedAt  time.Time `json:"connectedAt"`
}

// ActiveCall is one call session, reported once per unordered pair
type ActiveCall struct {
	Identities [2]string `json:"identities"`
}

// Snapshot is a consistent copy of the relay state
type Snapshot struct {
	Users []OnlineUser `json:"users"`
	Calls []ActiveCall `json:"calls"`
	Stats Stats        `json:"stats"`
}
