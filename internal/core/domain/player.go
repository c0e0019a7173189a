package domain

import "time"

// ClientID is the opaque textual identity a playback client shares between
// its control and audio connections. It is derived from the MAC address the
// client advertises in its handshake.
type ClientID string

// ConnID is a stable, hashable identity token for one accepted TCP
// connection. It keys the session maps, so it must stay unique for the
// lifetime of the process even if the peer reconnects from the same address.
type ConnID string

// Player describes a playback client known to the server.
type Player struct {
	ID           ClientID      `json:"id"`
	MAC          string        `json:"mac"`
	DeviceID     uint8         `json:"device_id"`
	Revision     uint8         `json:"revision"`
	Capabilities []string      `json:"capabilities"`
	ConnectedAt  time.Time     `json:"connected_at"`
	LastSeen     time.Time     `json:"last_seen"`
	Latency      time.Duration `json:"latency"`
}

// StreamStatus is a point-in-time snapshot of the dispatcher, served by the
// operator API.
type StreamStatus struct {
	SampleRate        int       `json:"sample_rate"`
	CommandSessions   int       `json:"command_sessions"`
	StreamingSessions int       `json:"streaming_sessions"`
	Clients           []ClientID `json:"clients"`
	Timestamp         time.Time `json:"timestamp"`
}
