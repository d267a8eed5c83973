package models

// Location is the child device's last reported position, written by the
// child agent alongside the heartbeat. Timestamp is Unix milliseconds.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp"`
}
