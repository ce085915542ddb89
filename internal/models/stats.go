package models

// GlobalStats are process-wide counters, reset on restart.
type GlobalStats struct {
	TotalSessions      int `json:"total_sessions"`
	TotalBellsDetected int `json:"total_bells_detected"`
	TotalStops         int `json:"total_stops"`
	ActiveUsers        int `json:"active_users"`
	ActiveSessions     int `json:"active_sessions"`
}
