package models

import "time"

// ServerStatusResponse describes the lifecycle state and the production
// generation.
type ServerStatusResponse struct {
	Phase         string     `json:"phase"`
	Generation    string     `json:"generation"`
	Views         int        `json:"views"`
	Zones         int        `json:"zones"`
	ManagedZones  int        `json:"managed_zones"`
	Started       time.Time  `json:"started"`
	LastReload    time.Time  `json:"last_reload"`
	LastError     string     `json:"last_error,omitempty"`
	Listening     []string   `json:"listening"`
	Uptime        string     `json:"uptime"`
	GoRoutines    int        `json:"goroutines"`
	MemoryAllocMB float64    `json:"memory_alloc_mb"`
	Queries       QueryStats `json:"queries"`
}

// QueryStats contains query accounting.
type QueryStats struct {
	Total  uint64 `json:"total"`
	Active int64  `json:"active"`
}

// ReloadResponse is returned by a successful reload.
type ReloadResponse struct {
	Status     string `json:"status"`
	Generation string `json:"generation"`
}
