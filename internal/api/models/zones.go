package models

// ZoneSummary is a brief zone description.
type ZoneSummary struct {
	Name        string `json:"name"`
	Class       string `json:"class"`
	Type        string `json:"type"`
	Loaded      bool   `json:"loaded"`
	Serial      uint32 `json:"serial"`
	RecordCount int    `json:"record_count"`
	FilePath    string `json:"file_path,omitempty"`
	Database    string `json:"database,omitempty"`
}

// ZoneListResponse contains the zones of one view.
type ZoneListResponse struct {
	View  string        `json:"view"`
	Zones []ZoneSummary `json:"zones"`
	Count int           `json:"count"`
}

// ZoneDetailResponse contains full zone details.
type ZoneDetailResponse struct {
	ZoneSummary
	View    string       `json:"view"`
	Records []ZoneRecord `json:"records"`
}

// ZoneRecord represents a single DNS record in a zone.
type ZoneRecord struct {
	Name  string `json:"name"`
	TTL   uint32 `json:"ttl"`
	Type  string `json:"type"`
	Value string `json:"value"`
}
