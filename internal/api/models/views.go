package models

// ViewSummary is a brief view description.
type ViewSummary struct {
	Name      string `json:"name"`
	Class     string `json:"class"`
	State     string `json:"state"`
	Zones     int    `json:"zones"`
	Recursion bool   `json:"recursion"`
	Keys      int    `json:"keys"`
}

// ViewListResponse lists the views of the production generation in match
// order.
type ViewListResponse struct {
	Generation string        `json:"generation"`
	Views      []ViewSummary `json:"views"`
	Count      int           `json:"count"`
}
