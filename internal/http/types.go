package http

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatsResponse is the response body for GET /api/v1/stats.
type StatsResponse struct {
	Projects    int `json:"projects"`
	Datasets    int `json:"datasets"`
	Pointclouds int `json:"pointclouds"`
	Objects     int `json:"objects"`
	Figures     int `json:"figures"`
	Images      int `json:"images"`
	Links       int `json:"links"`
}
