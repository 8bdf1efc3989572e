package dto

type HealthResponse struct {
	Status      string `json:"status"`
	Store       string `json:"store"`
	Agents      int    `json:"agents"`
	Subscribers int    `json:"subscribers"`
	Error       string `json:"error,omitempty"`
}
