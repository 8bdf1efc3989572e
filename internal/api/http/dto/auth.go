package dto

import "time"

type TokenRequest struct {
	Subject    string `json:"subject" binding:"required,min=1,max=255"`
	Role       string `json:"role" binding:"omitempty,oneof=viewer admin"`
	TTLSeconds int64  `json:"ttl_seconds" binding:"omitempty,min=1"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	Subject   string    `json:"subject"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}
