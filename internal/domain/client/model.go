package client

import "time"

// Client is a registered notification recipient.
type Client struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateRequest is the API request payload for registering a client.
type CreateRequest struct {
	Email string `json:"email" binding:"required"`
}
