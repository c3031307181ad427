package client

import "context"

// Store defines the contract for persisting clients.
// Implementations live in infra/store/.
type Store interface {
	// CreateClient inserts a client. A duplicate email must surface as
	// common.ErrDuplicateClient.
	CreateClient(ctx context.Context, c *Client) error

	// GetClient retrieves a client by ID. Returns nil, nil if no record is found.
	GetClient(ctx context.Context, id string) (*Client, error)

	// ListClients returns all clients ordered by creation time.
	ListClients(ctx context.Context) ([]*Client, error)

	// DeleteClient removes a client. A client referenced by notification records
	// must surface as common.ErrClientInUse; a missing one as common.ErrClientNotFound.
	DeleteClient(ctx context.Context, id string) error
}
