package inventory

import (
	"context"

	"ec2inventory/awsd/models"
)

// Fetcher defines the interface for EC2 instance retrieval
type Fetcher interface {
	FetchInstances(ctx context.Context) ([]*models.Instance, string, error)
	GetInstance(ctx context.Context, region, instanceID string) (*models.Instance, error)
}

// Store defines the interface for the persisted inventory/index pair
type Store interface {
	IsValid() bool
	WriteInventory(doc interface{}) error
	WriteIndex(index interface{}) error
	LoadInventory() (map[string]interface{}, error)
	LoadIndex(out interface{}) error
}
