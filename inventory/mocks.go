package inventory

import (
	"context"

	"github.com/stretchr/testify/mock"

	"ec2inventory/awsd/models"
)

// MockFetcher is a mock implementation of Fetcher
type MockFetcher struct {
	mock.Mock
}

// FetchInstances mocks the FetchInstances method
func (m *MockFetcher) FetchInstances(ctx context.Context) ([]*models.Instance, string, error) {
	args := m.Called(ctx)
	var instances []*models.Instance
	if args.Get(0) != nil {
		instances = args.Get(0).([]*models.Instance)
	}
	return instances, args.String(1), args.Error(2)
}

// GetInstance mocks the GetInstance method
func (m *MockFetcher) GetInstance(ctx context.Context, region, instanceID string) (*models.Instance, error) {
	args := m.Called(ctx, region, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Instance), args.Error(1)
}

// MockStore is a mock implementation of Store
type MockStore struct {
	mock.Mock
}

// IsValid mocks the IsValid method
func (m *MockStore) IsValid() bool {
	args := m.Called()
	return args.Bool(0)
}

// WriteInventory mocks the WriteInventory method
func (m *MockStore) WriteInventory(doc interface{}) error {
	args := m.Called(doc)
	return args.Error(0)
}

// WriteIndex mocks the WriteIndex method
func (m *MockStore) WriteIndex(index interface{}) error {
	args := m.Called(index)
	return args.Error(0)
}

// LoadInventory mocks the LoadInventory method
func (m *MockStore) LoadInventory() (map[string]interface{}, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

// LoadIndex mocks the LoadIndex method
func (m *MockStore) LoadIndex(out interface{}) error {
	args := m.Called(out)
	return args.Error(0)
}
