package resolver

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockResolver is a testify/mock implementation of the Resolver interface.
type MockResolver struct {
	mock.Mock
}

// Ensure MockResolver satisfies the Resolver interface at compile time.
var _ Resolver = (*MockResolver)(nil)

// UserName mocks the UserName method.
func (m *MockResolver) UserName(ctx context.Context, platform, scope, userID string) (string, error) {
	args := m.Called(ctx, platform, scope, userID)
	return args.String(0), args.Error(1)
}

// ScopeName mocks the ScopeName method.
func (m *MockResolver) ScopeName(ctx context.Context, platform, scope string) (string, error) {
	args := m.Called(ctx, platform, scope)
	return args.String(0), args.Error(1)
}
