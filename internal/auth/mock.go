package auth

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockAuthenticator struct {
	mock.Mock
}

func (m *MockAuthenticator) Authenticate(ctx context.Context, credential string) (int, error) {
	args := m.Called(ctx, credential)
	return args.Int(0), args.Error(1)
}
