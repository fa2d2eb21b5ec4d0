package mocks

import (
	"context"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/queue"
	"github.com/stretchr/testify/mock"
)

// MockQueue is a mock implementation of queue.Queue interface.
type MockQueue struct {
	mock.Mock
}

var _ queue.Queue = (*MockQueue)(nil)

func (m *MockQueue) Enqueue(ctx context.Context, job *models.Job) (string, error) {
	args := m.Called(ctx, job)

	return args.String(0), args.Error(1)
}

func (m *MockQueue) Reserve(ctx context.Context) (*queue.Delivery, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*queue.Delivery), args.Error(1)
}

func (m *MockQueue) Complete(ctx context.Context, delivery *queue.Delivery, result any) error {
	args := m.Called(ctx, delivery, result)

	return args.Error(0)
}

func (m *MockQueue) Fail(ctx context.Context, delivery *queue.Delivery, cause error) (bool, error) {
	args := m.Called(ctx, delivery, cause)

	return args.Bool(0), args.Error(1)
}

func (m *MockQueue) Extend(ctx context.Context, delivery *queue.Delivery) error {
	args := m.Called(ctx, delivery)

	return args.Error(0)
}

func (m *MockQueue) Completed(ctx context.Context) ([]*queue.Record, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*queue.Record), args.Error(1)
}

func (m *MockQueue) Failed(ctx context.Context) ([]*queue.Record, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*queue.Record), args.Error(1)
}

func (m *MockQueue) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockQueue) Close() error {
	args := m.Called()

	return args.Error(0)
}
