package mocks

import (
	"context"
	"time"

	"github.com/pixelsama/AgentifUI-sub002/pkg/models"
	"github.com/pixelsama/AgentifUI-sub002/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockExecutionRepository is a mock implementation of persistence.ExecutionRepository interface.
type MockExecutionRepository struct {
	mock.Mock
}

func (m *MockExecutionRepository) Create(ctx context.Context, record *models.ExecutionRecord) (string, error) {
	args := m.Called(ctx, record)

	return args.String(0), args.Error(1)
}

func (m *MockExecutionRepository) TransitionStatus(
	ctx context.Context,
	id string,
	status models.ExecutionStatus,
	errorMessage string,
	completedAt *time.Time,
) error {
	args := m.Called(ctx, id, status, errorMessage, completedAt)

	return args.Error(0)
}

func (m *MockExecutionRepository) WriteTerminalData(
	ctx context.Context,
	id string,
	data models.TerminalData,
) (*models.ExecutionRecord, error) {
	args := m.Called(ctx, id, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ExecutionRecord), args.Error(1)
}

func (m *MockExecutionRepository) ListByJobDefinition(
	ctx context.Context,
	jobDefinitionID, ownerID string,
	limit int,
) ([]*models.ExecutionRecord, error) {
	args := m.Called(ctx, jobDefinitionID, ownerID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.ExecutionRecord), args.Error(1)
}

func (m *MockExecutionRepository) GetByID(ctx context.Context, id string) (*models.ExecutionRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ExecutionRecord), args.Error(1)
}

func (m *MockExecutionRepository) ListStale(
	ctx context.Context,
	status models.ExecutionStatus,
	createdBefore time.Time,
	limit int,
) ([]*models.ExecutionRecord, error) {
	args := m.Called(ctx, status, createdBefore, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.ExecutionRecord), args.Error(1)
}

// MockJobDefinitionRepository is a mock implementation of persistence.JobDefinitionRepository interface.
type MockJobDefinitionRepository struct {
	mock.Mock
}

func (m *MockJobDefinitionRepository) List(ctx context.Context) ([]*models.JobDefinition, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.JobDefinition), args.Error(1)
}

func (m *MockJobDefinitionRepository) GetByExternalID(ctx context.Context, externalID string) (*models.JobDefinition, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.JobDefinition), args.Error(1)
}

func (m *MockJobDefinitionRepository) Save(ctx context.Context, definition *models.JobDefinition) error {
	args := m.Called(ctx, definition)

	return args.Error(0)
}

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock

	executionRepo *MockExecutionRepository
	jobDefRepo    *MockJobDefinitionRepository
}

func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		executionRepo: &MockExecutionRepository{},
		jobDefRepo:    &MockJobDefinitionRepository{},
	}
}

func (m *MockPersistence) GetMockExecutionRepository() *MockExecutionRepository {
	return m.executionRepo
}

func (m *MockPersistence) GetMockJobDefinitionRepository() *MockJobDefinitionRepository {
	return m.jobDefRepo
}

func (m *MockPersistence) ExecutionRepository() persistence.ExecutionRepository {
	return m.executionRepo
}

func (m *MockPersistence) JobDefinitionRepository() persistence.JobDefinitionRepository {
	return m.jobDefRepo
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
