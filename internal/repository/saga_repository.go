package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/jsoonworld/fluxpay-engine/internal/saga"
)

// SagaInstanceModel is the GORM persistence model for saga_instances. Data
// and StepResults are stored as jsonb the way the order aggregate stores
// its line items, since a saga's shape varies per definition.
type SagaInstanceModel struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	DefinitionName string `gorm:"type:varchar(100);not null;index"`
	TenantID       string `gorm:"type:uuid;not null;index"`
	Status         string `gorm:"type:varchar(20);not null;index"`
	Data           []byte `gorm:"type:jsonb"`
	StepResults    []byte `gorm:"type:jsonb"`
	CurrentStep    int
	FailedStep     string `gorm:"type:varchar(100)"`
	FailureReason  string `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"type:timestamptz;not null"`
	UpdatedAt      time.Time `gorm:"type:timestamptz;not null"`
	CompletedAt    *time.Time `gorm:"type:timestamptz"`
}

func (SagaInstanceModel) TableName() string { return "saga_instances" }

// SagaRepository is the GORM-backed saga.Store. It runs outside
// tenant.ScopedTx deliberately: the recovery sweep at startup must be able
// to list non-terminal instances across every tenant in one query, the
// same cross-tenant-visibility reasoning used for the idempotency durable
// store.
type SagaRepository struct {
	db *gorm.DB
}

func NewSagaRepository(db *gorm.DB) *SagaRepository {
	return &SagaRepository{db: db}
}

func toSagaModel(i *saga.Instance) (*SagaInstanceModel, error) {
	data, err := json.Marshal(i.Data)
	if err != nil {
		return nil, err
	}
	results, err := json.Marshal(i.StepResults)
	if err != nil {
		return nil, err
	}
	return &SagaInstanceModel{
		ID: i.ID, DefinitionName: i.DefinitionName, TenantID: i.TenantID,
		Status: string(i.Status), Data: data, StepResults: results,
		CurrentStep: i.CurrentStep, FailedStep: i.FailedStep, FailureReason: i.FailureReason,
		CreatedAt: i.CreatedAt, UpdatedAt: i.UpdatedAt, CompletedAt: i.CompletedAt,
	}, nil
}

func toSagaInstance(m *SagaInstanceModel) (*saga.Instance, error) {
	var data map[string]interface{}
	if len(m.Data) > 0 {
		if err := json.Unmarshal(m.Data, &data); err != nil {
			return nil, err
		}
	} else {
		data = map[string]interface{}{}
	}
	var results []saga.StepResult
	if len(m.StepResults) > 0 {
		if err := json.Unmarshal(m.StepResults, &results); err != nil {
			return nil, err
		}
	}
	return &saga.Instance{
		ID: m.ID, DefinitionName: m.DefinitionName, TenantID: m.TenantID,
		Status: saga.Status(m.Status), Data: data, StepResults: results,
		CurrentStep: m.CurrentStep, FailedStep: m.FailedStep, FailureReason: m.FailureReason,
		CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt, CompletedAt: m.CompletedAt,
	}, nil
}

func (r *SagaRepository) Save(ctx context.Context, instance *saga.Instance) error {
	m, err := toSagaModel(instance)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *SagaRepository) Update(ctx context.Context, instance *saga.Instance) error {
	m, err := toSagaModel(instance)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&SagaInstanceModel{}).Where("id = ?", m.ID).Updates(map[string]interface{}{
		"status":         m.Status,
		"data":           m.Data,
		"step_results":   m.StepResults,
		"current_step":   m.CurrentStep,
		"failed_step":    m.FailedStep,
		"failure_reason": m.FailureReason,
		"updated_at":     m.UpdatedAt,
		"completed_at":   m.CompletedAt,
	}).Error
}

var ErrSagaNotFound = errors.New("saga: instance not found")

func (r *SagaRepository) Get(ctx context.Context, id string) (*saga.Instance, error) {
	var m SagaInstanceModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSagaNotFound
	}
	if err != nil {
		return nil, err
	}
	return toSagaInstance(&m)
}

// ListNonTerminal returns instances stuck in STARTED, PROCESSING, or
// COMPENSATING, the set a crash-recovery sweep must resume.
func (r *SagaRepository) ListNonTerminal(ctx context.Context, limit int) ([]*saga.Instance, error) {
	var models []SagaInstanceModel
	err := r.db.WithContext(ctx).
		Where("status IN ?", []string{string(saga.StatusStarted), string(saga.StatusProcessing), string(saga.StatusCompensating)}).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	instances := make([]*saga.Instance, 0, len(models))
	for i := range models {
		inst, err := toSagaInstance(&models[i])
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, nil
}
