// Package saga implements the generic orchestrator the payment flow runs
// on: ordered steps with execute/compensate pairs, forward execution,
// reverse-order compensation on failure, and crash recovery via a
// persisted Instance. Grounded on nat-prohmpiriya's pkg/saga (Definition/
// Step/Instance/Orchestrator/Store, Resume for interrupted sagas) and the
// teacher's Saga/SagaStep composition style, reworked onto the engine's
// structured domain errors and a Postgres-backed Store instead of
// Redis/memory.
package saga

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jsoonworld/fluxpay-engine/internal/domainerr"
	"github.com/jsoonworld/fluxpay-engine/internal/metrics"
)

type Status string

const (
	StatusStarted      Status = "STARTED"
	StatusProcessing   Status = "PROCESSING"
	StatusCompensating Status = "COMPENSATING"
	StatusCompensated  Status = "COMPENSATED"
	StatusCompleted    Status = "COMPLETED"
	StatusFailed       Status = "FAILED"
)

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCompensated || s == StatusFailed
}

type StepStatus string

const (
	StepPending     StepStatus = "PENDING"
	StepCompleted   StepStatus = "COMPLETED"
	StepFailed      StepStatus = "FAILED"
	StepCompensated StepStatus = "COMPENSATED"
)

// ExecuteFunc runs a step's forward action; it returns data merged into
// the saga's shared context for later steps to read.
type ExecuteFunc func(ctx context.Context, data map[string]interface{}) (map[string]interface{}, error)

// CompensateFunc undoes a step's forward action using the saga's
// accumulated context.
type CompensateFunc func(ctx context.Context, data map[string]interface{}) error

type Step struct {
	Name       string
	Execute    ExecuteFunc
	Compensate CompensateFunc
}

// Definition is a named, ordered list of steps.
type Definition struct {
	Name  string
	Steps []Step
}

func NewDefinition(name string, steps ...Step) *Definition {
	return &Definition{Name: name, Steps: steps}
}

// StepResult records one step's outcome against an instance.
type StepResult struct {
	StepName   string
	Status     StepStatus
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Instance is the persisted state of one saga execution.
type Instance struct {
	ID             string
	DefinitionName string
	TenantID       string
	Status         Status
	Data           map[string]interface{}
	StepResults    []StepResult
	CurrentStep    int
	FailedStep     string
	FailureReason  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// Store persists saga instances so a crashed process can resume them.
type Store interface {
	Save(ctx context.Context, instance *Instance) error
	Update(ctx context.Context, instance *Instance) error
	Get(ctx context.Context, id string) (*Instance, error)
	ListNonTerminal(ctx context.Context, limit int) ([]*Instance, error)
}

// Orchestrator runs named saga definitions to completion, persisting
// progress after every step so a crash mid-execution can be resumed from
// the last recorded step via Resume.
type Orchestrator struct {
	store       Store
	definitions map[string]*Definition
	logger      *zap.Logger
}

func NewOrchestrator(store Store, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{store: store, definitions: map[string]*Definition{}, logger: logger}
}

func (o *Orchestrator) Register(def *Definition) {
	o.definitions[def.Name] = def
}

// Execute creates a new instance and runs every step of the named
// definition in order, persisting progress after each step.
func (o *Orchestrator) Execute(ctx context.Context, definitionName, instanceID, tenantID string, initialData map[string]interface{}) (*Instance, error) {
	def, ok := o.definitions[definitionName]
	if !ok {
		return nil, fmt.Errorf("saga: definition %q not registered", definitionName)
	}
	if initialData == nil {
		initialData = map[string]interface{}{}
	}
	now := time.Now().UTC()
	instance := &Instance{
		ID: instanceID, DefinitionName: definitionName, TenantID: tenantID,
		Status: StatusStarted, Data: initialData, CurrentStep: 0,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := o.store.Save(ctx, instance); err != nil {
		return nil, domainerr.NewInternalError(err)
	}
	return o.run(ctx, def, instance, 0)
}

// Resume continues an interrupted instance: STARTED and PROCESSING
// instances pick up execution from CurrentStep; COMPENSATING instances resume
// compensation. Terminal instances are returned unchanged.
func (o *Orchestrator) Resume(ctx context.Context, instanceID string) (*Instance, error) {
	instance, err := o.store.Get(ctx, instanceID)
	if err != nil {
		return nil, domainerr.NewInternalError(err)
	}
	def, ok := o.definitions[instance.DefinitionName]
	if !ok {
		return nil, fmt.Errorf("saga: definition %q not registered", instance.DefinitionName)
	}
	switch instance.Status {
	case StatusStarted, StatusProcessing:
		return o.run(ctx, def, instance, instance.CurrentStep)
	case StatusCompensating:
		return o.compensate(ctx, def, instance, sagaErr(instance))
	default:
		return instance, nil
	}
}

func (o *Orchestrator) run(ctx context.Context, def *Definition, instance *Instance, fromStep int) (*Instance, error) {
	instance.Status = StatusProcessing
	o.persist(ctx, instance)

	for i := fromStep; i < len(def.Steps); i++ {
		step := def.Steps[i]
		instance.CurrentStep = i
		o.persist(ctx, instance)

		started := time.Now().UTC()
		result, err := step.Execute(ctx, instance.Data)
		finished := time.Now().UTC()

		if err != nil {
			instance.StepResults = append(instance.StepResults, StepResult{
				StepName: step.Name, Status: StepFailed, Error: err.Error(),
				StartedAt: started, FinishedAt: finished,
			})
			instance.FailedStep = step.Name
			instance.FailureReason = err.Error()
			instance.Status = StatusCompensating
			o.persist(ctx, instance)
			return o.compensate(ctx, def, instance, err)
		}

		instance.StepResults = append(instance.StepResults, StepResult{
			StepName: step.Name, Status: StepCompleted, StartedAt: started, FinishedAt: finished,
		})
		for k, v := range result {
			instance.Data[k] = v
		}
		o.persist(ctx, instance)
	}

	now := time.Now().UTC()
	instance.Status = StatusCompleted
	instance.CompletedAt = &now
	o.persist(ctx, instance)
	return instance, nil
}

// compensate undoes every completed step in reverse declaration order.
// If any compensation itself fails, the instance is left FAILED for
// operator intervention rather than silently reset.
func (o *Orchestrator) compensate(ctx context.Context, def *Definition, instance *Instance, cause error) (*Instance, error) {
	compensationFailed := false

	for i := len(instance.StepResults) - 1; i >= 0; i-- {
		result := &instance.StepResults[i]
		if result.Status != StepCompleted {
			continue
		}
		var step *Step
		for j := range def.Steps {
			if def.Steps[j].Name == result.StepName {
				step = &def.Steps[j]
				break
			}
		}
		if step == nil || step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx, instance.Data); err != nil {
			o.logger.Error("saga: compensation step failed",
				zap.String("saga", instance.DefinitionName), zap.String("step", step.Name), zap.Error(err))
			metrics.SagaCompensationFailuresTotal.WithLabelValues(instance.DefinitionName, step.Name).Inc()
			compensationFailed = true
			continue
		}
		result.Status = StepCompensated
		o.persist(ctx, instance)
	}

	now := time.Now().UTC()
	instance.CompletedAt = &now
	if compensationFailed {
		instance.Status = StatusFailed
		o.persist(ctx, instance)
		return instance, (&domainerr.SagaExecutionError{
			SagaID: instance.ID, FailedStep: instance.FailedStep, Cause: cause, CompensationFailed: true,
		}).AsDomainError()
	}

	instance.Status = StatusCompensated
	o.persist(ctx, instance)
	return instance, (&domainerr.SagaExecutionError{
		SagaID: instance.ID, FailedStep: instance.FailedStep, Cause: cause, CompensationFailed: false,
	}).AsDomainError()
}

func (o *Orchestrator) persist(ctx context.Context, instance *Instance) {
	instance.UpdatedAt = time.Now().UTC()
	if err := o.store.Update(ctx, instance); err != nil {
		o.logger.Error("saga: failed to persist instance", zap.String("saga_id", instance.ID), zap.Error(err))
	}
}

func sagaErr(instance *Instance) error {
	return fmt.Errorf("%s", instance.FailureReason)
}

// RecoverNonTerminal resumes every saga instance left in a non-terminal
// status, the recovery sweep a process runs at startup after a crash.
// It returns the count of instances found, including those whose resume
// failed; such failures are logged rather than returned as an error.
func (o *Orchestrator) RecoverNonTerminal(ctx context.Context, limit int) (int, error) {
	instances, err := o.store.ListNonTerminal(ctx, limit)
	if err != nil {
		return 0, domainerr.NewInternalError(err)
	}
	for _, instance := range instances {
		if _, err := o.Resume(ctx, instance.ID); err != nil {
			o.logger.Error("saga: recovery resume failed", zap.String("saga_id", instance.ID), zap.Error(err))
		}
	}
	return len(instances), nil
}
