package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/docjob-queue/internal/domain"
)

// Converter performs one conversion and returns the output artifact reference
type Converter interface {
	Convert(ctx context.Context, settings Settings) (string, error)
}

// ArtifactStore removes every artifact stored under a namespace
type ArtifactStore interface {
	DeleteNamespace(ctx context.Context, namespace string) error
}

// Executor dispatches jobs to the converter registered for their operation
type Executor struct {
	converters map[domain.OperationType]Converter
	artifacts  ArtifactStore
	logger     *slog.Logger
}

// New creates an Executor with no registered converters
func New(artifacts ArtifactStore, logger *slog.Logger) *Executor {
	return &Executor{
		converters: make(map[domain.OperationType]Converter),
		artifacts:  artifacts,
		logger:     logger,
	}
}

// Register binds a converter to an operation. Registering an unknown operation panics.
func (e *Executor) Register(op domain.OperationType, converter Converter) {
	if !op.Valid() {
		panic(fmt.Sprintf("executor: unknown operation %q", op))
	}
	e.converters[op] = converter
}

// RegisterAll binds one converter to every supported operation
func (e *Executor) RegisterAll(converter Converter) {
	for _, op := range domain.OperationTypes {
		e.Register(op, converter)
	}
}

// Run converts the job and records the output reference in job.OutputFile
func (e *Executor) Run(ctx context.Context, job *domain.Job) error {
	converter, ok := e.converters[job.Type]
	if !ok {
		return fmt.Errorf("%w: %w %q", domain.ErrInvalidPayload, domain.ErrUnknownOperation, job.Type)
	}

	settings, err := DecodeSettings(job.Type, job.Message)
	if err != nil {
		return err
	}
	settings.bind(job.ID)

	e.logger.Debug("Running conversion",
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
	)

	// Converter errors are returned unwrapped so the recorded message is the backend's own
	output, err := converter.Convert(ctx, settings)
	if err != nil {
		return err
	}
	if output == "" {
		return fmt.Errorf("failed to run %s: converter returned no output", job.Type)
	}

	job.OutputFile = output
	return nil
}

// DeleteResources removes every artifact stored for the job
func (e *Executor) DeleteResources(ctx context.Context, job *domain.Job) error {
	if job.ID == "" {
		return nil
	}
	if err := e.artifacts.DeleteNamespace(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to delete resources for job %s: %w", job.ID, err)
	}
	return nil
}

// Classify maps an execution error to the failure recorded on the job
func (e *Executor) Classify(err error) domain.Failure {
	return Classify(err)
}

// Classify maps an execution error to the failure recorded on the job.
// Anything unrecognised is a server error carrying the original message.
func Classify(err error) domain.Failure {
	if err == nil {
		return domain.Failure{}
	}

	var convErr *domain.ConversionError
	if errors.As(err, &convErr) {
		if f, ok := domain.FailureFor(convErr.Reason); ok {
			return f
		}
	}

	if reason, ok := reasonFromMessage(err.Error()); ok {
		f, _ := domain.FailureFor(reason)
		return f
	}

	switch {
	case errors.Is(err, domain.ErrInvalidPayload):
		return domain.Failure{Kind: domain.KindUserError, Code: http.StatusBadRequest, Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ServerFailure(http.StatusGatewayTimeout, "The conversion timed out")
	}

	return domain.ServerFailure(http.StatusInternalServerError, err.Error())
}
