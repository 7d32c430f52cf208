package executor_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/cuongbtq/docjob-queue/internal/domain"
	"github.com/cuongbtq/docjob-queue/internal/executor"
	"github.com/cuongbtq/docjob-queue/internal/mocks"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExecutor_Run(t *testing.T) {
	tests := []struct {
		name       string
		job        domain.Job
		setup      func(conv *mocks.MockConverter)
		wantOutput string
		wantErr    error
	}{
		{
			name: "success injects job id as namespace",
			job:  domain.Job{ID: "J1", Type: domain.OpWordToPdf, Message: `{"file":"report.docx"}`},
			setup: func(conv *mocks.MockConverter) {
				conv.EXPECT().Convert(gomock.Any(), gomock.Any()).
					DoAndReturn(func(_ context.Context, s executor.Settings) (string, error) {
						assert.Equal(t, "J1", s.Namespace())
						assert.Equal(t, domain.OpWordToPdf, s.Operation())
						assert.Equal(t, []string{"report.docx"}, s.Inputs())
						return "A", nil
					})
			},
			wantOutput: "A",
		},
		{
			name:    "empty payload",
			job:     domain.Job{ID: "J2", Type: domain.OpWordToPdf, Message: "  "},
			wantErr: domain.ErrInvalidPayload,
		},
		{
			name:    "null payload",
			job:     domain.Job{ID: "J2", Type: domain.OpMergePdf, Message: "null"},
			wantErr: domain.ErrInvalidPayload,
		},
		{
			name:    "unknown operation",
			job:     domain.Job{ID: "J3", Type: "ZipToPdf", Message: `{"file":"a.zip"}`},
			wantErr: domain.ErrUnknownOperation,
		},
		{
			name:    "missing required field",
			job:     domain.Job{ID: "J4", Type: domain.OpRotatePdf, Message: `{"file":"a.pdf","rotation_angle":"45","page_ranges":[{"start":1,"end":2}]}`},
			wantErr: domain.ErrInvalidPayload,
		},
		{
			name: "converter failure is returned unchanged",
			job:  domain.Job{ID: "J5", Type: domain.OpCompressPdf, Message: `{"file":"a.pdf"}`},
			setup: func(conv *mocks.MockConverter) {
				conv.EXPECT().Convert(gomock.Any(), gomock.Any()).Return("", errors.New("The password is invalid"))
			},
			wantErr: errors.New("The password is invalid"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			conv := mocks.NewMockConverter(ctrl)
			if tt.setup != nil {
				tt.setup(conv)
			}

			exec := executor.New(mocks.NewMockArtifactStore(ctrl), discardLogger())
			exec.RegisterAll(conv)

			job := tt.job
			err := exec.Run(context.Background(), &job)

			switch {
			case tt.wantErr == nil:
				require.NoError(t, err)
				assert.Equal(t, tt.wantOutput, job.OutputFile)
			case errors.Is(tt.wantErr, domain.ErrInvalidPayload) || errors.Is(tt.wantErr, domain.ErrUnknownOperation):
				require.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, domain.ErrInvalidPayload)
				assert.Empty(t, job.OutputFile)
			default:
				require.EqualError(t, err, tt.wantErr.Error())
			}
		})
	}
}

func TestExecutor_RunWithoutRegisteredConverter(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := executor.New(mocks.NewMockArtifactStore(ctrl), discardLogger())
	exec.Register(domain.OpMergePdf, mocks.NewMockConverter(ctrl))

	job := domain.Job{ID: "J1", Type: domain.OpWordToPdf, Message: `{"file":"a.docx"}`}
	err := exec.Run(context.Background(), &job)
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestExecutor_RegisterUnknownPanics(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := executor.New(mocks.NewMockArtifactStore(ctrl), discardLogger())

	assert.Panics(t, func() {
		exec.Register("ZipToPdf", mocks.NewMockConverter(ctrl))
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected domain.Failure
	}{
		{
			name:     "legacy invalid password phrase",
			err:      errors.New("The password is invalid"),
			expected: domain.Failure{Kind: domain.KindAuthError, Code: 401, Message: "You have passed an incorrect password"},
		},
		{
			name:     "legacy phrase is case insensitive",
			err:      fmt.Errorf("convert: %w", errors.New("CONTENTS OF FILE STREAM IS EMPTY")),
			expected: domain.Failure{Kind: domain.KindUserError, Code: 400, Message: "Please provide a PDF file as input"},
		},
		{
			name:     "structured reason",
			err:      &domain.ConversionError{Reason: domain.ReasonCorruptArchive, Message: "zip: not a valid zip file"},
			expected: domain.Failure{Kind: domain.KindUserError, Code: 400, Message: "Please provide a proper input value"},
		},
		{
			name:     "structured reason wins over message",
			err:      &domain.ConversionError{Reason: domain.ReasonInvalidPassword, Message: "Value cannot be null"},
			expected: domain.Failure{Kind: domain.KindAuthError, Code: 401, Message: "You have passed an incorrect password"},
		},
		{
			name:     "unknown structured reason keeps message",
			err:      &domain.ConversionError{Reason: "font_missing", Message: "Font Calibri not found"},
			expected: domain.Failure{Kind: domain.KindServerError, Code: 500, Message: "Font Calibri not found"},
		},
		{
			name:     "invalid payload is a user error",
			err:      fmt.Errorf("%w: file is required", domain.ErrInvalidPayload),
			expected: domain.Failure{Kind: domain.KindUserError, Code: 400, Message: "invalid job payload: file is required"},
		},
		{
			name:     "deadline exceeded",
			err:      fmt.Errorf("request failed: %w", context.DeadlineExceeded),
			expected: domain.Failure{Kind: domain.KindServerError, Code: 504, Message: "The conversion timed out"},
		},
		{
			name:     "anything else is a server error with the original message",
			err:      errors.New("disk quota exceeded"),
			expected: domain.Failure{Kind: domain.KindServerError, Code: 500, Message: "disk quota exceeded"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, executor.Classify(tt.err))
		})
	}
}

func TestExecutor_DeleteResources(t *testing.T) {
	ctrl := gomock.NewController(t)
	artifacts := mocks.NewMockArtifactStore(ctrl)
	exec := executor.New(artifacts, discardLogger())

	artifacts.EXPECT().DeleteNamespace(gomock.Any(), "J1").Return(nil)
	require.NoError(t, exec.DeleteResources(context.Background(), &domain.Job{ID: "J1"}))

	artifacts.EXPECT().DeleteNamespace(gomock.Any(), "J2").Return(errors.New("permission denied"))
	err := exec.DeleteResources(context.Background(), &domain.Job{ID: "J2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")

	// No namespace means nothing to delete
	require.NoError(t, exec.DeleteResources(context.Background(), &domain.Job{}))
}
