// Package mocks provides gomock implementations of the interfaces the job
// system depends on.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	converter := mocks.NewMockConverter(ctrl)
//	converter.EXPECT().Convert(gomock.Any(), gomock.Any()).Return("output.pdf", nil)
package mocks

// Converter and ArtifactStore from internal/executor
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=executor_mock.go github.com/cuongbtq/docjob-queue/internal/executor Converter,ArtifactStore
