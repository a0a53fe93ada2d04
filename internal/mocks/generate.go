// Package mocks provides mock implementations for testing the jobwell pipeline.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for the
// external submission channel interfaces. The generated files are committed so the
// tests build without a codegen step.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	mockATS := mocks.NewMockATSAdapter(ctrl)
//	mockATS.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(receipt, nil)
package mocks

// Generate mocks for the outbound submission channels from internal/core.
// This creates MockATSAdapter and MockAutomationAgent.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=submission_channels_mock.go github.com/jobwell/jobwell-go/internal/core ATSAdapter,AutomationAgent
