package cdcerrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestCDCError_Error(t *testing.T) {
	err := New(CategoryMergeFailure, CodeMergeClauseFailed, "merge clause failed")
	expected := "[MERGE_FAILURE:MERGE_CLAUSE_FAILED] merge clause failed"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestCDCError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(CategoryInfrastructureFailure, CodeStorageIO, "upload failed", cause)
	expected := "[INFRASTRUCTURE_FAILURE:STORAGE_IO] upload failed: connection refused"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestCDCError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Wrap(CategoryMaintenanceFailure, CodeTableFailuresAggregated, "conflict", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestCDCError_Is(t *testing.T) {
	err1 := New(CategoryMergeFailure, CodeMergeClauseFailed, "first")
	err2 := New(CategoryMergeFailure, CodeMergeClauseFailed, "second")
	err3 := New(CategoryMergeFailure, CodeTargetMissingStrict, "different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(NewConcurrentModification(fmt.Errorf("conflict"))) {
		t.Error("ConcurrentModification must be retryable")
	}
	if IsRetryable(NewMergeFailure(CodeMergeClauseFailed, "x", nil)) {
		t.Error("MergeFailure must not be retryable")
	}
	if IsRetryable(NewRetriesExhausted(3, fmt.Errorf("x"))) {
		t.Error("RetriesExhausted must not itself be retryable")
	}
}

func TestGetCategoryAndCode(t *testing.T) {
	err := NewSchemaNotFound("oms", "offenders")
	if GetCategory(err) != CategorySchemaNotFound {
		t.Errorf("got %q, want %q", GetCategory(err), CategorySchemaNotFound)
	}
	if GetCode(err) != CodeSchemaNotRegistered {
		t.Errorf("got %q, want %q", GetCode(err), CodeSchemaNotRegistered)
	}
	if GetCategory(fmt.Errorf("plain")) != "" {
		t.Error("non-CDCError should return empty category")
	}
}

func TestWithDetails(t *testing.T) {
	err := NewValidationFailure("non-null field age is null")
	detailed := err.WithDetails(map[string]interface{}{"field": "age"})

	if detailed.Details["field"] != "age" {
		t.Error("WithDetails should set details")
	}
	if err.Details != nil {
		t.Error("WithDetails should not modify original")
	}
}

func TestNewMaintenanceFailureAggregatesCount(t *testing.T) {
	failures := map[string]error{
		"src/a": fmt.Errorf("boom"),
		"src/b": fmt.Errorf("boom2"),
	}
	err := NewMaintenanceFailure(failures)
	if err.Category != CategoryMaintenanceFailure {
		t.Errorf("got category %q", err.Category)
	}
	if err.Details["failures"] == nil {
		t.Error("expected failures detail to be populated")
	}
}
