package validation

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/kbukum/stagekit/errors"
)

func TestValidatorRequired(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"present", "fetch", false},
		{"empty", "", true},
		{"whitespace", "   ", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := New().Required("name", tc.value)
			if v.HasErrors() != tc.wantErr {
				t.Errorf("HasErrors() = %v, want %v", v.HasErrors(), tc.wantErr)
			}
		})
	}
}

func TestValidatorRequiredUUID(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantMsg string
	}{
		{"valid", uuid.New().String(), ""},
		{"empty", "", "is required"},
		{"malformed", "not-a-uuid", "must be a valid UUID"},
		{"nil uuid", uuid.Nil.String(), "must not be empty"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := New().RequiredUUID("run_id", tc.value)
			if tc.wantMsg == "" {
				if v.HasErrors() {
					t.Errorf("expected no errors, got %v", v.Errors())
				}
				return
			}
			if !v.HasErrors() || v.Errors()[0].Message != tc.wantMsg {
				t.Errorf("expected %q, got %v", tc.wantMsg, v.Errors())
			}
		})
	}
}

func TestValidatorNumbers(t *testing.T) {
	v := New().
		Min("concurrency", 0, 1).
		Min("buffer", 0, 0).
		Max("workers", 10, 8).
		Range("items", 5, 1, 4)

	errs := v.Errors()
	if len(errs) != 3 {
		t.Fatalf("expected 3 errors, got %v", errs)
	}
	if errs[0].Field != "concurrency" || errs[1].Field != "workers" || errs[2].Field != "items" {
		t.Errorf("unexpected fields %v", errs)
	}
}

func TestValidatorOneOf(t *testing.T) {
	allowed := []string{"serial", "ordered", "unordered"}
	if New().OneOf("policy", "ordered", allowed).HasErrors() {
		t.Error("expected ordered to be allowed")
	}
	if New().OneOf("policy", "", allowed).HasErrors() {
		t.Error("expected empty value to be skipped")
	}
	v := New().OneOf("policy", "parallel", allowed)
	if !v.HasErrors() || !strings.Contains(v.Errors()[0].Message, "serial, ordered, unordered") {
		t.Errorf("unexpected errors %v", v.Errors())
	}
}

func TestValidatorCustom(t *testing.T) {
	v := New().Custom(false, "key", "must be 32 bytes")
	if !v.HasErrors() {
		t.Error("expected custom error")
	}
}

func TestValidatorValidate(t *testing.T) {
	if err := New().Validate(); err != nil {
		t.Errorf("expected nil, got %v", err)
	}

	err := New().Required("name", "").Min("concurrency", 0, 1).Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	appErr, ok := errors.AsAppError(err)
	if !ok {
		t.Fatalf("expected AppError, got %T", err)
	}
	if appErr.Code != errors.ErrCodeInvalidInput {
		t.Errorf("unexpected code %s", appErr.Code)
	}
	if !strings.Contains(appErr.Message, "name: is required; concurrency: must be at least 1") {
		t.Errorf("unexpected message %q", appErr.Message)
	}
	fields, ok := appErr.Details["fields"].([]FieldError)
	if !ok || len(fields) != 2 {
		t.Errorf("unexpected details %v", appErr.Details)
	}
}

func TestValidateUUID(t *testing.T) {
	id := uuid.New()
	got, err := ValidateUUID("id", id.String())
	if err != nil || got != id {
		t.Errorf("expected %s, got %s (%v)", id, got, err)
	}

	if _, err := ValidateUUID("id", ""); !errors.IsCode(err, errors.ErrCodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
	if _, err := ValidateUUID("id", "abc"); !errors.IsCode(err, errors.ErrCodeInvalidFormat) {
		t.Errorf("expected INVALID_FORMAT, got %v", err)
	}
}

type stageSpec struct {
	Name        string `mapstructure:"name" validate:"required"`
	Policy      string `mapstructure:"policy" validate:"required,oneof=serial ordered unordered"`
	Concurrency int    `mapstructure:"concurrency" validate:"gte=1"`
	Buffer      int    `mapstructure:"buffer" validate:"gte=0"`
}

type pipelineSpec struct {
	Stages []stageSpec `mapstructure:"stages" validate:"required,min=1,dive"`
}

func TestValidateStruct(t *testing.T) {
	ok := pipelineSpec{Stages: []stageSpec{{Name: "fetch", Policy: "ordered", Concurrency: 4}}}
	if err := Validate(ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := pipelineSpec{Stages: []stageSpec{
		{Name: "fetch", Policy: "ordered", Concurrency: 4},
		{Name: "save", Policy: "parallel", Concurrency: 0, Buffer: -1},
	}}
	err := Validate(bad)
	if err == nil {
		t.Fatal("expected validation error")
	}
	appErr, _ := errors.AsAppError(err)
	fields := appErr.Details["fields"].([]FieldError)
	if len(fields) != 3 {
		t.Fatalf("expected 3 field errors, got %v", fields)
	}
	want := map[string]string{
		"stages[1].policy":      "must be one of: serial ordered unordered",
		"stages[1].concurrency": "must be at least 1",
		"stages[1].buffer":      "must be at least 0",
	}
	for _, f := range fields {
		if want[f.Field] != f.Message {
			t.Errorf("field %s: got %q, want %q", f.Field, f.Message, want[f.Field])
		}
	}
}

func TestToSnakeCase(t *testing.T) {
	tests := map[string]string{
		"Concurrency": "concurrency",
		"RunID":       "run_i_d",
		"stageName":   "stage_name",
	}
	for in, want := range tests {
		if got := toSnakeCase(in); got != want {
			t.Errorf("toSnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}
