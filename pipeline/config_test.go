package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kbukum/stagekit/errors"
)

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		name    string
		n       int
		want    string
		wantErr bool
	}{
		{"", 0, "serial", false},
		{"serial", 8, "serial", false},
		{"Ordered", 4, "ordered(4)", false},
		{" unordered ", 2, "unordered(2)", false},
		{"parallel", 2, "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := ParsePolicy(tc.name, tc.n)
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidConfig))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, p.String())
		})
	}
}

func TestPolicy_Concurrency(t *testing.T) {
	assert.Equal(t, 1, Serial().Concurrency())
	assert.Equal(t, 1, Policy{}.Concurrency(), "zero value is serial")
	assert.Equal(t, 6, Ordered(6).Concurrency())
	assert.Equal(t, KindUnordered, Unordered(3).Kind())
	assert.NoError(t, Serial().validate())
	assert.Error(t, Ordered(0).validate())
}

func TestStageConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     StageConfig
		wantErr bool
	}{
		{"serial default", StageConfig{Name: "save"}, false},
		{"ordered", StageConfig{Name: "fetch", Policy: "ordered", Concurrency: 4, Buffer: 2}, false},
		{"missing concurrency", StageConfig{Name: "fetch", Policy: "unordered"}, true},
		{"unknown policy", StageConfig{Name: "fetch", Policy: "eager", Concurrency: 2}, true},
		{"negative buffer", StageConfig{Name: "fetch", Buffer: -1}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if !tc.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidConfig), "got %v", err)
		})
	}
}

func TestThenWith(t *testing.T) {
	cfg := StageConfig{Name: "double", Policy: "ordered", Concurrency: 3, Buffer: 1}
	out, h, err := Build(context.Background(), ThenWith(FromSlice(seq(5)), double, cfg))
	require.NoError(t, err)

	got, err := Collect(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 4, 6, 8}, got)

	st := h.Stats()[1]
	assert.Equal(t, "double", st.Name)
	assert.Equal(t, "ordered(3)", st.Policy)
}

func TestThenWith_InvalidConfig(t *testing.T) {
	cfg := StageConfig{Name: "double", Policy: "ordered"}
	_, _, err := Build(context.Background(), ThenWith(FromSlice(seq(5)), double, cfg))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidConfig))
}
