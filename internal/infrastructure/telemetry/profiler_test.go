package telemetry

import (
	"context"
	"strings"
	"testing"

	"github.com/grafana/pyroscope-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewProfiler_Disabled(t *testing.T) {
	p, err := NewProfiler(ProfilerConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, p.IsEnabled())
	assert.NoError(t, p.Stop())
	assert.NoError(t, p.Stop())
}

func TestNewProfiler_MissingAddress(t *testing.T) {
	_, err := NewProfiler(ProfilerConfig{Enabled: true, ApplicationName: "farm"}, zap.NewNop())
	assert.Error(t, err)
}

func TestResolveProfileTypes(t *testing.T) {
	types, err := resolveProfileTypes(nil)
	require.NoError(t, err)
	assert.Equal(t, []pyroscope.ProfileType{pyroscope.ProfileCPU, pyroscope.ProfileInuseSpace}, types)

	types, err = resolveProfileTypes([]string{"cpu", "mutex_duration"})
	require.NoError(t, err)
	assert.Equal(t, []pyroscope.ProfileType{pyroscope.ProfileCPU, pyroscope.ProfileMutexDuration}, types)

	_, err = resolveProfileTypes([]string{"heap"})
	assert.Error(t, err)
}

func TestLabelPairs(t *testing.T) {
	long := strings.Repeat("r", MaxLabelValueLength+10)
	pairs := labelPairs(map[string]string{
		ProfilingLabelRoute:  long,
		ProfilingLabelMethod: "POST",
		"actor_id":           "5d1f",
		"empty":              "",
	})

	require.Len(t, pairs, 4)
	assert.Equal(t, []string{ProfilingLabelMethod, "POST", ProfilingLabelRoute}, pairs[:3])
	assert.Len(t, pairs[3], MaxLabelValueLength)
	assert.Empty(t, labelPairs(nil))
}

func TestWithProfilingLabels_RunsFn(t *testing.T) {
	ran := 0
	WithProfilingLabels(context.Background(), nil, func(context.Context) { ran++ })
	WithProfilingLabels(context.Background(), map[string]string{ProfilingLabelOperation: "create"}, func(context.Context) { ran++ })
	assert.Equal(t, 2, ran)
}
