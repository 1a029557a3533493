package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtestimate/internal/rtprocess"
	"rtestimate/internal/sampler"
)

const sample = `
generation_time:
  stages:
    - family: gamma
      param1: {mean: 2.5, sd: 0.3}
      param2: {mean: 0.7, sd: 0.1}
      max: 14
delays:
  stages:
    - family: lognormal
      param1: {mean: 1.6, sd: 0.2}
      param2: {mean: 0.5, sd: 0.1}
      max: 21
    - family: fixed
      pmf: [0.4, 0.4, 0.2]
rt:
  kind: gp
  basis_fraction: 0.25
  forecast: latest
observation:
  overdispersion: true
  week_effects: true
population: 5000000
horizon: 7
sampler:
  chains: 4
  warmup: 1000
  samples: 1000
  seed: 42
  timeout: 30s
`

func TestParseAndBuild(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	opts, err := cfg.Build()
	require.NoError(t, err)

	assert.Equal(t, 7, opts.Horizon)
	assert.Equal(t, 5000000.0, opts.Infections.Population)
	require.NotNil(t, opts.Rt)
	assert.Equal(t, rtprocess.GP, opts.Rt.Kind)
	assert.Equal(t, rtprocess.Latest, opts.Rt.Forecast)
	assert.Equal(t, 0.25, opts.Rt.BasisFraction)

	assert.Equal(t, 2, opts.GenerationTime.NumParams(), "gamma stage: shape and rate free")
	assert.True(t, opts.Delays.Uncertain())
	assert.Equal(t, 14, opts.GenerationTime.CombinedMax())
	assert.Equal(t, 23, opts.Delays.CombinedMax())

	assert.True(t, opts.Observation.Overdispersion)
	assert.True(t, opts.Observation.WeekEffects)

	assert.Equal(t, sampler.Config{
		Chains: 4, Warmup: 1000, Samples: 1000, Seed: 42, Timeout: 30 * time.Second,
	}, opts.Sampler)
	assert.Nil(t, opts.Engine, "exact mode uses the default engine")
}

func TestParse_UnknownFieldRejected(t *testing.T) {
	_, err := Parse([]byte("horizonn: 7\n"))
	require.Error(t, err)
}

func TestBuild_UnknownRtKind(t *testing.T) {
	cfg, err := Parse([]byte("rt:\n  kind: spline\n"))
	require.NoError(t, err)
	_, err = cfg.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spline")
}

func TestBuild_FastMode(t *testing.T) {
	cfg, err := Parse([]byte("mode: fast\n"))
	require.NoError(t, err)
	opts, err := cfg.Build()
	require.NoError(t, err)
	assert.IsType(t, &sampler.LaplaceEngine{}, opts.Engine)
}

func TestBuild_BadStage(t *testing.T) {
	cfg, err := Parse([]byte("delays:\n  stages:\n    - family: weibull\n      max: 5\n"))
	require.NoError(t, err)
	_, err = cfg.Build()
	require.Error(t, err)
}
