// Package config maps the YAML model configuration file onto the typed
// options the estimation driver takes. Validation here is shape-level
// (unknown kinds, bad enums); the driver re-validates the semantic
// combinations before sampling.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"rtestimate/internal/delay"
	"rtestimate/internal/estimate"
	"rtestimate/internal/observe"
	"rtestimate/internal/renewal"
	"rtestimate/internal/rtprocess"
	"rtestimate/internal/sampler"
)

// Prior is a mean/sd pair; sd 0 pins the parameter.
type Prior struct {
	Mean float64 `yaml:"mean"`
	SD   float64 `yaml:"sd"`
}

// Stage describes one delay stage.
type Stage struct {
	// Family: fixed, lognormal or gamma.
	Family string    `yaml:"family"`
	PMF    []float64 `yaml:"pmf,omitempty"`
	Param1 Prior     `yaml:"param1,omitempty"`
	Param2 Prior     `yaml:"param2,omitempty"`
	Max    int       `yaml:"max"`
}

// Delay is an ordered stage list.
type Delay struct {
	Stages []Stage `yaml:"stages"`
}

// Rt selects and tunes the Rt process.
type Rt struct {
	Kind          string  `yaml:"kind"` // gp, random_walk, breakpoints, fixed
	StepDays      int     `yaml:"step_days,omitempty"`
	Breakpoints   []int   `yaml:"breakpoints,omitempty"`
	BasisFraction float64 `yaml:"basis_fraction,omitempty"`
	Forecast      string  `yaml:"forecast,omitempty"` // project or latest
}

// Observation tunes the observation model.
type Observation struct {
	Overdispersion bool    `yaml:"overdispersion"`
	WeekEffects    bool    `yaml:"week_effects"`
	Truncation     *Delay  `yaml:"truncation,omitempty"`
	ScaleMean      float64 `yaml:"scale_mean,omitempty"`
	ScaleSD        float64 `yaml:"scale_sd,omitempty"`
}

// Sampler tunes the posterior sampling engine. Timeout is a duration
// string ("30s", "5m"); empty disables the wall-clock limit.
type Sampler struct {
	Chains  int    `yaml:"chains"`
	Warmup  int    `yaml:"warmup"`
	Samples int    `yaml:"samples"`
	Seed    int64  `yaml:"seed"`
	Timeout string `yaml:"timeout,omitempty"`
}

// Backcalc enables the non-parametric mode.
type Backcalc struct {
	SmoothSD float64 `yaml:"smooth_sd"`
}

// Config is the full YAML document.
type Config struct {
	GenerationTime Delay       `yaml:"generation_time"`
	Delays         Delay       `yaml:"delays"`
	Rt             *Rt         `yaml:"rt,omitempty"`
	Backcalc       *Backcalc   `yaml:"backcalc,omitempty"`
	Observation    Observation `yaml:"observation"`
	Population     float64     `yaml:"population,omitempty"`
	ProcessNoise   bool        `yaml:"process_noise,omitempty"`
	Horizon        int         `yaml:"horizon"`
	Mode           string      `yaml:"mode,omitempty"` // exact or fast
	Sampler        Sampler     `yaml:"sampler"`
	KeepDraws      bool        `yaml:"keep_draws,omitempty"`
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes YAML bytes into a Config.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Build converts the parsed file into driver options.
func (c *Config) Build() (estimate.Options, error) {
	opts := estimate.Options{
		Horizon:   c.Horizon,
		KeepDraws: c.KeepDraws,
		Infections: renewal.Config{
			Population:   c.Population,
			ProcessNoise: c.ProcessNoise,
		},
		Sampler: sampler.Config{
			Chains:  c.Sampler.Chains,
			Warmup:  c.Sampler.Warmup,
			Samples: c.Sampler.Samples,
			Seed:    c.Sampler.Seed,
		},
	}
	if c.Sampler.Timeout != "" {
		d, err := time.ParseDuration(c.Sampler.Timeout)
		if err != nil {
			return opts, fmt.Errorf("sampler timeout: %w", err)
		}
		opts.Sampler.Timeout = d
	}

	var err error
	if opts.GenerationTime, err = buildDelay(c.GenerationTime); err != nil {
		return opts, fmt.Errorf("generation_time: %w", err)
	}
	if opts.Delays, err = buildDelay(c.Delays); err != nil {
		return opts, fmt.Errorf("delays: %w", err)
	}

	opts.Observation = observe.Config{
		Overdispersion: c.Observation.Overdispersion,
		WeekEffects:    c.Observation.WeekEffects,
		ScaleMean:      c.Observation.ScaleMean,
		ScaleSD:        c.Observation.ScaleSD,
	}
	if c.Observation.Truncation != nil {
		if opts.Observation.Truncation, err = buildDelay(*c.Observation.Truncation); err != nil {
			return opts, fmt.Errorf("truncation: %w", err)
		}
	}

	if c.Rt != nil {
		rtCfg, err := buildRt(*c.Rt)
		if err != nil {
			return opts, err
		}
		opts.Rt = &rtCfg
	}
	if c.Backcalc != nil {
		opts.Backcalc = &estimate.BackcalcConfig{SmoothSD: c.Backcalc.SmoothSD}
	}

	switch strings.ToLower(c.Mode) {
	case "", "exact":
	case "fast", "approximate":
		opts.Engine = &sampler.LaplaceEngine{}
	default:
		return opts, fmt.Errorf("unknown mode %q (want exact or fast)", c.Mode)
	}
	return opts, nil
}

func buildDelay(d Delay) (delay.Spec, error) {
	var spec delay.Spec
	for i, st := range d.Stages {
		switch strings.ToLower(st.Family) {
		case "fixed":
			if len(st.PMF) == 0 {
				return spec, fmt.Errorf("stage %d: fixed stage needs a pmf", i+1)
			}
			spec.Stages = append(spec.Stages, delay.NewFixed(st.PMF))
		case "lognormal":
			spec.Stages = append(spec.Stages, delay.NewLogNormal(
				delay.Prior(st.Param1), delay.Prior(st.Param2), st.Max))
		case "gamma":
			spec.Stages = append(spec.Stages, delay.NewGamma(
				delay.Prior(st.Param1), delay.Prior(st.Param2), st.Max))
		default:
			return spec, fmt.Errorf("stage %d: unknown family %q", i+1, st.Family)
		}
	}
	if err := spec.Validate(); err != nil {
		return spec, err
	}
	return spec, nil
}

func buildRt(r Rt) (rtprocess.Config, error) {
	cfg := rtprocess.Config{
		StepDays:      r.StepDays,
		ChangeIndices: r.Breakpoints,
		BasisFraction: r.BasisFraction,
	}
	switch strings.ToLower(r.Kind) {
	case "fixed":
		cfg.Kind = rtprocess.Fixed
	case "random_walk", "rw":
		cfg.Kind = rtprocess.RandomWalk
	case "breakpoints":
		cfg.Kind = rtprocess.Breakpoints
	case "gp", "gaussian_process":
		cfg.Kind = rtprocess.GP
	default:
		return cfg, fmt.Errorf("unknown rt kind %q", r.Kind)
	}
	switch strings.ToLower(r.Forecast) {
	case "", "project":
		cfg.Forecast = rtprocess.Project
	case "latest":
		cfg.Forecast = rtprocess.Latest
	default:
		return cfg, fmt.Errorf("unknown forecast policy %q (want project or latest)", r.Forecast)
	}
	return cfg, nil
}
