// Package config handles run configuration loading.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cwbudde/inversionlog/internal/inversion"
	"github.com/cwbudde/inversionlog/internal/opt"
	"github.com/cwbudde/inversionlog/internal/record"
)

// Config is the root configuration structure.
type Config struct {
	Output    OutputConfig    `yaml:"output"`
	Problem   ProblemConfig   `yaml:"problem"`
	Inversion InversionConfig `yaml:"inversion"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
}

// OutputConfig holds where and how results are saved.
type OutputConfig struct {
	Dir    string `yaml:"dir"`
	Name   string `yaml:"name"` // may contain "datetime"
	Remove bool   `yaml:"remove"`
	Plot   bool   `yaml:"plot"`
}

// ProblemConfig holds the synthetic survey settings.
type ProblemConfig struct {
	ModelSize   int     `yaml:"model_size"`
	DataSize    int     `yaml:"data_size"`
	KernelWidth float64 `yaml:"kernel_width"`
	Noise       float64 `yaml:"noise"`
	Seed        int64   `yaml:"seed"`
	AlphaS      float64 `yaml:"alpha_s"`
	AlphaX      float64 `yaml:"alpha_x"`
}

// InversionConfig holds the beta schedule and stopping rule.
type InversionConfig struct {
	Beta0         float64 `yaml:"beta0"` // 0 = estimate
	Beta0Ratio    float64 `yaml:"beta0_ratio"`
	CoolingFactor float64 `yaml:"cooling_factor"`
	CoolingRate   int     `yaml:"cooling_rate"`
	MaxIterations int     `yaml:"max_iterations"`
	StopAtTarget  bool    `yaml:"stop_at_target"`
	SearchRadius  float64 `yaml:"search_radius"`
}

// OptimizerConfig holds the inner mayfly settings.
type OptimizerConfig struct {
	Iterations int   `yaml:"iterations"`
	Population int   `yaml:"population"`
	Seed       int64 `yaml:"seed"`
}

// Default returns the default configuration.
func Default() *Config {
	p := inversion.DefaultProblemConfig()
	d := inversion.DefaultDriverConfig()
	return &Config{
		Output: OutputConfig{
			Dir:  "./data",
			Name: record.DatetimePlaceholder,
			Plot: true,
		},
		Problem: ProblemConfig{
			ModelSize:   p.ModelSize,
			DataSize:    p.DataSize,
			KernelWidth: p.KernelWidth,
			Noise:       p.Noise,
			Seed:        p.Seed,
			AlphaS:      p.AlphaS,
			AlphaX:      p.AlphaX,
		},
		Inversion: InversionConfig{
			Beta0:         d.Beta0,
			Beta0Ratio:    d.Beta0Ratio,
			CoolingFactor: d.CoolingFactor,
			CoolingRate:   d.CoolingRate,
			MaxIterations: d.MaxIterations,
			StopAtTarget:  d.StopAtTarget,
			SearchRadius:  d.SearchRadius,
		},
		Optimizer: OptimizerConfig{
			Iterations: 200,
			Population: 30,
			Seed:       42,
		},
	}
}

// Load reads a YAML file on top of the defaults. Keys missing from the
// file keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir cannot be empty")
	}
	if c.Optimizer.Iterations <= 0 {
		return fmt.Errorf("optimizer.iterations must be positive")
	}
	if c.Optimizer.Population < opt.MinPopulation {
		return fmt.Errorf("optimizer.population must be at least %d", opt.MinPopulation)
	}
	if err := c.DriverConfig().Validate(); err != nil {
		return fmt.Errorf("inversion: %w", err)
	}
	p := c.ProblemConfig()
	if p.ModelSize < 2 || p.DataSize < 1 || p.KernelWidth <= 0 || p.Noise < 0 {
		return fmt.Errorf("problem: sizes, kernel_width and noise must be positive")
	}
	return nil
}

// RecorderConfig maps the output section onto the recorder.
func (c *Config) RecorderConfig() record.Config {
	return record.Config{
		Dir:    c.Output.Dir,
		Name:   c.Output.Name,
		Remove: c.Output.Remove,
	}
}

// ProblemConfig maps the problem section.
func (c *Config) ProblemConfig() inversion.ProblemConfig {
	return inversion.ProblemConfig{
		ModelSize:   c.Problem.ModelSize,
		DataSize:    c.Problem.DataSize,
		KernelWidth: c.Problem.KernelWidth,
		Noise:       c.Problem.Noise,
		Seed:        c.Problem.Seed,
		AlphaS:      c.Problem.AlphaS,
		AlphaX:      c.Problem.AlphaX,
	}
}

// DriverConfig maps the inversion section.
func (c *Config) DriverConfig() inversion.DriverConfig {
	return inversion.DriverConfig{
		Beta0:         c.Inversion.Beta0,
		Beta0Ratio:    c.Inversion.Beta0Ratio,
		CoolingFactor: c.Inversion.CoolingFactor,
		CoolingRate:   c.Inversion.CoolingRate,
		MaxIterations: c.Inversion.MaxIterations,
		StopAtTarget:  c.Inversion.StopAtTarget,
		SearchRadius:  c.Inversion.SearchRadius,
	}
}
