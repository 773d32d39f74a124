// Package config provides configuration management functionality.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"

	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	LogLevel  string
	LogPretty bool
	Allocator *AllocatorConfig
}

// AllocatorConfig holds the risk preference and solver limits of the allocator
type AllocatorConfig struct {
	Gamma         float64 // Risk-aversion coefficient
	BoundLower    float64 // Uniform lower weight bound
	BoundUpper    float64 // Uniform upper weight bound
	MaxIterations int     // Outer solver iterations
	Tolerance     float64 // Feasibility tolerance of the solver
	Workers       int     // Concurrent allocations in a batch
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", false),
		Allocator: loadAllocatorConfig(),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates configuration
func (c *Config) Validate() error {
	a := c.Allocator
	if a == nil {
		return errors.New("allocator configuration missing")
	}
	if math.IsNaN(a.Gamma) || a.Gamma < 0 {
		return fmt.Errorf("ALLOCATOR_GAMMA must be non-negative, got %v", a.Gamma)
	}
	if math.IsNaN(a.BoundLower) || math.IsNaN(a.BoundUpper) || a.BoundLower > a.BoundUpper {
		return fmt.Errorf("ALLOCATOR_BOUND_LOWER (%v) must not exceed ALLOCATOR_BOUND_UPPER (%v)", a.BoundLower, a.BoundUpper)
	}
	if a.MaxIterations <= 0 {
		return fmt.Errorf("ALLOCATOR_MAX_ITERATIONS must be positive, got %d", a.MaxIterations)
	}
	if !(a.Tolerance > 0) {
		return fmt.Errorf("ALLOCATOR_TOLERANCE must be positive, got %v", a.Tolerance)
	}
	if a.Workers <= 0 {
		return fmt.Errorf("ALLOCATOR_WORKERS must be positive, got %d", a.Workers)
	}
	return nil
}

// RiskPreference builds the allocator preference: the budget constraint and
// the configured uniform bound.
func (c *Config) RiskPreference() optimization.RiskPreference {
	return optimization.NewRiskPreference(
		c.Allocator.Gamma,
		optimization.WithBounds(optimization.Bound{
			Lower: c.Allocator.BoundLower,
			Upper: c.Allocator.BoundUpper,
		}),
	)
}

// SolverSettings returns the solver defaults overridden by the configured
// iteration limit and tolerance.
func (c *Config) SolverSettings() optimization.SolverSettings {
	settings := optimization.DefaultSolverSettings()
	settings.MaxIterations = c.Allocator.MaxIterations
	settings.FeasibilityTolerance = c.Allocator.Tolerance
	return settings
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// loadAllocatorConfig loads allocator configuration, defaulting to γ=1 and
// long-only [0, 1] bounds
func loadAllocatorConfig() *AllocatorConfig {
	defaults := optimization.DefaultSolverSettings()
	return &AllocatorConfig{
		Gamma:         getEnvAsFloat("ALLOCATOR_GAMMA", optimization.DefaultGamma),
		BoundLower:    getEnvAsFloat("ALLOCATOR_BOUND_LOWER", optimization.DefaultBound.Lower),
		BoundUpper:    getEnvAsFloat("ALLOCATOR_BOUND_UPPER", optimization.DefaultBound.Upper),
		MaxIterations: getEnvAsInt("ALLOCATOR_MAX_ITERATIONS", defaults.MaxIterations),
		Tolerance:     getEnvAsFloat("ALLOCATOR_TOLERANCE", defaults.FeasibilityTolerance),
		Workers:       getEnvAsInt("ALLOCATOR_WORKERS", runtime.NumCPU()),
	}
}
