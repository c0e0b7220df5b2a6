package config

import (
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Kernel struct {
		// Name selects the kernel family: squared_exponential or
		// normalized_dot_product.
		Name string `env:"KERNEL_NAME" envDefault:"squared_exponential"`
		// Sigma is the initial signal standard deviation.
		Sigma float64 `env:"KERNEL_SIGMA" envDefault:"1.0"`
		// LengthScale is the initial length scale; ignored by kernel
		// families with a single hyperparameter.
		LengthScale float64 `env:"KERNEL_LENGTH_SCALE" envDefault:"1.0"`
	}
}

// Hyperparameters returns the configured initial hyperparameter vector in
// the order the selected kernel family expects.
func (c *Config) Hyperparameters() []float64 {
	if c.Kernel.Name == "normalized_dot_product" {
		return []float64{c.Kernel.Sigma}
	}
	return []float64{c.Kernel.Sigma, c.Kernel.LengthScale}
}

func Load() (*Config, error) {
	cfg := &Config{}

	// Parse environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Set default logging level based on environment
	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}

	return cfg, nil
}

// GetEnv returns the value of the environment variable or the default value
func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt returns the value of the environment variable as int or the default value
func GetEnvAsInt(key string, defaultValue int) int {
	valueStr := GetEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
