package config

import (
	"fmt"

	"github.com/joho/godotenv"
)

// Environment keys honoured by ApplyEnv.
const (
	EnvDBPath       = "BLELOCATE_DB"
	EnvModelRoot    = "BLELOCATE_MODEL_ROOT"
	EnvModelVersion = "BLELOCATE_MODEL_VERSION"
)

// ApplyEnvFile reads a .env file and applies its overrides to c. The process
// environment is not modified. An empty path is a no-op.
func (c *PipelineConfig) ApplyEnvFile(path string) error {
	if path == "" {
		return nil
	}
	env, err := godotenv.Read(path)
	if err != nil {
		return fmt.Errorf("failed to read env file: %w", err)
	}
	c.ApplyEnv(env)
	return nil
}

// ApplyEnv overrides the store location fields from env. Empty values are
// ignored.
func (c *PipelineConfig) ApplyEnv(env map[string]string) {
	if v := env[EnvDBPath]; v != "" {
		c.DBPath = &v
	}
	if v := env[EnvModelRoot]; v != "" {
		c.ModelRoot = &v
	}
	if v := env[EnvModelVersion]; v != "" {
		c.ModelVersion = &v
	}
}
