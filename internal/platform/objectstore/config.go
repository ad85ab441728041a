package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/evalcore/internal/platform/env"
)

type Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
	// CreateContainers makes missing agent containers on first write.
	CreateContainers bool `yaml:"create_containers"`
}

func DefaultConfig() Config {
	return Config{
		Endpoint:         "localhost:9000",
		AccessKey:        "evalcore",
		SecretKey:        "evalcoreminio",
		Region:           "us-east-1",
		CreateContainers: true,
	}
}

// ConfigFromEnv overlays EVALCORE_MINIO_* variables on base.
func ConfigFromEnv(base Config) (Config, error) {
	useSSL, err := env.Bool("EVALCORE_MINIO_USE_SSL", base.UseSSL)
	if err != nil {
		return Config{}, err
	}
	create, err := env.Bool("EVALCORE_MINIO_CREATE_CONTAINERS", base.CreateContainers)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:         env.String("EVALCORE_MINIO_ENDPOINT", base.Endpoint),
		AccessKey:        env.String("EVALCORE_MINIO_ACCESS_KEY", base.AccessKey),
		SecretKey:        env.String("EVALCORE_MINIO_SECRET_KEY", base.SecretKey),
		Region:           env.String("EVALCORE_MINIO_REGION", base.Region),
		UseSSL:           useSSL,
		CreateContainers: create,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
