package cfg

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"ccfd-server/internal/common"
	"ccfd-server/internal/ml"
)

// Settings is the validated startup configuration of the server.
type Settings struct {
	Host            string
	Port            int
	PassScore       int
	Models          []ModelConfig
	MaxRequestBytes int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MetricsPort     int
	OnnxLibrary     string
	LogLevel        string
	LogPretty       bool
	S3              S3Config
	HTTPTimeout     time.Duration
}

// ModelConfig locates one ensemble member. Order in Settings.Models is voting order.
type ModelConfig struct {
	Name   string `yaml:"name"`
	Path   string `yaml:"path"`
	Scaler string `yaml:"scaler"`
	Kind   string `yaml:"kind"`
}

// S3Config holds credentials for s3:// artifact locations.
type S3Config struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
}

type ConfigFile struct {
	Server struct {
		Host            string `yaml:"host"`
		Port            *int   `yaml:"port"`
		PassScore       *int   `yaml:"passScore"`
		MaxRequestBytes *int   `yaml:"maxRequestBytes"`
		ReadTimeout     string `yaml:"readTimeout"`
		WriteTimeout    string `yaml:"writeTimeout"`
		ShutdownTimeout string `yaml:"shutdownTimeout"`
	} `yaml:"server"`

	Models []ModelConfig `yaml:"models"`

	Runtime struct {
		OnnxLibrary string `yaml:"onnxLibrary"`
	} `yaml:"runtime"`

	Storage struct {
		S3          S3Config `yaml:"s3"`
		HTTPTimeout string   `yaml:"httpTimeout"`
	} `yaml:"storage"`

	System struct {
		MetricsPort *int   `yaml:"metricsPort"`
		LogLevel    string `yaml:"logLevel"`
		LogPretty   bool   `yaml:"logPretty"`
	} `yaml:"system"`
}

// Load reads a .env file if present, then the YAML file named by CONFIG_FILE, or
// the environment alone when CONFIG_FILE is unset. Environment variables override
// YAML values.
func Load() (Settings, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("failed to load .env file")
	}

	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	models := config.Models
	if envModels, ok, err := modelsFromEnv(); err != nil {
		return Settings{}, err
	} else if ok {
		models = envModels
	}

	var env envReader
	settings := Settings{
		Host:            getEnvOrDefault(common.EnvHost, orDefault(config.Server.Host, common.DefaultHost)),
		Port:            env.int(common.EnvPort, orDefaultInt(config.Server.Port, common.DefaultPort)),
		PassScore:       env.int(common.EnvPassScore, orDefaultInt(config.Server.PassScore, common.DefaultPassScore)),
		Models:          models,
		MaxRequestBytes: env.int(common.EnvMaxRequestBytes, orDefaultInt(config.Server.MaxRequestBytes, common.DefaultMaxRequestBytes)),
		ReadTimeout:     env.duration(common.EnvReadTimeout, env.configDuration("server.readTimeout", config.Server.ReadTimeout, 0)),
		WriteTimeout:    env.duration(common.EnvWriteTimeout, env.configDuration("server.writeTimeout", config.Server.WriteTimeout, 0)),
		ShutdownTimeout: env.duration(common.EnvShutdownTimeout, env.configDuration("server.shutdownTimeout", config.Server.ShutdownTimeout, common.DefaultShutdownSeconds*time.Second)),
		MetricsPort:     env.int(common.EnvMetricsPort, orDefaultInt(config.System.MetricsPort, common.DefaultMetricsPort)),
		OnnxLibrary:     getEnvOrDefault(common.EnvOnnxLibrary, config.Runtime.OnnxLibrary),
		LogLevel:        getEnvOrDefault(common.EnvLogLevel, orDefault(config.System.LogLevel, common.DefaultLogLevel)),
		LogPretty:       env.bool(common.EnvLogPretty, config.System.LogPretty),
		S3: S3Config{
			Endpoint:        getEnvOrDefault(common.EnvS3Endpoint, config.Storage.S3.Endpoint),
			Region:          getEnvOrDefault(common.EnvS3Region, config.Storage.S3.Region),
			AccessKeyID:     getEnvOrDefault(common.EnvS3AccessKeyID, config.Storage.S3.AccessKeyID),
			SecretAccessKey: getEnvOrDefault(common.EnvS3SecretKey, config.Storage.S3.SecretAccessKey),
		},
		HTTPTimeout: env.duration(common.EnvHTTPTimeout, env.configDuration("storage.httpTimeout", config.Storage.HTTPTimeout, common.DefaultHTTPSeconds*time.Second)),
	}
	if env.err != nil {
		return Settings{}, env.err
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func loadFromEnv() (Settings, error) {
	models, ok, err := modelsFromEnv()
	if err != nil {
		return Settings{}, err
	}
	if !ok {
		return Settings{}, fmt.Errorf("required environment variable %s is missing", common.EnvModelPaths)
	}

	var env envReader
	settings := Settings{
		Host:            getEnvOrDefault(common.EnvHost, common.DefaultHost),
		Port:            env.int(common.EnvPort, common.DefaultPort),
		PassScore:       env.int(common.EnvPassScore, common.DefaultPassScore),
		Models:          models,
		MaxRequestBytes: env.int(common.EnvMaxRequestBytes, common.DefaultMaxRequestBytes),
		ReadTimeout:     env.duration(common.EnvReadTimeout, 0),
		WriteTimeout:    env.duration(common.EnvWriteTimeout, 0),
		ShutdownTimeout: env.duration(common.EnvShutdownTimeout, common.DefaultShutdownSeconds*time.Second),
		MetricsPort:     env.int(common.EnvMetricsPort, common.DefaultMetricsPort),
		OnnxLibrary:     os.Getenv(common.EnvOnnxLibrary), // optional
		LogLevel:        getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		LogPretty:       env.bool(common.EnvLogPretty, false),
		S3: S3Config{
			Endpoint:        os.Getenv(common.EnvS3Endpoint),
			Region:          os.Getenv(common.EnvS3Region),
			AccessKeyID:     os.Getenv(common.EnvS3AccessKeyID),
			SecretAccessKey: os.Getenv(common.EnvS3SecretKey),
		},
		HTTPTimeout: env.duration(common.EnvHTTPTimeout, common.DefaultHTTPSeconds*time.Second),
	}
	if env.err != nil {
		return Settings{}, env.err
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

// modelsFromEnv zips the MODEL_* comma lists. ok is false when MODEL_PATHS is unset.
func modelsFromEnv() (models []ModelConfig, ok bool, err error) {
	paths := splitList(os.Getenv(common.EnvModelPaths))
	if len(paths) == 0 {
		return nil, false, nil
	}
	scalers := splitList(os.Getenv(common.EnvScalerPaths))
	kinds := splitList(os.Getenv(common.EnvModelKinds))
	names := splitList(os.Getenv(common.EnvModelNames))

	if len(scalers) != len(paths) || len(kinds) != len(paths) {
		return nil, false, fmt.Errorf("%s, %s and %s must have the same length, got %d, %d and %d",
			common.EnvModelPaths, common.EnvScalerPaths, common.EnvModelKinds, len(paths), len(scalers), len(kinds))
	}
	if len(names) != 0 && len(names) != len(paths) {
		return nil, false, fmt.Errorf("%s must list one name per model, got %d names for %d models",
			common.EnvModelNames, len(names), len(paths))
	}

	models = make([]ModelConfig, len(paths))
	for i := range paths {
		models[i] = ModelConfig{Path: paths[i], Scaler: scalers[i], Kind: kinds[i]}
		if len(names) > 0 {
			models[i].Name = names[i]
		}
	}
	return models, true, nil
}

// Addr is the TCP listen address.
func (s *Settings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ModelSpecs converts the configured models into registry specs in voting order.
func (s *Settings) ModelSpecs() ([]ml.ModelSpec, error) {
	specs := make([]ml.ModelSpec, len(s.Models))
	for i, m := range s.Models {
		kind, err := ml.ParseKind(m.Kind)
		if err != nil {
			return nil, fmt.Errorf("model %d (%s): %w", i, m.Path, err)
		}
		specs[i] = ml.ModelSpec{Name: m.Name, Path: m.Path, ScalerPath: m.Scaler, Kind: kind}
	}
	return specs, nil
}
