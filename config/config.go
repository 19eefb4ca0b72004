package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

const DefaultPath = "config.toml"

type Config struct {
	Token    string `toml:"token" mapstructure:"token"`
	Host     string `toml:"host" mapstructure:"host"`
	Port     string `toml:"port" mapstructure:"port"`
	Libonnx  string `toml:"libonnx" mapstructure:"libonnx"`
	LogLevel string `toml:"log_level" mapstructure:"log_level"`

	// Accelerator names the execution provider tried before plain CPU.
	// One of cuda, tensorrt, coreml, directml or none.
	Accelerator string `toml:"accelerator" mapstructure:"accelerator"`
	DeviceID    int    `toml:"device_id" mapstructure:"device_id"`

	ModelUrl       string `toml:"model_url" mapstructure:"model_url"`
	LabelsUrl      string `toml:"labels_url" mapstructure:"labels_url"`
	ModelDir       string `toml:"model_dir" mapstructure:"model_dir"`
	ModelFileName  string `toml:"model_file_name" mapstructure:"model_file_name"`
	LabelsFileName string `toml:"labels_file_name" mapstructure:"labels_file_name"`

	ImageSize    int  `toml:"image_size" mapstructure:"image_size"`
	TopK         int  `toml:"top_k" mapstructure:"top_k"`
	ApplySoftmax bool `toml:"apply_softmax" mapstructure:"apply_softmax"`
	Workers      int  `toml:"workers" mapstructure:"workers"`
	MaxUploadMB  int  `toml:"max_upload_mb" mapstructure:"max_upload_mb"`
	PreviewSize  int  `toml:"preview_size" mapstructure:"preview_size"`
}

func Default() Config {
	return Config{
		Token:          "",
		Host:           "0.0.0.0",
		Port:           "8000",
		LogLevel:       "info",
		Accelerator:    "cuda",
		ModelUrl:       "https://github.com/onnx/models/raw/main/validated/vision/classification/mobilenet/model/mobilenetv2-12.onnx",
		LabelsUrl:      "https://raw.githubusercontent.com/anishathalye/imagenet-simple-labels/master/imagenet-simple-labels.json",
		ModelDir:       "models",
		ModelFileName:  "mobilenetv2-12.onnx",
		LabelsFileName: "imagenet-simple-labels.json",
		ImageSize:      224,
		TopK:           3,
		ApplySoftmax:   true,
		Workers:        1,
		MaxUploadMB:    10,
		PreviewSize:    320,
	}
}

var (
	cfg      Config
	loadOnce sync.Once
)

// Init loads path as the process configuration. Calls after the first
// Init or C have no effect and return the configuration already in use.
func Init(path string) (Config, error) {
	var err error
	loadOnce.Do(func() {
		cfg, err = Load(path)
	})
	return cfg, err
}

// C returns the process configuration, reading config.toml on first use.
func C() Config {
	if _, err := Init(DefaultPath); err != nil {
		panic(err)
	}
	return cfg
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	c := Default()
	if _, err := os.Stat(path); err != nil {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return c, nil
}

func (c Config) Validate() error {
	switch {
	case c.ImageSize <= 0:
		return fmt.Errorf("image_size must be positive, got %d", c.ImageSize)
	case c.TopK <= 0:
		return fmt.Errorf("top_k must be positive, got %d", c.TopK)
	case c.Workers <= 0:
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	case c.MaxUploadMB <= 0:
		return fmt.Errorf("max_upload_mb must be positive, got %d", c.MaxUploadMB)
	}
	return nil
}

func (c Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
