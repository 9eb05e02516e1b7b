// Package config loads settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wudi/pdfstudio/entitlement"
	"github.com/wudi/pdfstudio/observability"
	"github.com/wudi/pdfstudio/ocr"
)

// DefaultFile is read when Load is given no path and the file exists.
const DefaultFile = "pdfstudio.yaml"

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ProductType     string        `yaml:"productType"`
	ProviderTimeout time.Duration `yaml:"providerTimeout"`
}

// PaymentConfig configures the client side (BridgeURL) and the bridge side
// (the Stripe fields).
type PaymentConfig struct {
	BridgeURL        string        `yaml:"bridgeURL"`
	Timeout          time.Duration `yaml:"timeout"`
	StripeSecretKey  string        `yaml:"stripeSecretKey"`
	StripePriceID    string        `yaml:"stripePriceID"`
	StripeBaseURL    string        `yaml:"stripeBaseURL"`
	StripeSuccessURL string        `yaml:"stripeSuccessURL"`
	StripeCancelURL  string        `yaml:"stripeCancelURL"`
}

type EntitlementConfig struct {
	// Dir holds the persisted entitlement state.
	Dir string `yaml:"dir"`
}

type OCRConfig struct {
	Language   string  `yaml:"language"`
	Workers    int     `yaml:"workers"`
	DPI        int     `yaml:"dpi"`
	Grayscale  bool    `yaml:"grayscale"`
	Contrast   float64 `yaml:"contrast"`
	Brightness float64 `yaml:"brightness"`
}

// Preprocess returns the raster adjustments as ocr expects them.
func (o OCRConfig) Preprocess() ocr.Preprocess {
	return ocr.Preprocess{Grayscale: o.Grayscale, Contrast: o.Contrast, Brightness: o.Brightness}
}

type TelemetryConfig struct {
	Tracing     bool   `yaml:"tracing"`
	ServiceName string `yaml:"serviceName"`
	Protocol    string `yaml:"protocol"`
	Endpoint    string `yaml:"endpoint"`
	Sampler     string `yaml:"sampler"`
	SamplerArg  string `yaml:"samplerArg"`
}

func (t TelemetryConfig) TracingConfig() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     t.Tracing,
		ServiceName: t.ServiceName,
		Protocol:    t.Protocol,
		Endpoint:    t.Endpoint,
		Sampler:     t.Sampler,
		SamplerArg:  t.SamplerArg,
	}
}

type LogConfig struct {
	Level string `yaml:"level"`
	// Format is "json" or "text".
	Format string `yaml:"format"`
}

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Payment     PaymentConfig     `yaml:"payment"`
	Entitlement EntitlementConfig `yaml:"entitlement"`
	OCR         OCRConfig         `yaml:"ocr"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Log         LogConfig         `yaml:"log"`
}

// Default returns the built-in settings.
func Default() *Config {
	pre := ocr.DefaultPreprocess()
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ProductType:     entitlement.ProductPremium,
			ProviderTimeout: 10 * time.Second,
		},
		Payment: PaymentConfig{
			BridgeURL: "http://localhost:8080",
			Timeout:   10 * time.Second,
		},
		Entitlement: EntitlementConfig{Dir: defaultStateDir()},
		OCR: OCRConfig{
			Language:   ocr.DefaultLanguage,
			Workers:    ocr.DefaultWorkers,
			DPI:        ocr.DefaultDPI,
			Grayscale:  pre.Grayscale,
			Contrast:   pre.Contrast,
			Brightness: pre.Brightness,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "pdfstudio",
			Protocol:    "grpc",
			Sampler:     "parentbased_traceidratio",
			SamplerArg:  "1.0",
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

func defaultStateDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".pdfstudio"
	}
	return filepath.Join(dir, "pdfstudio")
}

// Load reads path (or DefaultFile when path is empty and the file exists),
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	file, required := path, true
	if file == "" {
		file, required = DefaultFile, false
	}
	data, err := os.ReadFile(file)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !required:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = getEnv("PDFSTUDIO_ADDR", c.Server.Addr)
	if port := getEnv("PORT", ""); port != "" {
		c.Server.Addr = ":" + port
	}
	c.Server.ProductType = getEnv("PDFSTUDIO_PRODUCT_TYPE", c.Server.ProductType)
	c.Server.ProviderTimeout = getEnvDuration("PDFSTUDIO_PROVIDER_TIMEOUT", c.Server.ProviderTimeout)

	c.Payment.BridgeURL = getEnv("PDFSTUDIO_BRIDGE_URL", c.Payment.BridgeURL)
	c.Payment.Timeout = getEnvDuration("PDFSTUDIO_PAYMENT_TIMEOUT", c.Payment.Timeout)
	c.Payment.StripeSecretKey = getEnv("STRIPE_SECRET_KEY", c.Payment.StripeSecretKey)
	c.Payment.StripePriceID = getEnv("STRIPE_PRICE_ID", c.Payment.StripePriceID)
	c.Payment.StripeBaseURL = getEnv("STRIPE_API_BASE", c.Payment.StripeBaseURL)
	c.Payment.StripeSuccessURL = getEnv("STRIPE_SUCCESS_URL", c.Payment.StripeSuccessURL)
	c.Payment.StripeCancelURL = getEnv("STRIPE_CANCEL_URL", c.Payment.StripeCancelURL)

	c.Entitlement.Dir = getEnv("PDFSTUDIO_STATE_DIR", c.Entitlement.Dir)

	c.OCR.Language = getEnv("PDFSTUDIO_OCR_LANGUAGE", c.OCR.Language)
	c.OCR.Workers = getEnvInt("PDFSTUDIO_OCR_WORKERS", c.OCR.Workers)
	c.OCR.DPI = getEnvInt("PDFSTUDIO_OCR_DPI", c.OCR.DPI)
	c.OCR.Grayscale = getEnvBool("PDFSTUDIO_OCR_GRAYSCALE", c.OCR.Grayscale)

	c.Telemetry.Tracing = getEnvBool("OTEL_TRACING_ENABLED", c.Telemetry.Tracing)
	c.Telemetry.ServiceName = getEnv("OTEL_SERVICE_NAME", c.Telemetry.ServiceName)
	c.Telemetry.Protocol = getEnv("OTEL_EXPORTER_OTLP_PROTOCOL", c.Telemetry.Protocol)
	c.Telemetry.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.Endpoint)
	c.Telemetry.Sampler = getEnv("OTEL_TRACES_SAMPLER", c.Telemetry.Sampler)
	c.Telemetry.SamplerArg = getEnv("OTEL_TRACES_SAMPLER_ARG", c.Telemetry.SamplerArg)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error
	if _, err := ocr.ValidateLanguage(c.OCR.Language); err != nil {
		errs = append(errs, fmt.Errorf("ocr.language: %w", err))
	}
	if c.OCR.Workers < 1 || c.OCR.Workers > ocr.MaxWorkers {
		errs = append(errs, fmt.Errorf("ocr.workers must be between 1 and %d, got %d", ocr.MaxWorkers, c.OCR.Workers))
	}
	if c.OCR.DPI < 72 || c.OCR.DPI > 600 {
		errs = append(errs, fmt.Errorf("ocr.dpi must be between 72 and 600, got %d", c.OCR.DPI))
	}
	if c.Entitlement.Dir == "" {
		errs = append(errs, errors.New("entitlement.dir is required"))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}
