// Package config provides configuration loading and validation for lifecycled.
// Supports YAML files with environment variable overrides.
//
// Precedence, highest first: environment, config file, Default(). Each field
// names its environment variables in an env tag; later names in the tag are
// accepted aliases.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ConfigPathEnv names the environment variable holding the config file path.
const ConfigPathEnv = "LIFECYCLED_CONFIG"

// Metadata backends.
const (
	MetadataFirestore = "firestore"
	MetadataOxia      = "oxia"
	MetadataPostgres  = "postgres"
)

// Object store backends.
const (
	ObjectStoreGCS   = "gcs"
	ObjectStoreS3    = "s3"
	ObjectStoreMinIO = "minio"
)

// Config holds all configuration for a lifecycled process.
type Config struct {
	Lifecycle     LifecycleConfig     `mapstructure:"lifecycle" yaml:"lifecycle"`
	Metadata      MetadataConfig      `mapstructure:"metadata" yaml:"metadata"`
	ObjectStore   ObjectStoreConfig   `mapstructure:"objectStore" yaml:"objectStore"`
	Lease         LeaseConfig         `mapstructure:"lease" yaml:"lease"`
	Observability ObservabilityConfig `mapstructure:"observability" yaml:"observability"`
}

type LifecycleConfig struct {
	// Interval is the pause between the end of one cycle and the start of the next.
	Interval        time.Duration `mapstructure:"interval" yaml:"interval" env:"LIFECYCLED_INTERVAL" validate:"gt=0"`
	ValidityWindow  time.Duration `mapstructure:"validityWindow" yaml:"validityWindow" env:"LIFECYCLED_VALIDITY_WINDOW" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout" yaml:"shutdownTimeout" env:"LIFECYCLED_SHUTDOWN_TIMEOUT" validate:"gt=0"`
}

type MetadataConfig struct {
	Backend    string          `mapstructure:"backend" yaml:"backend" env:"LIFECYCLED_METADATA_BACKEND" validate:"oneof=firestore oxia postgres"`
	Collection string          `mapstructure:"collection" yaml:"collection" env:"LIFECYCLED_COLLECTION,COLLECTION_NAME" validate:"required"`
	Firestore  FirestoreConfig `mapstructure:"firestore" yaml:"firestore"`
	Oxia       OxiaConfig      `mapstructure:"oxia" yaml:"oxia"`
	Postgres   PostgresConfig  `mapstructure:"postgres" yaml:"postgres"`
}

type FirestoreConfig struct {
	ProjectID       string `mapstructure:"projectId" yaml:"projectId" env:"LIFECYCLED_PROJECT_ID,PROJECT_ID"`
	CredentialsFile string `mapstructure:"credentialsFile" yaml:"credentialsFile" env:"LIFECYCLED_CREDENTIALS_FILE,CREDENTIAL_PATH"`
}

type OxiaConfig struct {
	ServiceAddress string        `mapstructure:"serviceAddress" yaml:"serviceAddress" env:"LIFECYCLED_OXIA_ENDPOINT"`
	Namespace      string        `mapstructure:"namespace" yaml:"namespace" env:"LIFECYCLED_OXIA_NAMESPACE"`
	RequestTimeout time.Duration `mapstructure:"requestTimeout" yaml:"requestTimeout" env:"LIFECYCLED_OXIA_REQUEST_TIMEOUT"`
	SessionTimeout time.Duration `mapstructure:"sessionTimeout" yaml:"sessionTimeout" env:"LIFECYCLED_OXIA_SESSION_TIMEOUT"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn" yaml:"dsn" env:"LIFECYCLED_POSTGRES_DSN" redact:"true"`
}

type ObjectStoreConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend" env:"LIFECYCLED_OBJECTSTORE_BACKEND" validate:"oneof=gcs s3 minio"`
	Bucket  string `mapstructure:"bucket" yaml:"bucket" env:"LIFECYCLED_BUCKET,BUCKET_NAME" validate:"required"`
	// ProbeKey is looked up by the readiness check. A missing object is healthy.
	ProbeKey string      `mapstructure:"probeKey" yaml:"probeKey" env:"LIFECYCLED_PROBE_KEY"`
	GCS      GCSConfig   `mapstructure:"gcs" yaml:"gcs"`
	S3       S3Config    `mapstructure:"s3" yaml:"s3"`
	MinIO    MinIOConfig `mapstructure:"minio" yaml:"minio"`
}

type GCSConfig struct {
	CredentialsFile string `mapstructure:"credentialsFile" yaml:"credentialsFile" env:"LIFECYCLED_GCS_CREDENTIALS_FILE,CREDENTIAL_PATH"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint" env:"LIFECYCLED_GCS_ENDPOINT"`
}

type S3Config struct {
	Endpoint     string `mapstructure:"endpoint" yaml:"endpoint" env:"LIFECYCLED_S3_ENDPOINT"`
	Region       string `mapstructure:"region" yaml:"region" env:"LIFECYCLED_S3_REGION"`
	AccessKey    string `mapstructure:"accessKey" yaml:"accessKey" env:"LIFECYCLED_S3_ACCESS_KEY"`
	SecretKey    string `mapstructure:"secretKey" yaml:"secretKey" env:"LIFECYCLED_S3_SECRET_KEY" redact:"true"`
	UsePathStyle bool   `mapstructure:"usePathStyle" yaml:"usePathStyle" env:"LIFECYCLED_S3_PATH_STYLE"`
}

type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint" env:"LIFECYCLED_MINIO_ENDPOINT"`
	Region    string `mapstructure:"region" yaml:"region" env:"LIFECYCLED_MINIO_REGION"`
	AccessKey string `mapstructure:"accessKey" yaml:"accessKey" env:"LIFECYCLED_MINIO_ACCESS_KEY"`
	SecretKey string `mapstructure:"secretKey" yaml:"secretKey" env:"LIFECYCLED_MINIO_SECRET_KEY" redact:"true"`
	UseSSL    bool   `mapstructure:"useSSL" yaml:"useSSL" env:"LIFECYCLED_MINIO_USE_SSL"`
}

// LeaseConfig controls the optional single-runner lease. It requires the
// oxia metadata backend.
type LeaseConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled" env:"LIFECYCLED_LEASE_ENABLED"`
	HolderID string `mapstructure:"holderId" yaml:"holderId" env:"LIFECYCLED_LEASE_HOLDER_ID"`
}

type ObservabilityConfig struct {
	HealthAddr string `mapstructure:"healthAddr" yaml:"healthAddr" env:"LIFECYCLED_HEALTH_ADDR"`
	LogLevel   string `mapstructure:"logLevel" yaml:"logLevel" env:"LIFECYCLED_LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat  string `mapstructure:"logFormat" yaml:"logFormat" env:"LIFECYCLED_LOG_FORMAT" validate:"oneof=json text"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Lifecycle: LifecycleConfig{
			Interval:        time.Second,
			ValidityWindow:  time.Hour,
			ShutdownTimeout: 30 * time.Second,
		},
		Metadata: MetadataConfig{
			Backend: MetadataFirestore,
			Oxia: OxiaConfig{
				ServiceAddress: "localhost:6648",
				Namespace:      "lifecycle",
				RequestTimeout: 30 * time.Second,
				SessionTimeout: 15 * time.Second,
			},
		},
		ObjectStore: ObjectStoreConfig{
			Backend:  ObjectStoreGCS,
			ProbeKey: ".lifecycled-probe",
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		Observability: ObservabilityConfig{
			HealthAddr: ":9090",
			LogLevel:   "info",
			LogFormat:  "json",
		},
	}
}

// Load reads the file named by LIFECYCLED_CONFIG, if set, and applies
// environment overrides.
func Load() (*Config, error) {
	return LoadFromPath(os.Getenv(ConfigPathEnv))
}

// LoadFromPath reads the YAML file at path, applies environment overrides
// and validates the result. An empty path loads defaults plus environment.
func LoadFromPath(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is LoadFromPath without validation, for callers that apply further
// overrides before calling Validate.
func Read(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := bindStruct(v, "", reflect.ValueOf(Default()).Elem()); err != nil {
		return nil, fmt.Errorf("config: failed to bind environment: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to decode: %w", err)
	}
	return cfg, nil
}

// bindStruct registers every leaf field of val with viper: its default value
// and the environment variables named in its env tag.
func bindStruct(v *viper.Viper, prefix string, val reflect.Value) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		key := field.Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}

		fv := val.Field(i)
		if fv.Kind() == reflect.Struct {
			if err := bindStruct(v, key, fv); err != nil {
				return err
			}
			continue
		}

		v.SetDefault(key, fv.Interface())
		if env := field.Tag.Get("env"); env != "" {
			if err := v.BindEnv(append([]string{key}, strings.Split(env, ",")...)...); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	}
	return nil
}

var validate = validator.New()

// Validate checks field constraints and cross-section requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config: %s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("config: %w", err)
	}

	switch c.Metadata.Backend {
	case MetadataFirestore:
		if c.Metadata.Firestore.ProjectID == "" {
			return errors.New("config: metadata.firestore.projectId is required for the firestore backend")
		}
	case MetadataOxia:
		if c.Metadata.Oxia.ServiceAddress == "" {
			return errors.New("config: metadata.oxia.serviceAddress is required for the oxia backend")
		}
	case MetadataPostgres:
		if c.Metadata.Postgres.DSN == "" {
			return errors.New("config: metadata.postgres.dsn is required for the postgres backend")
		}
	}

	if c.ObjectStore.Backend == ObjectStoreMinIO && c.ObjectStore.MinIO.Endpoint == "" {
		return errors.New("config: objectStore.minio.endpoint is required for the minio backend")
	}

	if c.Lease.Enabled && c.Metadata.Backend != MetadataOxia {
		return fmt.Errorf("config: lease requires the oxia metadata backend, got %q", c.Metadata.Backend)
	}
	return nil
}

// Redacted returns a copy with secret fields masked.
func (c *Config) Redacted() *Config {
	out := *c
	redact(reflect.ValueOf(&out).Elem())
	return &out
}

func redact(val reflect.Value) {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		fv := val.Field(i)
		if fv.Kind() == reflect.Struct {
			redact(fv)
			continue
		}
		if typ.Field(i).Tag.Get("redact") == "true" && fv.Kind() == reflect.String && fv.String() != "" {
			fv.SetString("REDACTED")
		}
	}
}

// YAML renders the configuration with secrets masked.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c.Redacted())
}
