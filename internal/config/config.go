// Package config loads the service configuration from defaults, an optional
// YAML file and CELLXPLORE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable name, so that
// store.path is read from CELLXPLORE_STORE_PATH.
const EnvPrefix = "CELLXPLORE"

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Blob     BlobConfig     `mapstructure:"blob" yaml:"blob"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Query    QueryConfig    `mapstructure:"query" yaml:"query"`
	Datasets DatasetsConfig `mapstructure:"datasets" yaml:"datasets"`
	Viz      VizConfig      `mapstructure:"viz" yaml:"viz"`
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// BaseURL is the public URL of the /datasets endpoint, used for file
	// URLs inside configuration documents.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// BlobConfig selects the backend holding the data directory.
type BlobConfig struct {
	Driver string   `mapstructure:"driver" yaml:"driver"`
	FSRoot string   `mapstructure:"fs_root" yaml:"fs_root"`
	S3     S3Config `mapstructure:"s3" yaml:"s3"`
}

// S3Config configures the S3 or MinIO backend.
type S3Config struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	Region          string `mapstructure:"region" yaml:"region"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	PathStyle       bool   `mapstructure:"path_style" yaml:"path_style"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token" yaml:"session_token"`
}

// StoreConfig locates the array store and its tables.
type StoreConfig struct {
	Path             string   `mapstructure:"path" yaml:"path"`
	Lazy             bool     `mapstructure:"lazy" yaml:"lazy"`
	InteractionTable string   `mapstructure:"interaction_table" yaml:"interaction_table"`
	SubTables        []string `mapstructure:"sub_tables" yaml:"sub_tables"`
	ObsTypeColumn    string   `mapstructure:"obs_type_column" yaml:"obs_type_column"`
	TableCacheSize   int      `mapstructure:"table_cache_size" yaml:"table_cache_size"`
}

// QueryConfig holds the significance thresholds and column aliases.
type QueryConfig struct {
	MinProbability float64     `mapstructure:"min_probability" yaml:"min_probability"`
	MaxPValue      float64     `mapstructure:"max_p_value" yaml:"max_p_value"`
	Aliases        AliasConfig `mapstructure:"aliases" yaml:"aliases"`
}

// AliasConfig lists accepted column names per logical interaction field.
type AliasConfig struct {
	Source      []string `mapstructure:"source" yaml:"source"`
	Target      []string `mapstructure:"target" yaml:"target"`
	Ligand      []string `mapstructure:"ligand" yaml:"ligand"`
	Receptor    []string `mapstructure:"receptor" yaml:"receptor"`
	Probability []string `mapstructure:"probability" yaml:"probability"`
	PValue      []string `mapstructure:"p_value" yaml:"p_value"`
}

// Rewrite replaces a requested dataset path by another, by exact match.
type Rewrite struct {
	From string `mapstructure:"from" yaml:"from"`
	To   string `mapstructure:"to" yaml:"to"`
}

// DatasetsConfig configures the raw file passthrough.
type DatasetsConfig struct {
	Rewrites   []Rewrite     `mapstructure:"rewrites" yaml:"rewrites"`
	Presign    bool          `mapstructure:"presign" yaml:"presign"`
	PresignTTL time.Duration `mapstructure:"presign_ttl" yaml:"presign_ttl"`
}

// SampleConfig is one dataset of the samples document.
type SampleConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	Path string `mapstructure:"path" yaml:"path"`
}

// VizConfig describes the configuration documents served to the renderer.
type VizConfig struct {
	Name          string         `mapstructure:"name" yaml:"name"`
	Description   string         `mapstructure:"description" yaml:"description"`
	DatasetName   string         `mapstructure:"dataset_name" yaml:"dataset_name"`
	EmbeddingPath string         `mapstructure:"embedding_path" yaml:"embedding_path"`
	EmbeddingName string         `mapstructure:"embedding_name" yaml:"embedding_name"`
	ObsSetPath    string         `mapstructure:"obs_set_path" yaml:"obs_set_path"`
	ObsSetName    string         `mapstructure:"obs_set_name" yaml:"obs_set_name"`
	FeatureMatrix string         `mapstructure:"feature_matrix" yaml:"feature_matrix"`
	SpatialPath   string         `mapstructure:"spatial_path" yaml:"spatial_path"`
	Samples       []SampleConfig `mapstructure:"samples" yaml:"samples"`
}

// LoggerConfig configures zap and the optional rotated log file.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// SetDefaults registers a default for every key. Environment overrides only
// apply to keys viper knows about, so every key must appear here.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":5000")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.base_url", "http://127.0.0.1:5000/datasets")

	v.SetDefault("blob.driver", "fs")
	v.SetDefault("blob.fs_root", "./datasets")
	v.SetDefault("blob.s3.bucket", "")
	v.SetDefault("blob.s3.region", "us-east-1")
	v.SetDefault("blob.s3.prefix", "")
	v.SetDefault("blob.s3.endpoint", "")
	v.SetDefault("blob.s3.path_style", false)
	v.SetDefault("blob.s3.access_key_id", "")
	v.SetDefault("blob.s3.secret_access_key", "")
	v.SetDefault("blob.s3.session_token", "")

	v.SetDefault("store.path", "tbrucei_brain_spatial.zarr")
	v.SetDefault("store.lazy", false)
	v.SetDefault("store.interaction_table", "Cellchat_Interactions")
	v.SetDefault("store.sub_tables", []string{"table"})
	v.SetDefault("store.obs_type_column", "clusters")
	v.SetDefault("store.table_cache_size", 32)

	v.SetDefault("query.min_probability", 0.0)
	v.SetDefault("query.max_p_value", 0.05)
	v.SetDefault("query.aliases.source", []string{"source"})
	v.SetDefault("query.aliases.target", []string{"target"})
	v.SetDefault("query.aliases.ligand", []string{"ligand"})
	v.SetDefault("query.aliases.receptor", []string{"receptor"})
	v.SetDefault("query.aliases.probability", []string{"probability", "prob", "lr_probs"})
	v.SetDefault("query.aliases.p_value", []string{"p_value", "pval", "pvals", "cellchat_pvals"})

	v.SetDefault("datasets.rewrites", []Rewrite{})
	v.SetDefault("datasets.presign", false)
	v.SetDefault("datasets.presign_ttl", 15*time.Minute)

	v.SetDefault("viz.name", "10X Visium Murine Brain T.brucei Infection")
	v.SetDefault("viz.description", "")
	v.SetDefault("viz.dataset_name", "T.brucei infection")
	v.SetDefault("viz.embedding_path", "obsm/X_umap")
	v.SetDefault("viz.embedding_name", "UMAP")
	v.SetDefault("viz.obs_set_path", "obs/clusters")
	v.SetDefault("viz.obs_set_name", "Cell Type")
	v.SetDefault("viz.feature_matrix", "X")
	v.SetDefault("viz.spatial_path", "")
	v.SetDefault("viz.samples", []SampleConfig{})

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.service_name", "cellxplore")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
}

// NewViper returns a viper instance with defaults and environment binding.
// When file is non-empty it is read as the configuration file.
func NewViper(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	return v, nil
}

// Load is NewViper followed by NewConfigFromViper.
func Load(file string) (*Config, error) {
	v, err := NewViper(file)
	if err != nil {
		return nil, err
	}
	return NewConfigFromViper(v)
}

// NewConfigFromViper decodes and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Store.Path) == "" {
		errs = append(errs, errors.New("store.path must not be empty"))
	}
	switch c.Blob.Driver {
	case "fs", "memory":
	case "s3":
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("blob.s3.bucket is required with the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("blob.driver %q is not one of fs, s3, memory", c.Blob.Driver))
	}
	if c.Query.MaxPValue < 0 || c.Query.MaxPValue > 1 {
		errs = append(errs, fmt.Errorf("query.max_p_value %v outside [0,1]", c.Query.MaxPValue))
	}
	if c.Store.TableCacheSize < 0 {
		errs = append(errs, errors.New("store.table_cache_size must not be negative"))
	}
	if c.Datasets.Presign && c.Blob.Driver != "s3" {
		errs = append(errs, errors.New("datasets.presign requires the s3 driver"))
	}
	for i, r := range c.Datasets.Rewrites {
		if r.From == "" || r.To == "" {
			errs = append(errs, fmt.Errorf("datasets.rewrites[%d] needs both from and to", i))
		}
	}
	switch strings.ToLower(c.Logger.Format) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logger.format %q is not json or console", c.Logger.Format))
	}
	return errors.Join(errs...)
}
