// Package config loads settings of the command line tool from defaults, config file, environment and flags.
package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/outofforest/packfs"
	"github.com/outofforest/packfs/inspect"
	"github.com/outofforest/packfs/pkg/archive"
	"github.com/outofforest/packfs/pkg/logger"
)

// EnvPrefix is the prefix of environment variables, key "mount.allow_other" is read from PACKFS_MOUNT_ALLOW_OTHER.
const EnvPrefix = "PACKFS"

// Keys.
const (
	KeyLogLevel         = "log.level"
	KeyFormat           = "format"
	KeyWorkers          = "workers"
	KeyCacheSize        = "cache_size"
	KeySpareBlocks      = "spare_blocks"
	KeyReadOnly         = "read_only"
	KeyCipherKeyFile    = "cipher.key_file"
	KeySplitFile        = "split.file"
	KeyHash             = "digest.hash"
	KeyCodec            = "archive.codec"
	KeyMountAllowOther  = "mount.allow_other"
	KeyMountMetricsAddr = "mount.metrics_addr"
)

// Flags maps keys to names of command line flags.
var Flags = map[string]string{
	KeyLogLevel:         "log-level",
	KeyFormat:           "format",
	KeyWorkers:          "workers",
	KeyCacheSize:        "cache-size",
	KeySpareBlocks:      "spare-blocks",
	KeyReadOnly:         "read-only",
	KeyCipherKeyFile:    "cipher-key-file",
	KeySplitFile:        "split-file",
	KeyHash:             "hash",
	KeyCodec:            "codec",
	KeyMountAllowOther:  "allow-other",
	KeyMountMetricsAddr: "metrics-addr",
}

// Config is the configuration of the tool.
type Config struct {
	LogLevel      string
	Format        packfs.Format
	Workers       int
	CacheSize     int
	SpareBlocks   uint32
	ReadOnly      bool
	CipherKeyFile string
	SplitFile     string
	Hash          inspect.Algorithm
	Codec         archive.Codec
	Mount         Mount
}

// Mount is the configuration of the FUSE mount.
type Mount struct {
	AllowOther  bool
	MetricsAddr string
}

// New returns viper instance with defaults and environment bindings. If file is not empty,
// configuration is read from it.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault(KeyLogLevel, logger.DefaultLevel)
	v.SetDefault(KeyFormat, string(packfs.FormatBlock))
	v.SetDefault(KeyWorkers, 4)
	v.SetDefault(KeyCacheSize, 0)
	v.SetDefault(KeySpareBlocks, 0)
	v.SetDefault(KeyReadOnly, false)
	v.SetDefault(KeyCipherKeyFile, "")
	v.SetDefault(KeySplitFile, "")
	v.SetDefault(KeyHash, string(inspect.XXHash))
	v.SetDefault(KeyCodec, string(archive.CodecZstd))
	v.SetDefault(KeyMountAllowOther, false)
	v.SetDefault(KeyMountMetricsAddr, "")

	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config %q", file)
		}
	}
	return v, nil
}

// BindFlags binds the flags present in the set to their keys.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for key, name := range Flags {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

// Load reads and validates the configuration.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		LogLevel:      v.GetString(KeyLogLevel),
		Workers:       v.GetInt(KeyWorkers),
		CacheSize:     v.GetInt(KeyCacheSize),
		ReadOnly:      v.GetBool(KeyReadOnly),
		CipherKeyFile: v.GetString(KeyCipherKeyFile),
		SplitFile:     v.GetString(KeySplitFile),
		Mount: Mount{
			AllowOther:  v.GetBool(KeyMountAllowOther),
			MetricsAddr: v.GetString(KeyMountMetricsAddr),
		},
	}

	var err error
	if _, err = logger.ParseLevel(cfg.LogLevel); err != nil {
		return Config{}, err
	}
	if cfg.Format, err = packfs.ParseFormat(v.GetString(KeyFormat)); err != nil {
		return Config{}, err
	}
	if cfg.Hash, err = inspect.ParseAlgorithm(v.GetString(KeyHash)); err != nil {
		return Config{}, err
	}
	if cfg.Codec, err = archive.ParseCodec(v.GetString(KeyCodec)); err != nil {
		return Config{}, err
	}
	if cfg.Workers < 1 {
		return Config{}, errors.Errorf("%s must be positive, provided: %d", KeyWorkers, cfg.Workers)
	}
	if cfg.CacheSize < 0 {
		return Config{}, errors.Errorf("%s must not be negative, provided: %d", KeyCacheSize, cfg.CacheSize)
	}
	spareBlocks := v.GetInt64(KeySpareBlocks)
	if spareBlocks < 0 || spareBlocks > 1<<32-1 {
		return Config{}, errors.Errorf("%s is out of range, provided: %d", KeySpareBlocks, spareBlocks)
	}
	cfg.SpareBlocks = uint32(spareBlocks)

	return cfg, nil
}
