// Package config provides layered configuration loading for the Vanish
// service. Values are merged Defaults -> YAML file (optional) -> Environment
// and validated before use.
package config

import (
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/haukened/vanish/internal/domain"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "VANISH_"

// EnvConfigFile names the environment variable holding an optional YAML
// config file path.
const EnvConfigFile = EnvPrefix + "CONFIG"

// Config holds the merged runtime configuration.
type Config struct {
	Addr    string `koanf:"addr" validate:"ip_port"`
	BaseURL string `koanf:"base_url" validate:"omitempty,http_url"`
	DataDir string `koanf:"data_dir" validate:"safe_path"`

	MaxBytes     ByteSize           `koanf:"max_bytes" validate:"gt=0"`
	MinTTL       time.Duration      `koanf:"min_ttl" validate:"gt=0"`
	MaxTTL       time.Duration      `koanf:"max_ttl" validate:"gt=0"`
	TTLOptions   []domain.TTLOption `koanf:"ttl_options"`
	MaxDownloads int                `koanf:"max_downloads" validate:"gte=1"`

	IndexBackend string `koanf:"index_backend" validate:"oneof=sqlite bolt"`
	BlobBackend  string `koanf:"blob_backend" validate:"oneof=filesystem s3"`
	S3Bucket     string `koanf:"s3_bucket" validate:"required_if=BlobBackend s3"`
	S3Prefix     string `koanf:"s3_prefix"`
	S3Region     string `koanf:"s3_region"`
	S3Endpoint   string `koanf:"s3_endpoint" validate:"omitempty,url"`
	S3PathStyle  bool   `koanf:"s3_path_style"`

	RedisAddr     string   `koanf:"redis_addr" validate:"omitempty,hostname_port"`
	RedisPassword string   `koanf:"redis_password"`
	CacheSize     ByteSize `koanf:"cache_size" validate:"gte=524288"`

	OTPTTL         time.Duration `koanf:"otp_ttl" validate:"gt=0"`
	OTPDigits      int           `koanf:"otp_digits" validate:"gte=4,lte=10"`
	OTPMaxAttempts int           `koanf:"otp_max_attempts" validate:"gte=1"`
	OTPKey         string        `koanf:"otp_key"`
	BcryptCost     int           `koanf:"bcrypt_cost" validate:"gte=4,lte=31"`

	ReaperInterval time.Duration `koanf:"reaper_interval" validate:"gte=1s"`
	PurgeGrace     time.Duration `koanf:"purge_grace" validate:"gte=0"`
	OrphanGrace    time.Duration `koanf:"orphan_grace" validate:"gte=1m,gtfield=StorageTimeout"`
	StorageTimeout time.Duration `koanf:"storage_timeout" validate:"gt=0"`
	StorageRetries int           `koanf:"storage_retries" validate:"gte=1,lte=10"`

	RateLimit    float64 `koanf:"rate_limit" validate:"gte=0"`
	RateBurst    int     `koanf:"rate_burst" validate:"gte=1"`
	TrustProxy   bool    `koanf:"trust_proxy"`
	AdminToken   string  `koanf:"admin_token"`
	MetricsToken string  `koanf:"metrics_token"`

	ScanDenyMIME []string `koanf:"scan_deny_mime"`

	SMTPAddr     string `koanf:"smtp_addr" validate:"omitempty,hostname_port"`
	SMTPUsername string `koanf:"smtp_username"`
	SMTPPassword string `koanf:"smtp_password"`
	SMTPFrom     string `koanf:"smtp_from" validate:"required_with=SMTPAddr"`

	LogLevel  string `koanf:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`
	LogFile   string `koanf:"log_file"`
}

// DefaultAppConfig is the lowest configuration layer.
var DefaultAppConfig = Config{
	Addr:         ":8080",
	DataDir:      "./data",
	MaxBytes:     100 << 20, // 100 MiB
	MinTTL:       5 * time.Minute,
	MaxTTL:       7 * 24 * time.Hour,
	MaxDownloads: 100,
	TTLOptions: []domain.TTLOption{
		{Duration: time.Hour, Label: "1h"},
		{Duration: 24 * time.Hour, Label: "24h"},
		{Duration: 7 * 24 * time.Hour, Label: "168h"},
	},
	IndexBackend:   "sqlite",
	BlobBackend:    "filesystem",
	CacheSize:      16 << 20,
	OTPTTL:         5 * time.Minute,
	OTPDigits:      6,
	OTPMaxAttempts: 3,
	BcryptCost:     12,
	ReaperInterval: time.Minute,
	PurgeGrace:     time.Minute,
	OrphanGrace:    time.Hour,
	StorageTimeout: 10 * time.Second,
	StorageRetries: 3,
	RateLimit:      5,
	RateBurst:      10,
	LogLevel:       "info",
	LogFormat:      "text",
}

// Loader steps are variables so tests can inject failures.
var (
	defaultLoader = func(k *koanf.Koanf) error {
		return k.Load(structs.Provider(DefaultAppConfig, "koanf"), nil)
	}
	fileLoader = func(k *koanf.Koanf, p string) error {
		return k.Load(file.Provider(p), yaml.Parser())
	}
	envLoader = func(k *koanf.Koanf) error {
		return k.Load(env.Provider(".", env.Opt{
			Prefix: EnvPrefix,
			TransformFunc: func(key, value string) (string, any) {
				if key == EnvConfigFile {
					return "", nil
				}
				return strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), value
			},
		}), nil)
	}
	registerValidators = func(v *validator.Validate) error {
		if err := v.RegisterValidation("ip_port", validIPPort); err != nil {
			return err
		}
		return v.RegisterValidation("safe_path", validSafePath)
	}
)

// Load builds the configuration, reading the YAML file named by
// VANISH_CONFIG when set.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(EnvConfigFile))
}

// LoadFile builds the configuration with an optional YAML file layered
// between the defaults and the environment.
func LoadFile(configPath string) (*Config, error) {
	k := koanf.New(".")
	if err := defaultLoader(k); err != nil {
		return nil, errors.Wrap(err, "load defaults")
	}
	if configPath != "" {
		if err := fileLoader(k, configPath); err != nil {
			return nil, errors.Wrapf(err, "load %s", configPath)
		}
	}
	if err := envLoader(k); err != nil {
		return nil, errors.Wrap(err, "load environment")
	}

	var cfg Config
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				StringToByteSize(),
				mapstructure.StringToSliceHookFunc(","),
				StringToTTLOptions(),
			),
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	cfg.ScanDenyMIME = trimAll(cfg.ScanDenyMIME)

	v := validator.New()
	if err := registerValidators(v); err != nil {
		return nil, errors.Wrap(err, "register validators")
	}
	if err := v.Struct(&cfg); err != nil {
		return nil, err
	}
	if cfg.MinTTL >= cfg.MaxTTL {
		return nil, errors.New("min_ttl must be less than max_ttl")
	}
	for _, o := range cfg.TTLOptions {
		if err := domain.ValidateTTL(o.Duration, cfg.MinTTL, cfg.MaxTTL); err != nil {
			return nil, fmt.Errorf("ttl_options: %s outside [min_ttl, max_ttl]", o.Label)
		}
	}
	return &cfg, nil
}

// SQLiteDSN returns the DSN of the SQLite database under DataDir. It holds
// the share index (sqlite backend) and the persisted metrics.
func (c *Config) SQLiteDSN() string {
	return "file:" + path.Join(c.DataDir, "vanish.db") +
		"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_synchronous=FULL"
}

// BoltPath is the bbolt index file used by the bolt backend.
func (c *Config) BoltPath() string { return filepath.Join(c.DataDir, "vanish.bolt") }

// BlobDir is the root of the filesystem blob store.
func (c *Config) BlobDir() string { return filepath.Join(c.DataDir, "blobs") }

// LogFilePath resolves LogFile relative to DataDir when it is not absolute.
func (c *Config) LogFilePath() string {
	if c.LogFile == "" || filepath.IsAbs(c.LogFile) {
		return c.LogFile
	}
	return filepath.Join(c.DataDir, c.LogFile)
}

// validIPPort accepts "host:port" where host is empty or a literal IP and
// port is 1-65535.
func validIPPort(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" || strings.TrimSpace(s) != s || strings.ContainsRune(s, ' ') {
		return false
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return false
	}
	if host != "" && net.ParseIP(host) == nil {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 1 && n <= 65535
}

// validSafePath rejects empty paths, the filesystem root, "." and any path
// that climbs with "..".
func validSafePath(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	if p == "" {
		return false
	}
	for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
		if seg == ".." {
			return false
		}
	}
	clean := filepath.Clean(p)
	return clean != "." && clean != string(filepath.Separator)
}

func trimAll(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
