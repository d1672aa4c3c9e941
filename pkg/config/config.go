package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	AppNodeID  int64  `mapstructure:"APP_NODE_ID"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr   string `mapstructure:"ADDR"`
		Secure bool   `mapstructure:"SECURE"`
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Grpc struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"GRPC_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		AutoMigrate    bool   `mapstructure:"AUTO_MIGRATE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	AccessControl struct {
		Model         string `mapstructure:"MODEL"`
		Policy        string `mapstructure:"POLICY"`
		TrustedHeader string `mapstructure:"TRUSTED_HEADER"`
	} `mapstructure:"ACCESS_CONTROL"`
	Minio struct {
		Endpoint   string `mapstructure:"ENDPOINT"`
		AccessKey  string `mapstructure:"ACCESS_KEY"`
		SecretKey  string `mapstructure:"SECRET_KEY"`
		Secure     bool   `mapstructure:"SECURE"`
		Region     string `mapstructure:"REGION"`
		BucketName string `mapstructure:"BUCKET_NAME"`
	} `mapstructure:"MINIO"`
	Gateway struct {
		CallTimeout time.Duration `mapstructure:"CALL_TIMEOUT"`
	} `mapstructure:"GATEWAY"`
	Download struct {
		MaxUses    int           `mapstructure:"MAX_USES"`
		TokenTTL   time.Duration `mapstructure:"TOKEN_TTL"`
		PresignTTL time.Duration `mapstructure:"PRESIGN_TTL"`
	} `mapstructure:"DOWNLOAD"`
	License struct {
		MaxActivations int    `mapstructure:"MAX_ACTIVATIONS"`
		KeyPrefix      string `mapstructure:"KEY_PREFIX"`
		SweepHour      int    `mapstructure:"SWEEP_HOUR"`
	} `mapstructure:"LICENSE"`
	Rates struct {
		ProviderURL     string             `mapstructure:"PROVIDER_URL"`
		BaseCurrency    string             `mapstructure:"BASE_CURRENCY"`
		RefreshInterval time.Duration      `mapstructure:"REFRESH_INTERVAL"`
		Timeout         time.Duration      `mapstructure:"TIMEOUT"`
		Fallback        map[string]float64 `mapstructure:"FALLBACK"`
	} `mapstructure:"RATES"`
	Idempotency struct {
		TTL time.Duration `mapstructure:"TTL"`
	} `mapstructure:"IDEMPOTENCY"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

// LoadConfig reads config.yaml from the working directory (optional) and
// lets environment variables override any key, e.g. DATABASE_HOST.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.TLS.Enable && (cfg.TLS.CertPath == "" || cfg.TLS.KeyPath == "") {
		return nil, errors.New("tls enabled but TLS_CERT_PATH or TLS_KEY_PATH not provided")
	}

	return &cfg, nil
}

// AutomaticEnv only resolves keys viper already knows about, so every key
// that may come from the environment needs a default here.
func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "payhuk-core")
	v.SetDefault("APP_VERSION", "dev")
	v.SetDefault("APP_NODE_ID", 1)
	v.SetDefault("TLS.ENABLE", false)
	v.SetDefault("TLS.CERT_PATH", "")
	v.SetDefault("TLS.KEY_PATH", "")
	v.SetDefault("OTEL.ADDR", "")
	v.SetDefault("OTEL.SECURE", false)
	v.SetDefault("PYROSCOPE.ADDR", "")

	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("GRPC_SERVER.ADDR", "9090")

	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.HOST", "localhost")
	v.SetDefault("DATABASE.PORT", "5432")
	v.SetDefault("DATABASE.DBNAME", "payhuk")
	v.SetDefault("DATABASE.USER", "postgres")
	v.SetDefault("DATABASE.PASSWORD", "")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("DATABASE.AUTO_MIGRATE", false)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_IDLE_CONN", 5)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_OPEN_CONNS", 20)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_LIFETIME", 30*time.Minute)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_IDLE_TIME", 5*time.Minute)

	v.SetDefault("REDIS.ADDR", "localhost:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 4*time.Second)

	v.SetDefault("ACCESS_CONTROL.MODEL", "")
	v.SetDefault("ACCESS_CONTROL.POLICY", "")
	v.SetDefault("ACCESS_CONTROL.TRUSTED_HEADER", "X-Role")

	v.SetDefault("MINIO.ENDPOINT", "localhost:9000")
	v.SetDefault("MINIO.ACCESS_KEY", "")
	v.SetDefault("MINIO.SECRET_KEY", "")
	v.SetDefault("MINIO.SECURE", false)
	v.SetDefault("MINIO.REGION", "us-east-1")
	v.SetDefault("MINIO.BUCKET_NAME", "digital-assets")

	v.SetDefault("GATEWAY.CALL_TIMEOUT", 10*time.Second)

	v.SetDefault("DOWNLOAD.MAX_USES", 5)
	v.SetDefault("DOWNLOAD.TOKEN_TTL", 24*time.Hour)
	v.SetDefault("DOWNLOAD.PRESIGN_TTL", 5*time.Minute)

	v.SetDefault("LICENSE.MAX_ACTIVATIONS", 3)
	v.SetDefault("LICENSE.KEY_PREFIX", "PHK")
	v.SetDefault("LICENSE.SWEEP_HOUR", 1)

	v.SetDefault("RATES.PROVIDER_URL", "https://api.exchangerate.host/latest")
	v.SetDefault("RATES.BASE_CURRENCY", "XOF")
	v.SetDefault("RATES.REFRESH_INTERVAL", 60*time.Minute)
	v.SetDefault("RATES.TIMEOUT", 10*time.Second)

	v.SetDefault("IDEMPOTENCY.TTL", 24*time.Hour)
}
