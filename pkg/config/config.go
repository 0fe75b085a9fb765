package config

import (
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var config = viper.New()

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`
	NodeID     int64  `mapstructure:"NODE_ID"`
	Database   struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
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
	Lock struct {
		// memory or redis
		Backend    string        `mapstructure:"BACKEND"`
		TTL        time.Duration `mapstructure:"TTL"`
		RetryDelay time.Duration `mapstructure:"RETRY_DELAY"`
	} `mapstructure:"LOCK"`
	Engine struct {
		GracePeriodDays  int    `mapstructure:"GRACE_PERIOD_DAYS"`
		SaleValueMin     string `mapstructure:"SALE_VALUE_MIN"`
		SaleValueMax     string `mapstructure:"SALE_VALUE_MAX"`
		Workers          int    `mapstructure:"WORKERS"`
		BatchSize        int    `mapstructure:"BATCH_SIZE"`
		ConflictRetries  uint64 `mapstructure:"CONFLICT_RETRIES"`
		PhoneRegion      string `mapstructure:"PHONE_REGION"`
		DefaultStrategy  string `mapstructure:"DEFAULT_DUPLICATE_STRATEGY"`
		AsyncJobQueue    string `mapstructure:"ASYNC_JOB_QUEUE"`
		AsyncJobMaxRetry int    `mapstructure:"ASYNC_JOB_MAX_RETRY"`
	} `mapstructure:"ENGINE"`
	Earnings struct {
		// points or fixed
		SellerPolicy string `mapstructure:"SELLER_POLICY"`
		PointValue   string `mapstructure:"POINT_VALUE"`
		FixedAmount  string `mapstructure:"FIXED_AMOUNT"`
	} `mapstructure:"EARNINGS"`
	Ops struct {
		Enabled      bool          `mapstructure:"ENABLED"`
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
	} `mapstructure:"OPS"`
	Minio struct {
		Enabled    bool   `mapstructure:"ENABLED"`
		Endpoint   string `mapstructure:"ENDPOINT"`
		AccessKey  string `mapstructure:"ACCESS_KEY"`
		SecretKey  string `mapstructure:"SECRET_KEY"`
		Secure     bool   `mapstructure:"SECURE"`
		BucketName string `mapstructure:"BUCKET_NAME"`
	} `mapstructure:"MINIO"`
	Observability struct {
		DBMetrics bool `mapstructure:"DB_METRICS"`
		DBTracing bool `mapstructure:"DB_TRACING"`
		Tracing   struct {
			// PROTOCOL is grpc or http
			Enabled     bool    `mapstructure:"ENABLED"`
			Protocol    string  `mapstructure:"PROTOCOL"`
			Endpoint    string  `mapstructure:"ENDPOINT"`
			Insecure    bool    `mapstructure:"INSECURE"`
			SampleRatio float64 `mapstructure:"SAMPLE_RATIO"`
		} `mapstructure:"TRACING"`
		Profiling struct {
			Enabled bool   `mapstructure:"ENABLED"`
			Addr    string `mapstructure:"ADDR"`
		} `mapstructure:"PROFILING"`
	} `mapstructure:"OBSERVABILITY"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func LoadConfig() *Config {

	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	setDefaults(config)

	if err := config.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			zap.L().Error("failed to read config file", zap.Error(err))
			os.Exit(1)
		}
		zap.L().Warn("config file not found, using defaults and environment")
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	return &cfg
}

// Watch re-reads the config file whenever it changes and hands the fresh
// values to fn. It does nothing when no config file was loaded.
func Watch(fn func(*Config)) {
	if config.ConfigFileUsed() == "" {
		return
	}

	config.OnConfigChange(func(e fsnotify.Event) {
		var cfg Config
		if err := config.Unmarshal(&cfg); err != nil {
			zap.L().Warn("ignoring invalid config change", zap.String("file", e.Name), zap.Error(err))
			return
		}
		zap.L().Info("config file changed", zap.String("file", e.Name), zap.String("op", e.Op.String()))
		fn(&cfg)
	})
	config.WatchConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "incentive-engine")
	v.SetDefault("NODE_ID", 1)
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("LOCK.BACKEND", "memory")
	v.SetDefault("LOCK.TTL", 30*time.Second)
	v.SetDefault("LOCK.RETRY_DELAY", 50*time.Millisecond)
	v.SetDefault("ENGINE.GRACE_PERIOD_DAYS", 0)
	v.SetDefault("ENGINE.WORKERS", 4)
	v.SetDefault("ENGINE.BATCH_SIZE", 200)
	v.SetDefault("ENGINE.CONFLICT_RETRIES", 5)
	v.SetDefault("ENGINE.PHONE_REGION", "BR")
	v.SetDefault("ENGINE.DEFAULT_DUPLICATE_STRATEGY", "REJECT_ROW")
	v.SetDefault("ENGINE.ASYNC_JOB_QUEUE", "default")
	v.SetDefault("ENGINE.ASYNC_JOB_MAX_RETRY", 3)
	v.SetDefault("EARNINGS.SELLER_POLICY", "points")
	v.SetDefault("EARNINGS.POINT_VALUE", "1")
	v.SetDefault("EARNINGS.FIXED_AMOUNT", "0")
	v.SetDefault("OPS.ENABLED", true)
	v.SetDefault("OPS.ADDR", ":9090")
	v.SetDefault("OPS.READ_TIMEOUT", 5*time.Second)
	v.SetDefault("OPS.WRITE_TIMEOUT", 10*time.Second)
	v.SetDefault("MINIO.BUCKET_NAME", "validation-uploads")
	v.SetDefault("OBSERVABILITY.TRACING.PROTOCOL", "grpc")
	v.SetDefault("OBSERVABILITY.TRACING.ENDPOINT", "localhost:4317")
	v.SetDefault("OBSERVABILITY.TRACING.INSECURE", true)
	v.SetDefault("OBSERVABILITY.TRACING.SAMPLE_RATIO", 1.0)
	v.SetDefault("OBSERVABILITY.PROFILING.ADDR", "http://localhost:4040")
}
