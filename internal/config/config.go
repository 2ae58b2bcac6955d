package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Cron   CronConfig   `mapstructure:"cron"`

	Monitor     MonitorConfig     `mapstructure:"monitor"`
	Settlement  SettlementConfig  `mapstructure:"settlement"`
	PriceFeed   PriceFeedConfig   `mapstructure:"price_feed"`
	PriceStream PriceStreamConfig `mapstructure:"price_stream"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr        string `mapstructure:"http_addr"`
	ServiceToken    string `mapstructure:"service_token"`
	UserTokenSecret string `mapstructure:"user_token_secret"`
}

type LogConfig struct {
	Service           string   `mapstructure:"service"`
	OutputPaths       []string `mapstructure:"output_paths"`
	Level             string   `mapstructure:"level"`
	Encoding          string   `mapstructure:"encoding"`
	Development       bool     `mapstructure:"development"`
	Sampling          bool     `mapstructure:"sampling"`
	DisableCaller     bool     `mapstructure:"disable_caller"`
	DisableStacktrace bool     `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

// RedisConfig enables the shared hot price cache. An empty Addr keeps the
// cache in process memory.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CronConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Sweep   string `mapstructure:"sweep"`
}

type MonitorConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Interval       string        `mapstructure:"interval"`
	FetchLimit     int           `mapstructure:"fetch_limit"`
	PageSize       int           `mapstructure:"page_size"`
	PriceTimeout   time.Duration `mapstructure:"price_timeout"`
	PriceMaxAge    time.Duration `mapstructure:"price_max_age"`
	NotifyPartials bool          `mapstructure:"notify_partials"`
}

type SettlementConfig struct {
	BacklogEnabled  bool          `mapstructure:"backlog_enabled"`
	BacklogLookback time.Duration `mapstructure:"backlog_lookback"`
	BacklogLimit    int           `mapstructure:"backlog_limit"`
}

type PriceFeedConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RequestsPerMin int           `mapstructure:"requests_per_min"`
	HotTTL         time.Duration `mapstructure:"hot_ttl"`
}

type PriceStreamConfig struct {
	Enabled       bool              `mapstructure:"enabled"`
	URL           string            `mapstructure:"url"`
	APIKey        string            `mapstructure:"api_key"`
	BatchInterval time.Duration     `mapstructure:"batch_interval"`
	Symbols       map[string]string `mapstructure:"symbols"`
}

type NotifyConfig struct {
	QueueSize        int           `mapstructure:"queue_size"`
	WebhookURL       string        `mapstructure:"webhook_url"`
	TelegramBotToken string        `mapstructure:"telegram_bot_token"`
	TelegramChatID   string        `mapstructure:"telegram_chat_id"`
	SendTimeout      time.Duration `mapstructure:"send_timeout"`
	Project          string        `mapstructure:"project"`
}

type RateLimitConfig struct {
	LivePrices       WindowConfig `mapstructure:"live_prices"`
	PushNotification WindowConfig `mapstructure:"push_notification"`
	SignalMonitor    WindowConfig `mapstructure:"signal_monitor"`
}

type WindowConfig struct {
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("POSCAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.service_token", "")
	v.SetDefault("server.user_token_secret", "")
	v.SetDefault("log.service", "poscal")
	v.SetDefault("log.output_paths", []string{"stdout"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.sweep", "@every 5m")

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.interval", "@every 30s")
	v.SetDefault("monitor.fetch_limit", 4)
	v.SetDefault("monitor.page_size", 500)
	v.SetDefault("monitor.price_timeout", "10s")
	v.SetDefault("monitor.price_max_age", "2m")
	v.SetDefault("monitor.notify_partials", true)

	v.SetDefault("settlement.backlog_enabled", true)
	v.SetDefault("settlement.backlog_lookback", "72h")
	v.SetDefault("settlement.backlog_limit", 200)

	v.SetDefault("price_feed.base_url", "https://api.twelvedata.com")
	v.SetDefault("price_feed.api_key", "")
	v.SetDefault("price_feed.timeout", "10s")
	v.SetDefault("price_feed.requests_per_min", 8)
	v.SetDefault("price_feed.hot_ttl", "2m")

	v.SetDefault("price_stream.enabled", false)
	v.SetDefault("price_stream.url", "wss://ws.finnhub.io")
	v.SetDefault("price_stream.api_key", "")
	v.SetDefault("price_stream.batch_interval", "1s")
	v.SetDefault("price_stream.symbols", map[string]string{
		"EUR/USD": "OANDA:EUR_USD",
		"GBP/USD": "OANDA:GBP_USD",
		"USD/JPY": "OANDA:USD_JPY",
		"GBP/JPY": "OANDA:GBP_JPY",
		"XAU/USD": "OANDA:XAU_USD",
		"BTC/USD": "BINANCE:BTCUSDT",
	})

	v.SetDefault("notify.queue_size", 256)
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.telegram_bot_token", "")
	v.SetDefault("notify.telegram_chat_id", "")
	v.SetDefault("notify.send_timeout", "5s")
	v.SetDefault("notify.project", "poscal")

	v.SetDefault("rate_limit.live_prices.max_requests", 30)
	v.SetDefault("rate_limit.live_prices.window", "1m")
	v.SetDefault("rate_limit.push_notification.max_requests", 100)
	v.SetDefault("rate_limit.push_notification.window", "1m")
	v.SetDefault("rate_limit.signal_monitor.max_requests", 1000)
	v.SetDefault("rate_limit.signal_monitor.window", "1m")

	v.SetDefault("metrics.namespace", "poscal")

	if !envOnly && strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
