package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App      AppConfig      `json:"app"`
	MySQL    MySQLConfig    `json:"mysql"`
	Redis    RedisConfig    `json:"redis"`
	Browser  BrowserConfig  `json:"browser"`
	Captcha  CaptchaConfig  `json:"captcha"`
	Registry RegistryConfig `json:"registry"`
	Notify   NotifyConfig   `json:"notify"`
	Plates   PlatesConfig   `json:"plates"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env                 string        `json:"env"`                  // 运行环境: local / prod
	LogLevel            string        `json:"log_level"`            // 日志级别: debug / info / warn / error
	MetricsAddr         string        `json:"metrics_addr"`         // Prometheus 指标监听地址
	ScheduleInterval    time.Duration `json:"schedule_interval"`    // 轮次间隔（如 "30m"，为 0 则只跑一轮）
	CrawlConcurrency    int           `json:"crawl_concurrency"`    // 抓取任务队列 worker 数
	RegistryConcurrency int           `json:"registry_concurrency"` // 登记信息查询队列 worker 数
	RateLimit           float64       `json:"rate_limit"`           // 限流速率（token/s）
	RateBurst           float64       `json:"rate_burst"`           // 限流桶容量
	DedupWindow         int           `json:"dedup_window"`         // URL 去重窗口（秒）
	ListingRetries      int           `json:"listing_retries"`      // 列表页解析失败后的重试次数
	MaxPagesPerSource   int           `json:"max_pages_per_source"` // 单个来源每轮最多翻页数（0 为不限）
	Sources             []string      `json:"sources"`              // 启用的来源（空则启用全部）
}

// MySQLConfig MySQL 数据库配置。
type MySQLConfig struct {
	DSN string `json:"dsn"` // 数据库连接字符串
}

// RedisConfig Redis 缓存配置。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// BrowserConfig 爬虫浏览器配置。
type BrowserConfig struct {
	BinPath        string        `json:"bin_path"`        // 浏览器可执行文件路径
	ProxyURL       string        `json:"proxy_url"`       // 代理服务器 URL
	Headless       bool          `json:"headless"`        // 是否使用无头模式
	MaxConcurrency int           `json:"max_concurrency"` // 最大并发页面数
	PageTimeout    time.Duration `json:"page_timeout"`    // 单个页面操作超时
}

// CaptchaConfig 打码平台配置。
type CaptchaConfig struct {
	APIKey  string `json:"api_key"`  // 平台客户端密钥
	BaseURL string `json:"base_url"` // 平台 API 基地址
}

// RegistryConfig 国家车辆登记系统查询配置。
type RegistryConfig struct {
	LookupURL      string  `json:"lookup_url"`       // 公开查询表单页面地址
	FindVinPageURL string  `json:"find_vin_page_url"` // VIN 反查页面地址（reCAPTCHA 所在页）
	SiteKey        string  `json:"site_key"`          // reCAPTCHA site key
	BackendURL     string  `json:"backend_url"`       // VIN 反查后端接口地址
	Action         string  `json:"action"`            // reCAPTCHA action 名称
	MinScore       float64 `json:"min_score"`         // reCAPTCHA v3 最低分数
}

// NotifyConfig 告警通知配置。
type NotifyConfig struct {
	DiscordWebhookURL string `json:"discord_webhook_url"` // Discord Webhook 地址
	SMTPHost          string `json:"smtp_host"`
	SMTPPort          int    `json:"smtp_port"`
	SMTPUser          string `json:"smtp_user"`
	SMTPPass          string `json:"smtp_pass"`
	FromEmail         string `json:"from_email"`
	ToEmail           string `json:"to_email"`
}

// PlatesConfig 车牌识别服务配置。
type PlatesConfig struct {
	APIURL string `json:"api_url"` // ALPR 识别服务基地址（为空则禁用）
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值。
//
// 参数:
//
//	configPath: 配置文件路径（如果为空则使用默认路径 "configs/config.json")
//
// 返回值:
//
//	*Config: 加载完成的配置对象
//	error: 加载失败返回错误
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	// 如果配置文件不存在，使用默认配置
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		// 即使没有配置文件，也允许环境变量覆盖默认值
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	// 读取配置文件
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// 解析 JSON
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	// 应用默认值（对于未设置的字段）
	applyDefaults(cfg)

	// 环境变量优先覆盖配置
	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOrDefault 加载配置，如果失败则返回默认配置（不报错）。
func LoadOrDefault(configPath ...string) *Config {
	cfg, err := Load(configPath...)
	if err != nil {
		fallback := getDefaultConfig()
		applyEnvOverrides(fallback)
		return fallback
	}
	return cfg
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:                 "local",
			LogLevel:            "info",
			MetricsAddr:         ":9091",
			ScheduleInterval:    0,
			CrawlConcurrency:    6,
			RegistryConcurrency: 3,
			RateLimit:           3,
			RateBurst:           5,
			DedupWindow:         3600,
			ListingRetries:      2,
			MaxPagesPerSource:   0,
			Sources:             nil,
		},
		MySQL: MySQLConfig{
			DSN: "root:password@tcp(localhost:3306)/autominus?parseTime=true&loc=Local",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
		},
		Browser: BrowserConfig{
			BinPath:        "",
			ProxyURL:       "",
			Headless:       true,
			MaxConcurrency: 5,
			PageTimeout:    60 * time.Second,
		},
		Captcha: CaptchaConfig{
			APIKey:  "",
			BaseURL: "https://api.2captcha.com",
		},
		Registry: RegistryConfig{
			LookupURL:      "https://eregitra.lt/viesa-paieska",
			FindVinPageURL: "https://www.eregitra.lt/perziura/deklaracijos_perziura.php",
			SiteKey:        "",
			BackendURL:     "https://www.eregitra.lt/perziura/backend/data.php",
			Action:         "vehicleSearchByOdCode",
			MinScore:       0.9,
		},
		Notify: NotifyConfig{
			DiscordWebhookURL: "",
			SMTPHost:          "smtp.gmail.com",
			SMTPPort:          587,
			SMTPUser:          "",
			SMTPPass:          "",
			FromEmail:         "",
			ToEmail:           "",
		},
		Plates: PlatesConfig{
			APIURL: "",
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.MetricsAddr == "" {
		cfg.App.MetricsAddr = defaults.App.MetricsAddr
	}
	if cfg.App.CrawlConcurrency == 0 {
		cfg.App.CrawlConcurrency = defaults.App.CrawlConcurrency
	}
	if cfg.App.RegistryConcurrency == 0 {
		cfg.App.RegistryConcurrency = defaults.App.RegistryConcurrency
	}
	if cfg.App.RateLimit == 0 {
		cfg.App.RateLimit = defaults.App.RateLimit
	}
	if cfg.App.RateBurst == 0 {
		cfg.App.RateBurst = defaults.App.RateBurst
	}
	if cfg.App.DedupWindow == 0 {
		cfg.App.DedupWindow = defaults.App.DedupWindow
	}
	if cfg.App.ListingRetries == 0 {
		cfg.App.ListingRetries = defaults.App.ListingRetries
	}
	if cfg.Browser.MaxConcurrency == 0 {
		cfg.Browser.MaxConcurrency = defaults.Browser.MaxConcurrency
	}
	if cfg.Browser.PageTimeout == 0 {
		cfg.Browser.PageTimeout = defaults.Browser.PageTimeout
	}
	if cfg.Captcha.BaseURL == "" {
		cfg.Captcha.BaseURL = defaults.Captcha.BaseURL
	}
	if cfg.Registry.LookupURL == "" {
		cfg.Registry.LookupURL = defaults.Registry.LookupURL
	}
	if cfg.Registry.FindVinPageURL == "" {
		cfg.Registry.FindVinPageURL = defaults.Registry.FindVinPageURL
	}
	if cfg.Registry.BackendURL == "" {
		cfg.Registry.BackendURL = defaults.Registry.BackendURL
	}
	if cfg.Registry.Action == "" {
		cfg.Registry.Action = defaults.Registry.Action
	}
	if cfg.Registry.MinScore == 0 {
		cfg.Registry.MinScore = defaults.Registry.MinScore
	}
	if cfg.Notify.SMTPPort == 0 {
		cfg.Notify.SMTPPort = defaults.Notify.SMTPPort
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")
	_ = viper.BindEnv("captcha_api_key", "CAPTCHA_API_KEY")
	_ = viper.BindEnv("chrome_bin", "CHROME_BIN")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_METRICS_ADDR"); v != "" {
		cfg.App.MetricsAddr = v
	}
	if v := os.Getenv("APP_SCHEDULE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.ScheduleInterval = d
		}
	}
	if v := os.Getenv("APP_CRAWL_CONCURRENCY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.CrawlConcurrency = i
		}
	}
	if v := os.Getenv("APP_REGISTRY_CONCURRENCY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.RegistryConcurrency = i
		}
	}
	if v := os.Getenv("APP_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateLimit = f
		}
	}
	if v := os.Getenv("APP_RATE_BURST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateBurst = f
		}
	}
	if v := os.Getenv("APP_DEDUP_WINDOW"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.DedupWindow = i
		}
	}
	if v := os.Getenv("APP_LISTING_RETRIES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.ListingRetries = i
		}
	}
	if v := os.Getenv("APP_MAX_PAGES_PER_SOURCE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.MaxPagesPerSource = i
		}
	}
	if v := os.Getenv("APP_SOURCES"); v != "" {
		cfg.App.Sources = splitAndTrim(v)
	}

	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.MySQL.DSN = v
	} else if hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") || viper.GetString("db_host") != "" || viper.GetString("db_password") != "" {
		parsed := parseMySQLDSN(cfg.MySQL.DSN)
		if v := viper.GetString("db_host"); v != "" {
			host := v
			port := getenvDefault("DB_PORT", parsed.Addr, "3306")
			parsed.Addr = host + ":" + port
		} else if v := os.Getenv("DB_PORT"); v != "" {
			host := parsed.Addr
			if strings.Contains(host, ":") {
				host = strings.Split(host, ":")[0]
			}
			parsed.Addr = host + ":" + v
		}
		if v := os.Getenv("DB_USER"); v != "" {
			parsed.User = v
		}
		if v := viper.GetString("db_password"); v != "" {
			parsed.Passwd = v
		}
		if v := os.Getenv("DB_NAME"); v != "" {
			parsed.DBName = v
		}
		cfg.MySQL.DSN = parsed.FormatDSN()
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := viper.GetString("chrome_bin"); v != "" {
		cfg.Browser.BinPath = v
	}
	if v := os.Getenv("HTTP_PROXY"); v != "" {
		cfg.Browser.ProxyURL = v
	} else if v := os.Getenv("BROWSER_PROXY_URL"); v != "" {
		cfg.Browser.ProxyURL = v
	}
	if v := os.Getenv("BROWSER_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Browser.Headless = b
		}
	}
	if v := os.Getenv("BROWSER_MAX_CONCURRENCY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Browser.MaxConcurrency = i
		}
	}
	if v := os.Getenv("BROWSER_PAGE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Browser.PageTimeout = d
		}
	}

	if v := viper.GetString("captcha_api_key"); v != "" {
		cfg.Captcha.APIKey = v
	}
	if v := os.Getenv("CAPTCHA_BASE_URL"); v != "" {
		cfg.Captcha.BaseURL = v
	}

	if v := os.Getenv("REGISTRY_LOOKUP_URL"); v != "" {
		cfg.Registry.LookupURL = v
	}
	if v := os.Getenv("REGISTRY_FIND_VIN_PAGE_URL"); v != "" {
		cfg.Registry.FindVinPageURL = v
	}
	if v := os.Getenv("REGISTRY_SITE_KEY"); v != "" {
		cfg.Registry.SiteKey = v
	}
	if v := os.Getenv("REGISTRY_BACKEND_URL"); v != "" {
		cfg.Registry.BackendURL = v
	}

	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Notify.DiscordWebhookURL = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Notify.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Notify.SMTPPort = i
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Notify.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Notify.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Notify.FromEmail = v
	}
	if v := os.Getenv("SMTP_TO"); v != "" {
		cfg.Notify.ToEmail = v
	}

	if v := os.Getenv("PLATES_API_URL"); v != "" {
		cfg.Plates.APIURL = v
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fallbackAddr == "" {
		return defaultValue
	}
	if strings.Contains(fallbackAddr, ":") {
		parts := strings.Split(fallbackAddr, ":")
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	return defaultValue
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseMySQLDSN(dsn string) *mysql.Config {
	if dsn == "" {
		return &mysql.Config{
			User:   "root",
			Passwd: "",
			Net:    "tcp",
			Addr:   "localhost:3306",
			DBName: "autominus",
			Params: map[string]string{
				"parseTime": "true",
				"loc":       "Local",
			},
		}
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return &mysql.Config{
			User:   "root",
			Passwd: "",
			Net:    "tcp",
			Addr:   "localhost:3306",
			DBName: "autominus",
			Params: map[string]string{
				"parseTime": "true",
				"loc":       "Local",
			},
		}
	}
	return parsed
}

// UnmarshalJSON 自定义 JSON 解析，支持时间 Duration 字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		ScheduleInterval string `json:"schedule_interval"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.ScheduleInterval != "" {
		duration, err := time.ParseDuration(aux.ScheduleInterval)
		if err != nil {
			return fmt.Errorf("invalid schedule_interval format: %w", err)
		}
		a.ScheduleInterval = duration
	}

	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (a AppConfig) MarshalJSON() ([]byte, error) {
	type Alias AppConfig
	return json.Marshal(&struct {
		ScheduleInterval string `json:"schedule_interval"`
		*Alias
	}{
		ScheduleInterval: a.ScheduleInterval.String(),
		Alias:            (*Alias)(&a),
	})
}

// UnmarshalJSON 自定义 JSON 解析，支持时间 Duration 字符串。
func (b *BrowserConfig) UnmarshalJSON(data []byte) error {
	type Alias BrowserConfig
	aux := &struct {
		PageTimeout string `json:"page_timeout"`
		*Alias
	}{
		Alias: (*Alias)(b),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.PageTimeout != "" {
		duration, err := time.ParseDuration(aux.PageTimeout)
		if err != nil {
			return fmt.Errorf("invalid page_timeout format: %w", err)
		}
		b.PageTimeout = duration
	}

	return nil
}
