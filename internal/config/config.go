package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or a .env file loaded by main).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	Store     StoreConfig
	DB        DBConfig
	Redis     RedisConfig
	Pipeline  PipelineConfig
	Providers ProvidersConfig
	OpenAI    OpenAIConfig
	Gemini    GeminiConfig
	Speech    SpeechConfig
	CRM       CRMConfig
	Audio     AudioConfig
}

type AppConfig struct {
	Env         string
	Port        int
	CORSOrigins []string
}

type StoreConfig struct {
	// Driver: memory or postgres.
	Driver string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type PipelineConfig struct {
	// GuardDriver: memory or redis.
	GuardDriver     string
	LockTTL         time.Duration
	ProviderTimeout time.Duration

	// MaxConcurrent caps in-flight runs across instances; 0 means no cap.
	// Needs GUARD_DRIVER=redis.
	MaxConcurrent int
}

type ProvidersConfig struct {
	Transcription string // stub, whisper, google
	Analysis      string // stub, openai, gemini
	CRM           string // stub, http
}

type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	WhisperModel string
	LLMModel     string
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type SpeechConfig struct {
	LanguageCode string
	Model        string
}

type CRMConfig struct {
	BaseURL    string
	APIKey     string
	RatePerSec float64
}

type AudioConfig struct {
	// Storage: local or minio.
	Storage string
	Dir     string
	MinIO   MinIOConfig
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port, parseErrs = optionalInt(parseErrs, "APP_PORT", 8000)
	c.App.CORSOrigins = splitList(os.Getenv("CORS_ORIGINS"))

	c.Store.Driver = lower(os.Getenv("STORE_DRIVER"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port, parseErrs = optionalInt(parseErrs, "DB_PORT", 5432)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port, parseErrs = optionalInt(parseErrs, "REDIS_PORT", 6379)

	c.Pipeline.GuardDriver = lower(os.Getenv("GUARD_DRIVER"))
	c.Pipeline.LockTTL, parseErrs = optionalDuration(parseErrs, "PIPELINE_LOCK_TTL")
	c.Pipeline.ProviderTimeout, parseErrs = optionalDuration(parseErrs, "PROVIDER_TIMEOUT")
	c.Pipeline.MaxConcurrent, parseErrs = optionalInt(parseErrs, "PIPELINE_MAX_CONCURRENT", 0)

	c.Providers.Transcription = lower(os.Getenv("TRANSCRIPTION_PROVIDER"))
	c.Providers.Analysis = lower(os.Getenv("ANALYSIS_PROVIDER"))
	c.Providers.CRM = lower(os.Getenv("CRM_PROVIDER"))

	c.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	c.OpenAI.BaseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	c.OpenAI.WhisperModel = strings.TrimSpace(os.Getenv("WHISPER_MODEL"))
	c.OpenAI.LLMModel = strings.TrimSpace(os.Getenv("LLM_MODEL"))

	c.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	c.Gemini.Model = strings.TrimSpace(os.Getenv("GEMINI_MODEL"))

	c.Speech.LanguageCode = strings.TrimSpace(os.Getenv("SPEECH_LANGUAGE"))
	c.Speech.Model = strings.TrimSpace(os.Getenv("SPEECH_MODEL"))

	c.CRM.BaseURL = strings.TrimSpace(os.Getenv("CRM_BASE_URL"))
	c.CRM.APIKey = os.Getenv("CRM_API_KEY")
	c.CRM.RatePerSec, parseErrs = optionalFloat(parseErrs, "CRM_RATE_PER_SEC", 5)

	c.Audio.Storage = lower(os.Getenv("AUDIO_STORAGE"))
	c.Audio.Dir = strings.TrimSpace(os.Getenv("AUDIO_DIR"))
	c.Audio.MinIO.Endpoint = strings.TrimSpace(os.Getenv("MINIO_ENDPOINT"))
	c.Audio.MinIO.AccessKey = strings.TrimSpace(os.Getenv("MINIO_ACCESS_KEY"))
	c.Audio.MinIO.SecretKey = os.Getenv("MINIO_SECRET_KEY")
	c.Audio.MinIO.Bucket = strings.TrimSpace(os.Getenv("MINIO_BUCKET"))
	c.Audio.MinIO.UseSSL, parseErrs = optionalBool(parseErrs, "MINIO_USE_SSL")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// ApplyDefaults fills optional settings. Production values that must be
// explicit (DB_SSLMODE) are left empty so Validate can reject them.
func (c *Config) ApplyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.DB.SSLMode == "" && !c.IsProduction() {
		c.DB.SSLMode = "disable"
	}
	if c.Pipeline.GuardDriver == "" {
		c.Pipeline.GuardDriver = "memory"
	}
	if c.Pipeline.ProviderTimeout <= 0 {
		c.Pipeline.ProviderTimeout = 2 * time.Minute
	}
	if c.Pipeline.LockTTL <= 0 {
		c.Pipeline.LockTTL = 10 * time.Minute
	}
	if c.Providers.Transcription == "" {
		c.Providers.Transcription = "stub"
	}
	if c.Providers.Analysis == "" {
		c.Providers.Analysis = "stub"
	}
	if c.Providers.CRM == "" {
		c.Providers.CRM = "stub"
	}
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if c.OpenAI.WhisperModel == "" {
		c.OpenAI.WhisperModel = "whisper-1"
	}
	if c.OpenAI.LLMModel == "" {
		c.OpenAI.LLMModel = "gpt-4o-mini"
	}
	if c.Gemini.Model == "" {
		c.Gemini.Model = "gemini-2.5-flash"
	}
	if c.Speech.LanguageCode == "" {
		c.Speech.LanguageCode = "en-US"
	}
	if c.CRM.RatePerSec <= 0 {
		c.CRM.RatePerSec = 5
	}
	if c.Audio.Storage == "" {
		c.Audio.Storage = "local"
	}
	if c.Audio.Dir == "" {
		c.Audio.Dir = "./data/audio"
	}
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	switch c.Store.Driver {
	case "memory":
		if c.IsProduction() {
			errs = append(errs, errors.New("STORE_DRIVER=memory is not allowed in production"))
		}
	case "postgres":
		errs = append(errs, c.validateDB()...)
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be one of memory, postgres, got %q", c.Store.Driver))
	}

	switch c.Pipeline.GuardDriver {
	case "memory":
	case "redis":
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required when GUARD_DRIVER=redis"))
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	default:
		errs = append(errs, fmt.Errorf("GUARD_DRIVER must be one of memory, redis, got %q", c.Pipeline.GuardDriver))
	}

	if c.Pipeline.ProviderTimeout <= 0 {
		errs = append(errs, errors.New("PROVIDER_TIMEOUT must be positive"))
	}
	if c.Pipeline.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("PIPELINE_MAX_CONCURRENT must be >= 0, got %d", c.Pipeline.MaxConcurrent))
	} else if c.Pipeline.MaxConcurrent > 0 && c.Pipeline.GuardDriver != "redis" {
		errs = append(errs, errors.New("PIPELINE_MAX_CONCURRENT requires GUARD_DRIVER=redis"))
	}
	// A run holds the lock across three provider calls.
	if c.Pipeline.LockTTL <= 3*c.Pipeline.ProviderTimeout {
		errs = append(errs, fmt.Errorf("PIPELINE_LOCK_TTL (%s) must exceed 3x PROVIDER_TIMEOUT (%s)", c.Pipeline.LockTTL, c.Pipeline.ProviderTimeout))
	}

	switch c.Providers.Transcription {
	case "stub", "google":
	case "whisper":
		if c.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required when TRANSCRIPTION_PROVIDER=whisper"))
		}
	default:
		errs = append(errs, fmt.Errorf("TRANSCRIPTION_PROVIDER must be one of stub, whisper, google, got %q", c.Providers.Transcription))
	}

	switch c.Providers.Analysis {
	case "stub":
	case "openai":
		if c.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required when ANALYSIS_PROVIDER=openai"))
		}
	case "gemini":
		if c.Gemini.APIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required when ANALYSIS_PROVIDER=gemini"))
		}
	default:
		errs = append(errs, fmt.Errorf("ANALYSIS_PROVIDER must be one of stub, openai, gemini, got %q", c.Providers.Analysis))
	}

	switch c.Providers.CRM {
	case "stub":
	case "http":
		if c.CRM.BaseURL == "" {
			errs = append(errs, errors.New("CRM_BASE_URL is required when CRM_PROVIDER=http"))
		}
	default:
		errs = append(errs, fmt.Errorf("CRM_PROVIDER must be one of stub, http, got %q", c.Providers.CRM))
	}

	switch c.Audio.Storage {
	case "local":
		if c.Audio.Dir == "" {
			errs = append(errs, errors.New("AUDIO_DIR is required when AUDIO_STORAGE=local"))
		}
	case "minio":
		m := c.Audio.MinIO
		if m.Endpoint == "" || m.Bucket == "" || m.AccessKey == "" || m.SecretKey == "" {
			errs = append(errs, errors.New("MINIO_ENDPOINT, MINIO_BUCKET, MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when AUDIO_STORAGE=minio"))
		}
	default:
		errs = append(errs, fmt.Errorf("AUDIO_STORAGE must be one of local, minio, got %q", c.Audio.Storage))
	}

	return joinErrors(errs)
}

func (c Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		errs = append(errs, errors.New("DB_SSLMODE is required in production"))
	} else if !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func optionalInt(errs []error, key string, def int) (int, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n, errs
}

func optionalFloat(errs []error, key string, def float64) (float64, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, errs
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a number, got %q", key, v))
	}
	return f, errs
}

// optionalDuration returns 0 when unset; defaults are applied in ApplyDefaults.
func optionalDuration(errs []error, key string) (time.Duration, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a duration like 90s or 2m, got %q", key, v))
	}
	return d, errs
}

func optionalBool(errs []error, key string) (bool, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, errs
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, append(errs, fmt.Errorf("%s must be true or false, got %q", key, v))
	}
	return b, errs
}

func lower(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
