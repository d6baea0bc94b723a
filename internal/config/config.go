package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfighcl"
)

const envPrefix = "FEEDSWEEP"

// DefaultFiles are probed in order; missing files are ignored.
var DefaultFiles = []string{
	"./feedsweep.hcl",
	"$HOME/.config/feedsweep/config.hcl",
}

// Config holds runtime configuration loaded from defaults, an optional HCL
// file and FEEDSWEEP_* environment variables.
type Config struct {
	BindAddr  string `default:":8082" env:"BIND_ADDR" hcl:"bind_addr"`
	LogLevel  string `default:"info" env:"LOG_LEVEL" hcl:"log_level"`
	LogFormat string `default:"text" env:"LOG_FORMAT" hcl:"log_format"`

	DBDriver string `default:"mysql" env:"DB_DRIVER" hcl:"db_driver"`
	DBHost   string `default:"127.0.0.1" env:"DB_HOST" hcl:"db_host"`
	DBPort   int    `default:"3306" env:"DB_PORT" hcl:"db_port"`
	DBUser   string `default:"root" env:"DB_USER" hcl:"db_user"`
	DBPass   string `default:"" env:"DB_PASSWORD" hcl:"db_password"`
	DBName   string `default:"feedsweep" env:"DB_NAME" hcl:"db_name"`
	DBPath   string `default:"data/feedsweep.db" env:"DB_PATH" hcl:"db_path"`
	DBDSN    string `default:"" env:"DB_DSN" hcl:"db_dsn"`

	SourcesFile string `default:"" env:"SOURCES_FILE" hcl:"sources_file"`
	MaxArticles int    `default:"50" env:"MAX_ARTICLES" hcl:"max_articles"`

	SummaryProvider      string  `default:"openai" env:"SUMMARY_PROVIDER" hcl:"summary_provider"`
	SummaryPrompt        string  `default:"Summarize the following article in at most 200 words. Reply with the summary only." env:"SUMMARY_PROMPT" hcl:"summary_prompt"`
	SummaryMaxTokens     int     `default:"300" env:"SUMMARY_MAX_TOKENS" hcl:"summary_max_tokens"`
	SummaryRatePerSecond float64 `default:"2" env:"SUMMARY_RATE" hcl:"summary_rate"`
	OpenAIKey            string  `default:"" env:"OPENAI_API_KEY" hcl:"openai_api_key"`
	OpenAIModel          string  `default:"gpt-4o-mini" env:"OPENAI_MODEL" hcl:"openai_model"`
	OpenAIBase           string  `default:"" env:"OPENAI_BASE_URL" hcl:"openai_base_url"`
	AnthropicKey         string  `default:"" env:"ANTHROPIC_API_KEY" hcl:"anthropic_api_key"`
	AnthropicModel       string  `default:"claude-3-5-haiku-latest" env:"ANTHROPIC_MODEL" hcl:"anthropic_model"`

	BatchSize         int           `default:"5" env:"BATCH_SIZE" hcl:"batch_size"`
	RetryAttempts     int           `default:"3" env:"RETRY_ATTEMPTS" hcl:"retry_attempts"`
	RetryInitialDelay time.Duration `default:"1s" env:"RETRY_INITIAL_DELAY" hcl:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `default:"30s" env:"RETRY_MAX_DELAY" hcl:"retry_max_delay"`

	SourcesPerInvocation int           `default:"1" env:"SOURCES_PER_INVOCATION" hcl:"sources_per_invocation"`
	InvocationBudget     time.Duration `default:"45s" env:"INVOCATION_BUDGET" hcl:"invocation_budget"`
	InvocationTimeout    time.Duration `default:"60s" env:"INVOCATION_TIMEOUT" hcl:"invocation_timeout"`

	ChainMode    string `default:"http" env:"CHAIN_MODE" hcl:"chain_mode"`
	ChainBaseURL string `default:"http://127.0.0.1:8082" env:"CHAIN_BASE_URL" hcl:"chain_base_url"`
	NATSURL      string `default:"nats://127.0.0.1:4222" env:"NATS_URL" hcl:"nats_url"`
	ChainSubject string `default:"feedsweep.chain" env:"CHAIN_SUBJECT" hcl:"chain_subject"`

	Schedule         string        `default:"0 0 * * *" env:"SCHEDULE" hcl:"schedule"`
	Timezone         string        `default:"UTC" env:"TIMEZONE" hcl:"timezone"`
	WatchdogSchedule string        `default:"@every 5m" env:"WATCHDOG_SCHEDULE" hcl:"watchdog_schedule"`
	StallAfter       time.Duration `default:"10m" env:"STALL_AFTER" hcl:"stall_after"`
	RunOnStart       bool          `default:"false" env:"RUN_ON_START" hcl:"run_on_start"`

	WebhookURL string `default:"" env:"WEBHOOK_URL" hcl:"webhook_url"`

	ChromeHeadless bool   `default:"true" env:"CHROME_HEADLESS" hcl:"chrome_headless"`
	CookieFile     string `default:"" env:"COOKIE_FILE" hcl:"cookie_file"`
}

// Load reads configuration from the default file locations and environment.
func Load() (Config, error) {
	files := make([]string, 0, len(DefaultFiles))
	for _, f := range DefaultFiles {
		files = append(files, os.ExpandEnv(f))
	}
	return LoadFrom(files...)
}

// LoadFrom reads configuration from the given HCL files and environment.
func LoadFrom(files ...string) (Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: envPrefix,
		SkipFlags: true,
		Files:     files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".hcl": aconfighcl.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	// Unprefixed provider keys are honoured as a convenience.
	if cfg.OpenAIKey == "" {
		cfg.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.AnthropicKey == "" {
		cfg.AnthropicKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	c.SummaryProvider = strings.ToLower(strings.TrimSpace(c.SummaryProvider))
	c.ChainMode = strings.ToLower(strings.TrimSpace(c.ChainMode))
	c.ChainBaseURL = strings.TrimSuffix(c.ChainBaseURL, "/")

	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 1
	}
	if c.SourcesPerInvocation <= 0 {
		c.SourcesPerInvocation = 1
	}
	if c.MaxArticles <= 0 {
		c.MaxArticles = 50
	}
}

// Validate rejects settings the service cannot start with.
func (c Config) Validate() error {
	switch c.DBDriver {
	case "mysql", "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported db driver %q", c.DBDriver)
	}
	switch c.SummaryProvider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unsupported summary provider %q", c.SummaryProvider)
	}
	switch c.ChainMode {
	case "http", "nats", "local":
	default:
		return fmt.Errorf("unsupported chain mode %q", c.ChainMode)
	}
	if c.DBDriver == "postgres" && c.DBDSN == "" {
		return fmt.Errorf("db_dsn is required for postgres")
	}
	return nil
}
