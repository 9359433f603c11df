package config

import (
	_ "embed"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

const (
	envOpenAIBaseURL = "OPENAI_BASE_URL"
	envOpenAIModel   = "OPENAI_MODEL"
	envRedisAddr     = "HOTNOTE_REDIS_ADDR"
	envLLMTimeout    = "LLM_TIMEOUT_SECONDS"
	envLLMRetries    = "LLM_NUM_RETRIES"
	envServerHost    = "HOTNOTE_HOST"
)

type Config struct {
	LLM            LLM                `yaml:"llm"`
	Search         Search             `yaml:"search"`
	Extract        Extract            `yaml:"extract"`
	Fallback       Fallback           `yaml:"fallback"`
	Router         Router             `yaml:"router"`
	Profiles       map[string]Profile `yaml:"profiles"`
	DefaultProfile string             `yaml:"default_profile"`
	Workflow       Workflow           `yaml:"workflow"`
	Memory         Memory             `yaml:"memory"`
	Server         Server             `yaml:"server"`
	Logging        Logging            `yaml:"logging"`
	Output         Output             `yaml:"output"`
}

type LLM struct {
	Provider       string  `yaml:"provider"`
	Model          string  `yaml:"model"`
	BaseURL        string  `yaml:"base_url"`
	APIKeyEnv      string  `yaml:"api_key_env"`
	OllamaURL      string  `yaml:"ollama_url"`
	OllamaModel    string  `yaml:"ollama_model"`
	GeminiModel    string  `yaml:"gemini_model"`
	GeminiKeyEnv   string  `yaml:"gemini_api_key_env"`
	MaxTokens      int     `yaml:"max_tokens"`
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
	MaxRetries     int     `yaml:"max_retries"`
	RetryBackoffMS int     `yaml:"retry_backoff_ms"`
}

// Timeout is the per-attempt completion timeout.
func (l LLM) Timeout() time.Duration {
	return seconds(l.TimeoutSeconds)
}

// RetryBackoff is the base delay between completion attempts.
func (l LLM) RetryBackoff() time.Duration {
	return time.Duration(l.RetryBackoffMS) * time.Millisecond
}

type Search struct {
	Provider      string  `yaml:"provider"`
	APIKeyEnv     string  `yaml:"api_key_env"`
	BaseURL       string  `yaml:"base_url"`
	Depth         string  `yaml:"depth"`
	MaxResults    int     `yaml:"max_results"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	NewsAPIKeyEnv string  `yaml:"newsapi_key_env"`
	Feeds         []Feed  `yaml:"feeds"`
}

type Feed struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

type Extract struct {
	Enabled        bool    `yaml:"enabled"`
	Provider       string  `yaml:"provider"`
	MaxURLs        int     `yaml:"max_urls"`
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
}

// Timeout is the per-URL extraction timeout.
func (e Extract) Timeout() time.Duration {
	return seconds(e.TimeoutSeconds)
}

type Fallback struct {
	MinResults           int     `yaml:"min_results"`
	MinAvgSummaryChars   int     `yaml:"min_avg_summary_chars"`
	MaxTitleDupRatio     float64 `yaml:"max_title_dup_ratio"`
	TitleMatch           string  `yaml:"title_match"`
	FuzzyTitleSimilarity float64 `yaml:"fuzzy_title_similarity"`
}

type Router struct {
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
	UseMemory      bool    `yaml:"use_memory"`
}

// Timeout is the classification call timeout.
func (r Router) Timeout() time.Duration {
	return seconds(r.TimeoutSeconds)
}

// Profile is one topic domain profile.
type Profile struct {
	Primary        []string `yaml:"primary"`
	Secondary      []string `yaml:"secondary"`
	ExtractAllowed []string `yaml:"extract_allowed"`
	Keywords       []string `yaml:"keywords"`
}

type Workflow struct {
	ContextResults int `yaml:"context_results"`
	TitleChars     int `yaml:"title_chars"`
	SummaryChars   int `yaml:"summary_chars"`
}

type Memory struct {
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	TTLHours      int    `yaml:"ttl_hours"`
	PruneSchedule string `yaml:"prune_schedule"`
}

// TTL is how long a cached topic profile stays valid.
func (m Memory) TTL() time.Duration {
	return time.Duration(m.TTLHours) * time.Hour
}

type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr joins host and port into a listen address.
func (s Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

// ConfigDir returns the XDG config directory for hotnote.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "hotnote")
}

// DataDir returns the XDG data directory for hotnote.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "hotnote")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/hotnote/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'hotnote init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file, then applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Default returns the built-in configuration with environment overrides applied.
func Default() *Config {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		cfg = defaults()
		cfg.normalize()
	}
	cfg.applyEnvOverrides()
	return cfg
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		LLM: LLM{
			Provider:       "openai",
			Model:          "deepseek-chat",
			BaseURL:        "https://api.deepseek.com",
			APIKeyEnv:      "OPENAI_API_KEY",
			OllamaURL:      "http://localhost:11434",
			OllamaModel:    "qwen2.5:7b",
			GeminiModel:    "gemini-1.5-flash",
			GeminiKeyEnv:   "GEMINI_API_KEY",
			MaxTokens:      1024,
			TimeoutSeconds: 60,
			MaxRetries:     1,
			RetryBackoffMS: 500,
		},
		Search: Search{
			Provider:      "tavily",
			APIKeyEnv:     "TAVILY_API_KEY",
			BaseURL:       "https://api.tavily.com",
			Depth:         "advanced",
			MaxResults:    8,
			RatePerSecond: 2,
			NewsAPIKeyEnv: "NEWSAPI_KEY",
		},
		Extract: Extract{
			Enabled:        true,
			Provider:       "tavily",
			MaxURLs:        2,
			TimeoutSeconds: 20,
		},
		Fallback: Fallback{
			MinResults:           2,
			MinAvgSummaryChars:   30,
			MaxTitleDupRatio:     0.5,
			TitleMatch:           "exact",
			FuzzyTitleSimilarity: 0.9,
		},
		Router: Router{
			TimeoutSeconds: 15,
			UseMemory:      true,
		},
		DefaultProfile: "general",
		Workflow: Workflow{
			ContextResults: 5,
			TitleChars:     80,
			SummaryChars:   260,
		},
		Memory: Memory{
			Backend:       "sqlite",
			TTLHours:      24 * 7,
			PruneSchedule: "@hourly",
		},
		Server:  Server{Host: "127.0.0.1", Port: 8000},
		Logging: Logging{Level: "info", Format: "console"},
	}
}

// DefaultProfiles returns the built-in topic domain profiles.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		"general": {
			Primary:        []string{"xiaohongshu.com"},
			Secondary:      []string{"zhihu.com", "bilibili.com"},
			ExtractAllowed: []string{"xiaohongshu.com", "zhihu.com", "bilibili.com"},
			Keywords:       []string{"lifestyle", "travel", "general"},
		},
		"job": {
			Primary:        []string{"bosszhipin.com"},
			Secondary:      []string{"liepin.com", "51job.com", "zhaopin.com", "lagou.com", "kanzhun.com"},
			ExtractAllowed: []string{"bosszhipin.com", "liepin.com", "51job.com", "zhaopin.com", "lagou.com", "kanzhun.com"},
			Keywords:       []string{"招聘", "求职", "找工作", "岗位", "面试", "简历", "薪资", "JD", "工程师", "内推", "校招", "社招"},
		},
		"finance": {
			Primary:        []string{"eastmoney.com"},
			Secondary:      []string{"10jqka.com.cn", "stcn.com", "cnstock.com"},
			ExtractAllowed: []string{"eastmoney.com", "10jqka.com.cn", "stcn.com", "cnstock.com"},
			Keywords:       []string{"财经", "金融", "股票", "基金", "债券", "财报", "估值", "研报", "A股", "港股", "美股"},
		},
	}
}

// normalize lower-cases profile ids, drops empty ones and guarantees that the
// default profile names an existing profile.
func (c *Config) normalize() {
	profiles := make(map[string]Profile, len(c.Profiles))
	for id, p := range c.Profiles {
		key := strings.ToLower(strings.TrimSpace(id))
		if key == "" {
			continue
		}
		profiles[key] = p
	}
	if len(profiles) == 0 {
		profiles = DefaultProfiles()
	}
	c.Profiles = profiles

	c.DefaultProfile = strings.ToLower(strings.TrimSpace(c.DefaultProfile))
	if c.DefaultProfile == "" {
		c.DefaultProfile = "general"
	}
	if _, ok := c.Profiles[c.DefaultProfile]; !ok {
		if _, ok := c.Profiles["general"]; ok {
			c.DefaultProfile = "general"
		} else {
			c.DefaultProfile = c.ProfileIDs()[0]
		}
	}

	c.Fallback.TitleMatch = strings.ToLower(strings.TrimSpace(c.Fallback.TitleMatch))
	if c.Fallback.TitleMatch != "fuzzy" {
		c.Fallback.TitleMatch = "exact"
	}
	if c.LLM.MaxRetries < 0 {
		c.LLM.MaxRetries = 0
	}
	if c.Extract.MaxURLs < 0 {
		c.Extract.MaxURLs = 0
	}
	c.Server.Host = strings.TrimSpace(c.Server.Host)
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(envOpenAIBaseURL); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv(envOpenAIModel); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv(envServerHost); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv(envRedisAddr); v != "" {
		c.Memory.RedisAddr = v
	}
	if v := os.Getenv(envLLMTimeout); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.LLM.TimeoutSeconds = f
		}
	}
	if v := os.Getenv(envLLMRetries); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.LLM.MaxRetries = n
		}
	}
}

// ProfileIDs returns the configured profile ids in sorted order.
func (c *Config) ProfileIDs() []string {
	ids := make([]string, 0, len(c.Profiles))
	for id := range c.Profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
