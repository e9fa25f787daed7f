package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AnthropicAPIKey string
	AnthropicModel  string
	LLMTimeout      time.Duration
	LLMMaxTokens    int

	HTTPTimeout    time.Duration
	RxNavBaseURL   string
	OpenFDABaseURL string
	OpenFDAAPIKey  string
	EMABaseURL     string

	PubMedBaseURL        string
	NCBIAPIKey           string
	NCBIEmail            string
	PubMedRateLimit      int
	LiteratureMaxResults int

	CacheURL string
	CacheTTL time.Duration

	FormularyAdultPath    string
	FormularyChildrenPath string

	ClinicianLanguage  string
	MaxConcurrentDrugs int

	ListenAddr      string
	CORSOrigins     []string
	ClientRateLimit float64
	MaxUploadBytes  int64
	ChromePath      string

	LogLevel     string
	LogFormat    string
	OTLPEndpoint string
}

// Defaults registers every key with its default so AutomaticEnv can see it.
func Defaults(v *viper.Viper) {
	v.SetDefault("anthropic_api_key", "")
	v.SetDefault("anthropic_model", "claude-sonnet-4-5")
	v.SetDefault("llm_timeout", "60s")
	v.SetDefault("llm_max_tokens", 2048)
	v.SetDefault("http_timeout", "15s")
	v.SetDefault("rxnav_base_url", "https://rxnav.nlm.nih.gov/REST")
	v.SetDefault("openfda_base_url", "https://api.fda.gov")
	v.SetDefault("openfda_api_key", "")
	v.SetDefault("ema_base_url", "https://epi.developer.ema.europa.eu")
	v.SetDefault("pubmed_base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils")
	v.SetDefault("ncbi_api_key", "")
	v.SetDefault("ncbi_email", "")
	v.SetDefault("pubmed_rate_limit", 9)
	v.SetDefault("literature_max_results", 5)
	v.SetDefault("cache_url", "")
	v.SetDefault("cache_ttl", "24h")
	v.SetDefault("formulary_adult_path", "data/bnf_84_british2022-2023.txt")
	v.SetDefault("formulary_children_path", "data/bnf_children_2022-2023.txt")
	v.SetDefault("clinician_language", "Russian")
	v.SetDefault("max_concurrent_drugs", 0)
	v.SetDefault("listen_addr", ":8000")
	v.SetDefault("cors_origins", "http://localhost:3000,http://localhost:5000")
	v.SetDefault("client_rate_limit", 2.0)
	v.SetDefault("max_upload_bytes", 32<<20)
	v.SetDefault("chrome_path", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("otel_exporter_otlp_endpoint", "")
}

// New returns a viper instance reading defaults, an optional .env file and
// the process environment, in increasing priority.
func New(envFiles ...string) *viper.Viper {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load(envFiles...)

	v := viper.New()
	Defaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads and validates the configuration. requireLLM is false for
// commands that never call the model, such as export-only runs.
func Load(v *viper.Viper, requireLLM bool) (Config, error) {
	cfg := Config{
		AnthropicAPIKey:       strings.TrimSpace(v.GetString("anthropic_api_key")),
		AnthropicModel:        strings.TrimSpace(v.GetString("anthropic_model")),
		LLMTimeout:            v.GetDuration("llm_timeout"),
		LLMMaxTokens:          v.GetInt("llm_max_tokens"),
		HTTPTimeout:           v.GetDuration("http_timeout"),
		RxNavBaseURL:          trimURL(v.GetString("rxnav_base_url")),
		OpenFDABaseURL:        trimURL(v.GetString("openfda_base_url")),
		OpenFDAAPIKey:         strings.TrimSpace(v.GetString("openfda_api_key")),
		EMABaseURL:            trimURL(v.GetString("ema_base_url")),
		PubMedBaseURL:         trimURL(v.GetString("pubmed_base_url")),
		NCBIAPIKey:            strings.TrimSpace(v.GetString("ncbi_api_key")),
		NCBIEmail:             strings.TrimSpace(v.GetString("ncbi_email")),
		PubMedRateLimit:       v.GetInt("pubmed_rate_limit"),
		LiteratureMaxResults:  v.GetInt("literature_max_results"),
		CacheURL:              strings.TrimSpace(v.GetString("cache_url")),
		CacheTTL:              v.GetDuration("cache_ttl"),
		FormularyAdultPath:    strings.TrimSpace(v.GetString("formulary_adult_path")),
		FormularyChildrenPath: strings.TrimSpace(v.GetString("formulary_children_path")),
		ClinicianLanguage:     strings.TrimSpace(v.GetString("clinician_language")),
		MaxConcurrentDrugs:    v.GetInt("max_concurrent_drugs"),
		ListenAddr:            strings.TrimSpace(v.GetString("listen_addr")),
		CORSOrigins:           splitList(v.GetString("cors_origins")),
		ClientRateLimit:       v.GetFloat64("client_rate_limit"),
		MaxUploadBytes:        v.GetInt64("max_upload_bytes"),
		ChromePath:            strings.TrimSpace(v.GetString("chrome_path")),
		LogLevel:              strings.TrimSpace(v.GetString("log_level")),
		LogFormat:             strings.TrimSpace(v.GetString("log_format")),
		OTLPEndpoint:          strings.TrimSpace(v.GetString("otel_exporter_otlp_endpoint")),
	}
	if err := cfg.Validate(requireLLM); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate(requireLLM bool) error {
	var errs []error
	if requireLLM && c.AnthropicAPIKey == "" {
		errs = append(errs, errors.New("ANTHROPIC_API_KEY is required"))
	}
	if c.AnthropicModel == "" {
		errs = append(errs, errors.New("ANTHROPIC_MODEL must not be empty"))
	}
	if c.LLMTimeout <= 0 {
		errs = append(errs, fmt.Errorf("LLM_TIMEOUT must be positive, got %s", c.LLMTimeout))
	}
	if c.LLMMaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("LLM_MAX_TOKENS must be positive, got %d", c.LLMMaxTokens))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("HTTP_TIMEOUT must be positive, got %s", c.HTTPTimeout))
	}
	for name, raw := range map[string]string{
		"RXNAV_BASE_URL":   c.RxNavBaseURL,
		"OPENFDA_BASE_URL": c.OpenFDABaseURL,
		"EMA_BASE_URL":     c.EMABaseURL,
		"PUBMED_BASE_URL":  c.PubMedBaseURL,
	} {
		if err := validateHTTPURL(raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if c.PubMedRateLimit <= 0 {
		errs = append(errs, fmt.Errorf("PUBMED_RATE_LIMIT must be positive, got %d", c.PubMedRateLimit))
	}
	if c.LiteratureMaxResults <= 0 || c.LiteratureMaxResults > 100 {
		errs = append(errs, fmt.Errorf("LITERATURE_MAX_RESULTS must be between 1 and 100, got %d", c.LiteratureMaxResults))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("CACHE_TTL must be positive, got %s", c.CacheTTL))
	}
	if c.MaxConcurrentDrugs < 0 {
		errs = append(errs, fmt.Errorf("MAX_CONCURRENT_DRUGS must not be negative, got %d", c.MaxConcurrentDrugs))
	}
	if c.ClientRateLimit <= 0 {
		errs = append(errs, fmt.Errorf("CLIENT_RATE_LIMIT must be positive, got %v", c.ClientRateLimit))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes))
	}
	if c.ClinicianLanguage == "" {
		errs = append(errs, errors.New("CLINICIAN_LANGUAGE must not be empty"))
	}
	return errors.Join(errs...)
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("expected http(s) URL, got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

func trimURL(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), "/")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
