package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	v := New(filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := Load(v, true)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.AnthropicAPIKey)
	assert.Equal(t, 15*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 9, cfg.PubMedRateLimit)
	assert.Equal(t, 5, cfg.LiteratureMaxResults)
	assert.Equal(t, "Russian", cfg.ClinicianLanguage)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5000"}, cfg.CORSOrigins)
	assert.Equal(t, "https://rxnav.nlm.nih.gov/REST", cfg.RxNavBaseURL)
}

func TestLoadReadsEnvironmentOverrides(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("PUBMED_RATE_LIMIT", "3")
	t.Setenv("CACHE_URL", "redis://localhost:6379/0")
	t.Setenv("PUBMED_BASE_URL", "http://127.0.0.1:9999/eutils/")
	t.Setenv("CORS_ORIGINS", " https://a.example , ,https://b.example")
	v := New(filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := Load(v, true)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.PubMedRateLimit)
	assert.Equal(t, "redis://localhost:6379/0", cfg.CacheURL)
	assert.Equal(t, "http://127.0.0.1:9999/eutils", cfg.PubMedBaseURL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("ANALYZER_TEST_ONLY=1\nCLINICIAN_LANGUAGE=English\n"), 0o600))
	t.Setenv("CLINICIAN_LANGUAGE", "")
	os.Unsetenv("CLINICIAN_LANGUAGE")
	t.Cleanup(func() {
		os.Unsetenv("ANALYZER_TEST_ONLY")
		os.Unsetenv("CLINICIAN_LANGUAGE")
	})

	cfg, err := Load(New(envFile), false)
	require.NoError(t, err)
	assert.Equal(t, "English", cfg.ClinicianLanguage)
}

func TestLoadAggregatesValidationErrors(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("PUBMED_RATE_LIMIT", "0")
	t.Setenv("OPENFDA_BASE_URL", "ftp://example")
	v := New(filepath.Join(t.TempDir(), "missing.env"))

	_, err := Load(v, true)
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{"ANTHROPIC_API_KEY is required", "PUBMED_RATE_LIMIT", "OPENFDA_BASE_URL"} {
		assert.True(t, strings.Contains(msg, want), "expected %q in %q", want, msg)
	}
}

func TestLoadWithoutLLMRequirement(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := Load(New(filepath.Join(t.TempDir(), "missing.env")), false)
	require.NoError(t, err)
}
