// Package config loads process settings from .env, an optional YAML file and
// the environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github/itish2003/pdfrag/models"
)

// Config is the root application configuration.
type Config struct {
	KBFolder   string `yaml:"kb_folder"`
	PersistDir string `yaml:"persist_dir"`
	Port       string `yaml:"port"`

	VectorBackend    string `yaml:"vector_backend"`
	ChromaURL        string `yaml:"chroma_url"`
	ChromaCollection string `yaml:"chroma_collection"`

	EmbeddingProvider string `yaml:"embedding_provider"`
	EmbeddingModel    string `yaml:"embedding_model"`
	OllamaURL         string `yaml:"ollama_url"`

	LLMProvider    string  `yaml:"llm_provider"`
	LLMModel       string  `yaml:"llm_model"`
	LLMTemperature float64 `yaml:"llm_temperature"`
	GeminiAPIKey   string  `yaml:"-"`

	ConversationBackend string `yaml:"conversation_backend"`
	SQLitePath          string `yaml:"sqlite_path"`
	MongoURI            string `yaml:"mongo_uri"`
	MongoDB             string `yaml:"mongo_db"`

	UpstreamTimeout  time.Duration `yaml:"-"`
	UpstreamRetries  int           `yaml:"upstream_retries"`
	EmbedConcurrency int           `yaml:"embed_concurrency"`
	WatchCorpus      bool          `yaml:"watch_corpus"`

	UnidocLicenseKey string `yaml:"-"`
	LogLevel         string `yaml:"log_level"`
	LogFormat        string `yaml:"log_format"`

	// UpstreamTimeoutSecs is the YAML spelling of UpstreamTimeout.
	UpstreamTimeoutSecs int `yaml:"upstream_timeout_secs"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		KBFolder:            "knowledge_base",
		PersistDir:          "vectorstore",
		Port:                "8080",
		VectorBackend:       "bolt",
		ChromaURL:           "http://localhost:8000",
		ChromaCollection:    "pdf-chunks",
		EmbeddingProvider:   "gemini",
		EmbeddingModel:      "text-embedding-004",
		OllamaURL:           "http://localhost:11434",
		LLMProvider:         "gemini",
		LLMModel:            "gemini-2.0-flash-001",
		LLMTemperature:      0.2,
		ConversationBackend: "sqlite",
		SQLitePath:          filepath.Join("data", "conversations.db"),
		MongoURI:            "mongodb://localhost:27017",
		MongoDB:             "rag_chatbot",
		UpstreamTimeout:     60 * time.Second,
		UpstreamRetries:     3,
		EmbedConcurrency:    4,
		LogLevel:            "info",
		LogFormat:           "text",
	}
}

// Load reads .env (if present), the YAML file named by CONFIG_FILE (default
// config.yaml, skipped when absent) and then environment overrides.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := Default()
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "config.yaml"
	}
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: reading %s: %v", models.ErrConfiguration, path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: parsing %s: %v", models.ErrConfiguration, path, err)
	}
	if c.UpstreamTimeoutSecs > 0 {
		c.UpstreamTimeout = time.Duration(c.UpstreamTimeoutSecs) * time.Second
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.KBFolder, "KB_FOLDER")
	setString(&c.PersistDir, "PERSIST_DIR", "VECTORSTORE_PATH")
	setString(&c.Port, "PORT")
	setString(&c.VectorBackend, "VECTOR_BACKEND")
	setString(&c.ChromaURL, "CHROMA_URL")
	setString(&c.ChromaCollection, "CHROMA_COLLECTION")
	setString(&c.EmbeddingProvider, "EMBEDDING_PROVIDER")
	setString(&c.EmbeddingModel, "EMBEDDING_MODEL")
	setString(&c.OllamaURL, "OLLAMA_URL")
	setString(&c.LLMProvider, "LLM_PROVIDER")
	setString(&c.LLMModel, "LLM_MODEL")
	setString(&c.GeminiAPIKey, "GEM_API_KEY", "GEMINI_API_KEY")
	setString(&c.ConversationBackend, "CONVERSATION_BACKEND")
	setString(&c.SQLitePath, "SQLITE_PATH")
	setString(&c.MongoURI, "MONGO_URI")
	setString(&c.MongoDB, "MONGO_DB", "DB_NAME")
	setString(&c.UnidocLicenseKey, "UNIDOC_LICENSE_KEY")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")

	if v := os.Getenv("LLM_TEMPERATURE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: LLM_TEMPERATURE: %v", models.ErrConfiguration, err)
		}
		c.LLMTemperature = f
	}
	if v := os.Getenv("UPSTREAM_TIMEOUT"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: UPSTREAM_TIMEOUT: %v", models.ErrConfiguration, err)
		}
		c.UpstreamTimeout = time.Duration(secs) * time.Second
	}
	if err := setInt(&c.UpstreamRetries, "UPSTREAM_RETRIES"); err != nil {
		return err
	}
	if err := setInt(&c.EmbedConcurrency, "EMBED_CONCURRENCY"); err != nil {
		return err
	}
	if v := os.Getenv("WATCH_CORPUS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: WATCH_CORPUS: %v", models.ErrConfiguration, err)
		}
		c.WatchCorpus = b
	}
	return nil
}

// Validate rejects settings no component can work with.
func (c *Config) Validate() error {
	c.VectorBackend = strings.ToLower(c.VectorBackend)
	c.EmbeddingProvider = strings.ToLower(c.EmbeddingProvider)
	c.LLMProvider = strings.ToLower(c.LLMProvider)
	c.ConversationBackend = strings.ToLower(c.ConversationBackend)

	switch {
	case c.KBFolder == "":
		return fmt.Errorf("%w: KB_FOLDER is empty", models.ErrConfiguration)
	case c.PersistDir == "":
		return fmt.Errorf("%w: PERSIST_DIR is empty", models.ErrConfiguration)
	case c.VectorBackend != "bolt" && c.VectorBackend != "chroma":
		return fmt.Errorf("%w: unknown VECTOR_BACKEND %q", models.ErrConfiguration, c.VectorBackend)
	case c.EmbeddingProvider != "gemini" && c.EmbeddingProvider != "ollama":
		return fmt.Errorf("%w: unknown EMBEDDING_PROVIDER %q", models.ErrConfiguration, c.EmbeddingProvider)
	case c.LLMProvider != "gemini" && c.LLMProvider != "ollama":
		return fmt.Errorf("%w: unknown LLM_PROVIDER %q", models.ErrConfiguration, c.LLMProvider)
	case c.ConversationBackend != "sqlite" && c.ConversationBackend != "mongo":
		return fmt.Errorf("%w: unknown CONVERSATION_BACKEND %q", models.ErrConfiguration, c.ConversationBackend)
	case c.UpstreamRetries < 1:
		return fmt.Errorf("%w: UPSTREAM_RETRIES must be at least 1", models.ErrConfiguration)
	case c.UpstreamTimeout <= 0:
		return fmt.Errorf("%w: UPSTREAM_TIMEOUT must be positive", models.ErrConfiguration)
	}
	if c.EmbedConcurrency < 1 {
		c.EmbedConcurrency = 1
	}
	return nil
}

// NeedsGemini reports whether any configured provider talks to Gemini.
func (c *Config) NeedsGemini() bool {
	return c.EmbeddingProvider == "gemini" || c.LLMProvider == "gemini"
}

func setString(dst *string, keys ...string) {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			*dst = v
			return
		}
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", models.ErrConfiguration, key, err)
	}
	*dst = n
	return nil
}
