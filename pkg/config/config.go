package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	SQLite      SQLiteConfig
	Redis       RedisConfig
	LLM         LLMConfig
	Artifacts   ArtifactsConfig
	RAG         RAGConfig
	Logging     LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type LLMConfig struct {
	Provider        string
	Model           string
	APIKey          string
	BaseURL         string
	Temperature     float32
	MaxTokens       int
	TimeoutSec      int
	EmbeddingModel  string
	FallbackModel   string
	EmbeddingDim    int
	EmbeddingTTLSec int
}

type ArtifactsConfig struct {
	Dir            string
	ClassifierFile string
	EncoderFile    string
	EmbeddingsFile string
}

type RAGConfig struct {
	DocsDir     string
	DocFiles    []string
	ChunkSize   int
	DefaultTopK int
	MaxQuestion int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/lexpredict")

	viper.SetEnvPrefix("LEXPREDICT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("sqlite.path", "./data/lexpredict.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.3)
	viper.SetDefault("llm.maxTokens", 1000)
	viper.SetDefault("llm.timeoutSec", 30)
	viper.SetDefault("llm.embeddingModel", "legal-bert-base")
	viper.SetDefault("llm.fallbackModel", "text-embedding-3-small")
	viper.SetDefault("llm.embeddingDim", 768)
	viper.SetDefault("llm.embeddingTTLSec", 86400)

	viper.SetDefault("artifacts.dir", "./models")
	viper.SetDefault("artifacts.classifierFile", "classifier.json")
	viper.SetDefault("artifacts.encoderFile", "label_encoder.json")
	viper.SetDefault("artifacts.embeddingsFile", "embeddings.bin")

	viper.SetDefault("rag.docsDir", "./rag_docs")
	viper.SetDefault("rag.docFiles", []string{
		"data_dictionary.md",
		"modeling_report.md",
		"explanation_guide.md",
		"system_limitations.md",
	})
	viper.SetDefault("rag.chunkSize", 500)
	viper.SetDefault("rag.defaultTopK", 3)
	viper.SetDefault("rag.maxQuestion", 1000)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
