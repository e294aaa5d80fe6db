package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Milvus    MilvusConfig
	Redis     RedisConfig
	Embedding EmbeddingConfig
	Eval      EvalConfig
	Logging   LoggingConfig
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

type MilvusConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type EmbeddingConfig struct {
	APIKey     string
	Model      string
	Dim        int
	TimeoutSec int
}

type EvalConfig struct {
	TopK                   int
	LexicalAnswerThreshold float64
	VectorAnswerThreshold  float64
	SigmoidMode            string
	Workers                int
	VectorTimeoutSec       int
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
	viper.AddConfigPath("/etc/manual-qa")

	viper.SetEnvPrefix("MANUAL_QA")
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
	viper.SetDefault("server.bodyLimit", 20971520)

	viper.SetDefault("sqlite.path", "./data/manualqa.db")

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "manual_paragraphs")
	viper.SetDefault("milvus.vectorDim", 1536)

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("embedding.model", "text-embedding-3-large")
	viper.SetDefault("embedding.dim", 1536)
	viper.SetDefault("embedding.timeoutSec", 15)

	viper.SetDefault("eval.topK", 10)
	viper.SetDefault("eval.lexicalAnswerThreshold", 0.65)
	viper.SetDefault("eval.vectorAnswerThreshold", 0.88)
	viper.SetDefault("eval.sigmoidMode", "global_max_raw")
	viper.SetDefault("eval.workers", 4)
	viper.SetDefault("eval.vectorTimeoutSec", 20)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
