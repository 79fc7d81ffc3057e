package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config stores runtime configuration loaded from environment variables.
type Config struct {
	ListenAddr     string
	APIToken       string
	OpenAIKey      string
	OpenAIEndpoint string
	OpenAIModel    string
	OCRKey         string
	OCRBaseURL     string
	OCRModel       string
	Database       string
	UploadDir      string
	LogLevel       string
	LogFormat      string

	Pipeline Pipeline
}

// Pipeline carries every tunable the generation pipeline uses. It is built
// once at startup and passed by value into the stages; no stage keeps
// package-level knobs.
type Pipeline struct {
	// Extraction.
	MinUsableChars     int     // extracted text shorter than this is unusable
	BinarySampleSize   int     // bytes inspected for the binary check
	BinaryNonPrintable float64 // non-printable fraction above which bytes are binary
	PrintableRunMin    int     // minimum ASCII run kept by heuristic PDF recovery

	// Paging and chunking.
	CharsPerPage int
	ChunkSize    int
	ChunkOverlap int
	KeywordCount int
	CharBudget   int

	// Grounding.
	SupportTokenMin int     // tokens shorter than this are ignored by the support check
	RetryThreshold  float64 // support rate below this triggers the single retry
	RejectFloor     float64 // support rate below this after retry fails the batch
	QuestionWeight  float64
	AnswerWeight    float64
	MaxAttempts     int

	// Difficulty bands (answer word counts; sentence caps fixed per band).
	EasyMaxWords   int
	MediumMaxWords int
	HardMaxWords   int
	MixEasyShare   float64
	MixMediumShare float64
	MixHardShare   float64

	// Quiz options.
	DedupeThreshold    float64
	NearDuplicate      float64
	PlausibleLow       float64
	PlausibleHigh      float64
	SimilaritySweet    float64
	DistractorMinWords int
	DistractorMaxWords int

	// Request defaults and caps.
	DefaultCardCount int
	DefaultQuizCount int
	MaxItemCount     int

	// Model sampling.
	Temperature float32
	MaxTokens   int
}

// DefaultPipeline returns the tuned defaults. Threshold ordering is part of
// the contract: RetryThreshold > RejectFloor and NearDuplicate > DedupeThreshold.
func DefaultPipeline() Pipeline {
	return Pipeline{
		MinUsableChars:     100,
		BinarySampleSize:   1000,
		BinaryNonPrintable: 0.10,
		PrintableRunMin:    20,

		CharsPerPage: 3000,
		ChunkSize:    2200,
		ChunkOverlap: 300,
		KeywordCount: 60,
		CharBudget:   30000,

		SupportTokenMin: 3,
		RetryThreshold:  0.6,
		RejectFloor:     0.5,
		QuestionWeight:  0.4,
		AnswerWeight:    0.6,
		MaxAttempts:     2,

		EasyMaxWords:   12,
		MediumMaxWords: 40,
		HardMaxWords:   250,
		MixEasyShare:   0.4,
		MixMediumShare: 0.4,
		MixHardShare:   0.2,

		DedupeThreshold:    0.7,
		NearDuplicate:      0.85,
		PlausibleLow:       0.15,
		PlausibleHigh:      0.75,
		SimilaritySweet:    0.35,
		DistractorMinWords: 3,
		DistractorMaxWords: 50,

		DefaultCardCount: 10,
		DefaultQuizCount: 5,
		MaxItemCount:     50,

		Temperature: 0.2,
		MaxTokens:   4096,
	}
}

// Validate rejects tunable combinations that would break pipeline invariants.
func (p Pipeline) Validate() error {
	if p.ChunkOverlap >= p.ChunkSize {
		return fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", p.ChunkOverlap, p.ChunkSize)
	}
	if p.CharBudget < p.ChunkSize {
		return fmt.Errorf("char budget %d must fit at least one chunk of %d", p.CharBudget, p.ChunkSize)
	}
	if p.RetryThreshold <= p.RejectFloor {
		return fmt.Errorf("retry threshold %.2f must exceed reject floor %.2f", p.RetryThreshold, p.RejectFloor)
	}
	if p.NearDuplicate <= p.DedupeThreshold {
		return fmt.Errorf("near-duplicate threshold %.2f must exceed dedupe threshold %.2f", p.NearDuplicate, p.DedupeThreshold)
	}
	if p.PlausibleLow >= p.PlausibleHigh {
		return fmt.Errorf("plausible band [%.2f, %.2f] is empty", p.PlausibleLow, p.PlausibleHigh)
	}
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts %d must be at least 1", p.MaxAttempts)
	}
	if p.EasyMaxWords >= p.MediumMaxWords || p.MediumMaxWords >= p.HardMaxWords {
		return fmt.Errorf("difficulty bands must be strictly increasing: %d/%d/%d", p.EasyMaxWords, p.MediumMaxWords, p.HardMaxWords)
	}
	return nil
}

// Load reads configuration from the environment, providing sensible defaults.
func Load() Config {
	// Load .env file if it exists (useful for development)
	_ = godotenv.Load()
	cfg := Config{
		ListenAddr:     getEnv("LISTEN_ADDR", ":8080"),
		APIToken:       os.Getenv("STUDYGEN_API_TOKEN"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIEndpoint: getEnv("OPENAI_API_ENDPOINT", "https://api.openai.com/v1"),
		OpenAIModel:    getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OCRKey:         os.Getenv("OCR_API_KEY"),
		OCRBaseURL:     getEnv("OCR_BASE_URL", "https://open.bigmodel.cn/api/paas/v4/"),
		OCRModel:       getEnv("OCR_MODEL", "glm-4.5v"),
		Database:       getEnv("DATABASE_PATH", "./data/studygen.db"),
		UploadDir:      getEnv("UPLOAD_DIR", "./data/uploads"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "console"),
		Pipeline:       pipelineFromEnv(),
	}

	if err := cfg.Pipeline.Validate(); err != nil {
		log.Fatalf("invalid pipeline configuration: %v", err)
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		log.Fatalf("failed to ensure upload dir %s: %v", cfg.UploadDir, err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
		log.Fatalf("failed to ensure database dir %s: %v", cfg.Database, err)
	}

	return cfg
}

// pipelineFromEnv starts from the defaults and applies the handful of knobs
// worth exposing without a redeploy.
func pipelineFromEnv() Pipeline {
	p := DefaultPipeline()
	p.CharBudget = getEnvInt("PIPELINE_CHAR_BUDGET", p.CharBudget)
	p.ChunkSize = getEnvInt("PIPELINE_CHUNK_SIZE", p.ChunkSize)
	p.ChunkOverlap = getEnvInt("PIPELINE_CHUNK_OVERLAP", p.ChunkOverlap)
	p.RetryThreshold = getEnvFloat("PIPELINE_RETRY_THRESHOLD", p.RetryThreshold)
	p.RejectFloor = getEnvFloat("PIPELINE_REJECT_FLOOR", p.RejectFloor)
	p.DedupeThreshold = getEnvFloat("PIPELINE_DEDUPE_THRESHOLD", p.DedupeThreshold)
	p.MaxItemCount = getEnvInt("PIPELINE_MAX_ITEMS", p.MaxItemCount)
	return p
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}
