package config

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// FileReader abstracts file access so .env loading can be tested
type FileReader interface {
	Open(filename string) (io.ReadCloser, error)
	Stat(filename string) (os.FileInfo, error)
}

type osFileReader struct{}

func (osFileReader) Open(filename string) (io.ReadCloser, error) { return os.Open(filename) }
func (osFileReader) Stat(filename string) (os.FileInfo, error)   { return os.Stat(filename) }

// Config holds all configuration for the matcher
type Config struct {
	// Reference dataset
	DataDir       string
	ReferenceURL  string
	ReferencePath string
	MetadataPath  string
	LockFile      string

	// Inputs handed over by external collaborators
	ProductsPath string
	RecipesPath  string

	// Tables
	SynonymsPath string
	UnitsPath    string

	// Match store
	StoreDriver string
	StorePath   string

	// Matching
	FuzzyFloor float64
	TopK       int

	// Batch rematch
	RematchWorkers int
	RematchChunk   int

	// Dataset fetch behavior
	DisableRemoteCheck bool
	IgnoreLock         bool

	// Server
	Port        string
	Environment string
}

// Load reads configuration from the environment, after applying any .env file
func Load() *Config {
	return LoadWithFileReader(osFileReader{})
}

// LoadWithFileReader is Load with an injectable file reader
func LoadWithFileReader(r FileReader) *Config {
	loadEnvFileWithReader(r)

	dataDir := getEnv("DATA_DIR", "./data")
	driver := strings.ToLower(getEnv("STORE_DRIVER", "duckdb"))
	storeFile := "matches.duckdb"
	if driver == "sqlite" {
		storeFile = "matches.sqlite"
	}

	return &Config{
		DataDir:            dataDir,
		ReferenceURL:       getEnv("REFERENCE_URL", ""),
		ReferencePath:      getEnv("REFERENCE_PATH", filepath.Join(dataDir, "frida.csv")),
		MetadataPath:       getEnv("METADATA_PATH", filepath.Join(dataDir, "metadata.json")),
		LockFile:           getEnv("LOCK_FILE", filepath.Join(dataDir, "refresh.lock")),
		ProductsPath:       getEnv("PRODUCTS_PATH", filepath.Join(dataDir, "products.json")),
		RecipesPath:        getEnv("RECIPES_PATH", filepath.Join(dataDir, "recipes.json")),
		SynonymsPath:       getEnv("SYNONYMS_PATH", ""),
		UnitsPath:          getEnv("UNITS_PATH", ""),
		StoreDriver:        driver,
		StorePath:          getEnv("STORE_PATH", filepath.Join(dataDir, storeFile)),
		FuzzyFloor:         getEnvFloat("FUZZY_FLOOR", 60),
		TopK:               getEnvInt("TOP_K", 3),
		RematchWorkers:     getEnvInt("REMATCH_WORKERS", 4),
		RematchChunk:       getEnvInt("REMATCH_CHUNK", 100),
		DisableRemoteCheck: getEnvBool("DISABLE_REMOTE_CHECK"),
		IgnoreLock:         getEnvBool("IGNORE_LOCK"),
		Port:               getEnv("PORT", "8080"),
		Environment:        getEnv("ENV", "production"),
	}
}

// IsDevelopment reports whether ENV=development
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// loadEnvFileWithReader applies .env values without overriding variables
// that are already set in the process environment.
func loadEnvFileWithReader(r FileReader) {
	if _, err := r.Stat(".env"); err != nil {
		return
	}
	f, err := r.Open(".env")
	if err != nil {
		return
	}
	defer f.Close()

	values, err := godotenv.Parse(f)
	if err != nil {
		return
	}
	for key, value := range values {
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		os.Setenv(key, value)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}
