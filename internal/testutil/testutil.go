package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
)

// PostgresURL returns the database URL for integration tests and skips the
// test when none is configured. DATABASE_URL wins; otherwise TEST_DATABASE_URL
// is read from the nearest .env.test.
func PostgresURL(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}

	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		return databaseURL
	}

	envPath := findEnvTestFile()
	if envPath == "" {
		t.Skip("no DATABASE_URL and no .env.test; skipping PostgreSQL integration test")
	}

	envMap, err := godotenv.Read(envPath)
	if err != nil {
		t.Skipf("failed to read %s: %v", envPath, err)
	}

	testDBURL := envMap["TEST_DATABASE_URL"]
	if testDBURL == "" {
		t.Skipf("TEST_DATABASE_URL not set in %s", envPath)
	}
	return testDBURL
}

// findEnvTestFile searches for .env.test in current and parent directories
func findEnvTestFile() string {
	dir, _ := os.Getwd()

	for range 5 {
		envPath := filepath.Join(dir, ".env.test")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
