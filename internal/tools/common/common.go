package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

var (
	ErrEnvFileOpen  = errors.New("open env file")
	ErrEnvFileParse = errors.New("parse env file")
)

// LoadEnvFile sets variables from a dotenv file without overriding values
// already present in the environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrEnvFileOpen, err)
	}
	defer func() { _ = f.Close() }()

	values, err := godotenv.Parse(f)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrEnvFileParse, path, err)
	}
	for key, value := range values {
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return nil
}

// CIResult is the one-line summary a tool prints when run with --ci.
type CIResult struct {
	OK      bool     `json:"ok"`
	Tool    string   `json:"tool"`
	Details []string `json:"details,omitempty"`
	Error   string   `json:"error,omitempty"`
}

func WriteCIResult(w io.Writer, tool string, ok bool, details []string, err error) error {
	res := CIResult{OK: ok && err == nil, Tool: tool, Details: details}
	if err != nil {
		res.Error = err.Error()
	}
	return json.NewEncoder(w).Encode(res)
}
