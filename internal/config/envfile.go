package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// LoadDotEnv loads environment variables from a .env-style file.
// Existing process environment variables are not overridden and a missing
// file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "stat %s failed", path)
	}
	if err := godotenv.Load(path); err != nil {
		return errors.Wrapf(err, "load %s failed", path)
	}
	return nil
}
