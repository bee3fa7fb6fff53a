package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// decodeYAMLFile decodes path into dst, tolerating a missing file (the
// caller relies on env vars + defaults in that case).
func decodeYAMLFile(path string, dst *Config) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(dst); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}
