package scubaduck

import (
	"log"
	"os"

	"gopkg.in/yaml.v2"
)

// Config is the optional YAML server configuration. Flags win over the
// file for overlapping settings.
type Config struct {
	Listen                string `yaml:"listen"`
	SampleCacheSize       int    `yaml:"sample_cache_size"`
	SampleCacheTTLSeconds int    `yaml:"sample_cache_ttl_seconds"`
}

func ParseConfig(configFile string) Config {
	if configFile == "" {
		return Config{}
	}

	buf, err := os.ReadFile(configFile)
	if err != nil {
		log.Fatal(err)
	}

	var config Config
	if err := yaml.Unmarshal(buf, &config); err != nil {
		log.Fatal(err)
	}
	return config
}
