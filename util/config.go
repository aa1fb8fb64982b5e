package util

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const Name = "rabble"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host             string
		HttpPort         int    `yaml:"httpPort"`
		SslDomain        string `yaml:"sslDomain"`
		DbPath           string `yaml:"dbPath"`
		RedisUrl         string `yaml:"redisUrl"`
		RecommenderUrl   string `yaml:"recommenderUrl"`
		DeliveryTimeout  int    `yaml:"deliveryTimeout"`
		LookupAttempts   int    `yaml:"lookupAttempts"`
		SignRequests     bool   `yaml:"signRequests"`
		VerifySignatures bool   `yaml:"verifySignatures"`
		FetchAvatars     bool   `yaml:"fetchAvatars"`
		WithJournald     bool   `yaml:"withJournald"`
		WithRpc          bool   `yaml:"withRpc"`
		WithMetrics      bool   `yaml:"withMetrics"`
	}
}

func ReadConf() (*AppConfig, error) {
	configPath := ResolveFilePath(ConfigFileName)

	buf, err := os.ReadFile(configPath)
	if err != nil {
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			if writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644); writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	c, err := ParseConf(buf)
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(c)
	return c, nil
}

// ParseConf decodes a yaml document and fills in defaults for unset limits.
func ParseConf(buf []byte) (*AppConfig, error) {
	c := &AppConfig{}
	if err := yaml.Unmarshal(buf, c); err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}
	if c.Conf.DbPath == "" {
		c.Conf.DbPath = "database.db"
	}
	if c.Conf.DeliveryTimeout <= 0 {
		c.Conf.DeliveryTimeout = 10
	}
	if c.Conf.LookupAttempts <= 0 {
		c.Conf.LookupAttempts = 3
	}
	c.Conf.SslDomain = StripScheme(c.Conf.SslDomain)
	return c, nil
}

func applyEnvOverrides(c *AppConfig) {
	if v := os.Getenv("RABBLE_HOST"); v != "" {
		c.Conf.Host = v
	}
	if v := os.Getenv("RABBLE_SSLDOMAIN"); v != "" {
		c.Conf.SslDomain = StripScheme(v)
	}
	if v := os.Getenv("RABBLE_DBPATH"); v != "" {
		c.Conf.DbPath = v
	}
	if v := os.Getenv("RABBLE_REDIS_URL"); v != "" {
		c.Conf.RedisUrl = v
	}
	if v := os.Getenv("RABBLE_RECOMMENDER_URL"); v != "" {
		c.Conf.RecommenderUrl = v
	}

	envInt("RABBLE_HTTPPORT", &c.Conf.HttpPort)
	envInt("RABBLE_DELIVERY_TIMEOUT", &c.Conf.DeliveryTimeout)
	envInt("RABBLE_LOOKUP_ATTEMPTS", &c.Conf.LookupAttempts)

	envBool("RABBLE_SIGN_REQUESTS", &c.Conf.SignRequests)
	envBool("RABBLE_VERIFY_SIGNATURES", &c.Conf.VerifySignatures)
	envBool("RABBLE_FETCH_AVATARS", &c.Conf.FetchAvatars)
	envBool("RABBLE_WITH_JOURNALD", &c.Conf.WithJournald)
	envBool("RABBLE_WITH_RPC", &c.Conf.WithRpc)
	envBool("RABBLE_WITH_METRICS", &c.Conf.WithMetrics)
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Warning: ignoring %s=%q: %v", key, v, err)
		return
	}
	*dst = n
}

func envBool(key string, dst *bool) {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1":
		*dst = true
	case "false", "0":
		*dst = false
	}
}

// DeliveryTimeoutSeconds is a convenience accessor that never returns zero.
func (c *AppConfig) DeliveryTimeoutSeconds() int {
	if c.Conf.DeliveryTimeout <= 0 {
		return 10
	}
	return c.Conf.DeliveryTimeout
}
