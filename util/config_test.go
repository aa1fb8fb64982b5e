package util

import (
	"os"
	"testing"
)

func TestConfigConstants(t *testing.T) {
	if Name != "rabble" {
		t.Errorf("Expected Name 'rabble', got '%s'", Name)
	}

	if ConfigFileName != "config.yaml" {
		t.Errorf("Expected ConfigFileName 'config.yaml', got '%s'", ConfigFileName)
	}
}

func TestReadConfWithYaml(t *testing.T) {
	yamlContent := `
conf:
  host: 127.0.0.1
  httpPort: 9999
  sslDomain: https://example.com/
  dbPath: /tmp/rabble.db
  deliveryTimeout: 3
  signRequests: true
`
	if err := os.WriteFile("config.yaml", []byte(yamlContent), 0644); err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if config.Conf.Host != "127.0.0.1" {
		t.Errorf("Expected Host '127.0.0.1', got '%s'", config.Conf.Host)
	}
	if config.Conf.HttpPort != 9999 {
		t.Errorf("Expected HttpPort 9999, got %d", config.Conf.HttpPort)
	}
	if config.Conf.SslDomain != "example.com" {
		t.Errorf("Expected SslDomain 'example.com', got '%s'", config.Conf.SslDomain)
	}
	if config.Conf.DbPath != "/tmp/rabble.db" {
		t.Errorf("Expected DbPath '/tmp/rabble.db', got '%s'", config.Conf.DbPath)
	}
	if config.Conf.DeliveryTimeout != 3 {
		t.Errorf("Expected DeliveryTimeout 3, got %d", config.Conf.DeliveryTimeout)
	}
	if config.Conf.LookupAttempts != 3 {
		t.Errorf("Expected default LookupAttempts 3, got %d", config.Conf.LookupAttempts)
	}
	if !config.Conf.SignRequests {
		t.Error("Expected SignRequests to be true")
	}
}

func TestReadConfWithEnvOverrides(t *testing.T) {
	yamlContent := `
conf:
  host: 127.0.0.1
  httpPort: 9999
  sslDomain: example.com
  withRpc: true
`
	if err := os.WriteFile("config.yaml", []byte(yamlContent), 0644); err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	t.Setenv("RABBLE_HOST", "192.168.1.1")
	t.Setenv("RABBLE_HTTPPORT", "8080")
	t.Setenv("RABBLE_SSLDOMAIN", "https://test.example.com")
	t.Setenv("RABBLE_WITH_RPC", "false")
	t.Setenv("RABBLE_LOOKUP_ATTEMPTS", "5")

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if config.Conf.Host != "192.168.1.1" {
		t.Errorf("Expected Host '192.168.1.1', got '%s'", config.Conf.Host)
	}
	if config.Conf.HttpPort != 8080 {
		t.Errorf("Expected HttpPort 8080, got %d", config.Conf.HttpPort)
	}
	if config.Conf.SslDomain != "test.example.com" {
		t.Errorf("Expected SslDomain 'test.example.com', got '%s'", config.Conf.SslDomain)
	}
	if config.Conf.WithRpc {
		t.Error("Expected WithRpc to be overridden to false")
	}
	if config.Conf.LookupAttempts != 5 {
		t.Errorf("Expected LookupAttempts 5, got %d", config.Conf.LookupAttempts)
	}
}

func TestReadConfInvalidEnvIntIsIgnored(t *testing.T) {
	yamlContent := `
conf:
  httpPort: 9999
`
	if err := os.WriteFile("config.yaml", []byte(yamlContent), 0644); err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	t.Setenv("RABBLE_HTTPPORT", "not-a-number")

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}
	if config.Conf.HttpPort != 9999 {
		t.Errorf("Expected HttpPort to stay 9999, got %d", config.Conf.HttpPort)
	}
}

func TestParseConfEmbeddedDefaults(t *testing.T) {
	config, err := ParseConf(embeddedConfig)
	if err != nil {
		t.Fatalf("ParseConf failed on embedded defaults: %v", err)
	}
	if config.Conf.HttpPort != 9999 {
		t.Errorf("Expected default HttpPort 9999, got %d", config.Conf.HttpPort)
	}
	if config.Conf.DeliveryTimeout != 10 {
		t.Errorf("Expected default DeliveryTimeout 10, got %d", config.Conf.DeliveryTimeout)
	}
	if !config.Conf.WithRpc {
		t.Error("Expected rpc to be enabled by default")
	}
}

func TestParseConfInvalidYaml(t *testing.T) {
	if _, err := ParseConf([]byte("conf: [")); err == nil {
		t.Error("Expected error for invalid yaml")
	}
}
