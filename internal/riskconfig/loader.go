package riskconfig

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wonny/aegis-trader/internal/risk"
)

// Load reads the YAML file and returns Config with raw bytes
// SSOT 핵심: KnownFields(true)로 오타/미사용 필드 즉시 실패
func Load(path string) (*Config, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read risk limits file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, data, err
	}
	return cfg, data, nil
}

// Parse decodes and validates YAML bytes
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // 알 수 없는 필드 발견 시 에러 반환
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode risk limits: %w", err)
	}

	if _, err := cfg.Apply(risk.DefaultLimits()); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Hash generates SHA256 hash from Config (canonical JSON)
// 감사 로그에 어떤 한도로 결정했는지 남기기 위함
func Hash(cfg *Config) (string, error) {
	jsonBytes, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(sum[:]), nil
}

// LoadLimits overlays the file at path onto base. An empty path returns base unchanged.
func LoadLimits(path string, base risk.Limits) (risk.Limits, string, error) {
	if path == "" {
		return base, "", nil
	}

	cfg, _, err := Load(path)
	if err != nil {
		return base, "", err
	}

	limits, err := cfg.Apply(base)
	if err != nil {
		return base, "", err
	}

	hash, err := Hash(cfg)
	if err != nil {
		return base, "", err
	}
	return limits, hash, nil
}
