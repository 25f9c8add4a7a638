package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"cryptoledger/models"
)

//go:embed transactions.yml
var defaultTransactions []byte

// transactionTypeEntry is the on-disk form of one transaction type mapping.
type transactionTypeEntry struct {
	ResponseKeys []string `yaml:"response_keys"`
	Keys         []string `yaml:"keys"`
	Kinds        []string `yaml:"kinds"`
	Timestamp    string   `yaml:"timestamp"`
	DropFailed   bool     `yaml:"drop_failed"`
}

// TransactionConfigs holds the field mapping of every configured type.
type TransactionConfigs map[models.TransactionType]models.TransactionTypeConfig

// LoadTransactionConfigs reads the mapping file at path, or the built-in
// mapping when path is empty.
func LoadTransactionConfigs(path string) (TransactionConfigs, error) {
	data := defaultTransactions
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read transactions file: %v", ErrConfiguration, err)
		}
	}
	return ParseTransactionConfigs(data)
}

// ParseTransactionConfigs decodes and validates a mapping document.
func ParseTransactionConfigs(data []byte) (TransactionConfigs, error) {
	var raw map[string]transactionTypeEntry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: failed to parse transactions file: %v", ErrConfiguration, err)
	}

	out := make(TransactionConfigs, len(raw))
	for name, entry := range raw {
		t, err := models.ParseTransactionType(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		cfg, err := entry.build(t)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrConfiguration, name, err)
		}
		out[t] = cfg
	}
	return out, nil
}

func (e transactionTypeEntry) build(t models.TransactionType) (models.TransactionTypeConfig, error) {
	if len(e.ResponseKeys) == 0 {
		return models.TransactionTypeConfig{}, fmt.Errorf("response_keys must not be empty")
	}
	if len(e.ResponseKeys) != len(e.Keys) {
		return models.TransactionTypeConfig{}, fmt.Errorf("response_keys has %d entries but keys has %d", len(e.ResponseKeys), len(e.Keys))
	}
	if len(e.Kinds) > 0 && len(e.Kinds) != len(e.Keys) {
		return models.TransactionTypeConfig{}, fmt.Errorf("kinds has %d entries but keys has %d", len(e.Kinds), len(e.Keys))
	}

	cfg := models.TransactionTypeConfig{
		Type:       t,
		Timestamp:  strings.TrimSpace(e.Timestamp),
		DropFailed: e.DropFailed,
		Fields:     make([]models.FieldMapping, 0, len(e.Keys)),
	}

	seen := make(map[string]struct{}, len(e.Keys))
	for i, name := range e.Keys {
		name = strings.TrimSpace(name)
		source := strings.TrimSpace(e.ResponseKeys[i])
		if name == "" || source == "" {
			return models.TransactionTypeConfig{}, fmt.Errorf("entry %d has an empty key", i)
		}
		if _, dup := seen[name]; dup {
			return models.TransactionTypeConfig{}, fmt.Errorf("duplicate key '%s'", name)
		}
		seen[name] = struct{}{}

		var kind models.FieldKind
		if len(e.Kinds) > 0 {
			kind = models.FieldKind(strings.ToLower(strings.TrimSpace(e.Kinds[i])))
			if !kind.Valid() {
				return models.TransactionTypeConfig{}, fmt.Errorf("unknown kind '%s' for key '%s'", e.Kinds[i], name)
			}
		}
		if kind == "" {
			kind = inferKind(source, name)
		}
		cfg.Fields = append(cfg.Fields, models.FieldMapping{Source: source, Name: name, Kind: kind})
	}

	if _, ok := seen[models.ColumnDatetime]; !ok && cfg.Timestamp == "" {
		return models.TransactionTypeConfig{}, fmt.Errorf("either a '%s' key or timestamp is required", models.ColumnDatetime)
	}

	return cfg, nil
}

// inferKind derives a kind for mappings that do not declare one: source
// fields whose last segment mentions "time" are epoch timestamps, and
// canonical names ending in _asset or _amount carry those kinds.
func inferKind(source, name string) models.FieldKind {
	last := source
	if i := strings.LastIndex(source, "."); i >= 0 {
		last = source[i+1:]
	}
	switch {
	case strings.Contains(strings.ToLower(last), "time"):
		return models.FieldTimestamp
	case strings.HasSuffix(name, "asset"):
		return models.FieldAsset
	case strings.HasSuffix(name, "amount"):
		return models.FieldAmount
	}
	return models.FieldText
}

// Select returns the mapping for t.
func (c TransactionConfigs) Select(t models.TransactionType) (models.TransactionTypeConfig, error) {
	cfg, ok := c[t]
	if !ok {
		return models.TransactionTypeConfig{}, fmt.Errorf("%w: no field mapping for transaction type '%s'", ErrConfiguration, t)
	}
	return cfg, nil
}
