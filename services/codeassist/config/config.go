// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the code assistant configuration: embedded
// defaults, an optional YAML file, then environment overrides, validated
// with struct tags.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/mracul/code-assistant/services/codeassist/storage/badger"
	"github.com/mracul/code-assistant/services/codeassist/telemetry"
	"github.com/mracul/code-assistant/services/llm"
)

//go:embed default.yaml
var defaultYAML []byte

// MaxConfigFileSize caps a user config file.
const MaxConfigFileSize = 1 << 20

var (
	// ErrConfigTooLarge is returned for a config file over MaxConfigFileSize.
	ErrConfigTooLarge = errors.New("config file too large")

	// ErrInvalidConfig wraps decoding and validation failures.
	ErrInvalidConfig = errors.New("invalid config")
)

// Config is the full application configuration.
type Config struct {
	// ProjectRoot confines every session to one directory.
	ProjectRoot string `yaml:"project_root" validate:"required"`

	Server       ServerConfig       `yaml:"server"`
	LLM          llm.Config         `yaml:"llm"`
	Retrieval    RetrievalConfig    `yaml:"retrieval"`
	Index        IndexConfig        `yaml:"index"`
	Conversation ConversationConfig `yaml:"conversation"`
	Storage      badger.Config      `yaml:"storage"`
	Agents       AgentsConfig       `yaml:"agents"`
	Workflows    WorkflowsConfig    `yaml:"workflows"`
	Search       SearchConfig       `yaml:"search"`
	Logging      LoggingConfig      `yaml:"logging"`
	Telemetry    telemetry.Config   `yaml:"telemetry"`
}

// ServerConfig configures the websocket transport.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`

	// NotificationBuffer is the per-session notification queue length.
	NotificationBuffer int `yaml:"notification_buffer" validate:"gte=0"`

	// ReadLimit caps one inbound websocket message in bytes.
	ReadLimit int64 `yaml:"read_limit" validate:"gt=0"`

	// AllowedOrigins lists accepted Origin headers. Empty accepts only
	// same-host requests.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RetrievalConfig selects the semantic retrieval store.
type RetrievalConfig struct {
	// Backend is "none", "memory" or "weaviate".
	Backend     string `yaml:"backend" validate:"oneof=none memory weaviate"`
	WeaviateURL string `yaml:"weaviate_url" validate:"required_if=Backend weaviate"`

	// Project scopes stored chunks so several projects can share a class.
	Project string `yaml:"project"`
}

// IndexConfig configures discovery and indexing.
type IndexConfig struct {
	// Workers bounds parallel parsing. Zero uses GOMAXPROCS.
	Workers    int      `yaml:"workers" validate:"gte=0"`
	Extensions []string `yaml:"extensions" validate:"dive,startswith=."`

	// Ignore holds gitignore-style patterns added to the root .gitignore.
	Ignore []string `yaml:"ignore"`

	// Watch re-indexes sessions when files change.
	Watch    bool          `yaml:"watch"`
	Debounce time.Duration `yaml:"debounce" validate:"gte=0"`
}

// ConversationConfig configures the conversation log.
type ConversationConfig struct {
	MaxTokens int `yaml:"max_tokens" validate:"gt=0"`

	// Store is "none", "file" or "badger".
	Store string `yaml:"store" validate:"oneof=none file badger"`
	Dir   string `yaml:"dir" validate:"required_if=Store file"`
}

// AgentsConfig locates the agent definitions. Empty uses the built-in set.
type AgentsConfig struct {
	Definitions string `yaml:"definitions"`
}

// WorkflowsConfig locates the workflow definitions and names the workflow
// run for natural-language prompts.
type WorkflowsConfig struct {
	Definitions string `yaml:"definitions"`
	Default     string `yaml:"default" validate:"required"`
}

// SearchConfig configures hybrid search and prompt context building.
type SearchConfig struct {
	Limit        int `yaml:"limit" validate:"gt=0"`
	ContextFiles int `yaml:"context_files" validate:"gte=0"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

// Default returns the embedded defaults.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := decode(defaultYAML, cfg); err != nil {
		return nil, fmt.Errorf("embedded defaults: %w", err)
	}
	return cfg, nil
}

// Load builds the configuration.
//
// Description:
//
//	Starts from the embedded defaults, overlays the YAML file at path when
//	path is non-empty, applies environment overrides and validates the
//	result. Keys absent from the file keep their defaults; unknown keys
//	are rejected.
//
// Inputs:
//
//	path - Optional YAML file.
//
// Outputs:
//
//	*Config - The validated configuration.
//	error   - Read failures, ErrConfigTooLarge or ErrInvalidConfig.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	if path != "" {
		data, err := readLimited(path)
		if err != nil {
			return nil, err
		}
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readLimited(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if len(data) > MaxConfigFileSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrConfigTooLarge, path, MaxConfigFileSize)
	}
	return data, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// envBinding maps one environment variable onto a field.
type envBinding struct {
	key   string
	apply func(cfg *Config, v string) error
}

func setString(field func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		*field(cfg) = v
		return nil
	}
}

var envBindings = []envBinding{
	{"CODEASSIST_PROJECT_ROOT", setString(func(c *Config) *string { return &c.ProjectRoot })},
	{"CODEASSIST_ADDR", setString(func(c *Config) *string { return &c.Server.Addr })},
	{"CODEASSIST_LLM_BACKEND", setString(func(c *Config) *string { return &c.LLM.Backend })},
	{"CODEASSIST_LLM_BASE_URL", setString(func(c *Config) *string { return &c.LLM.BaseURL })},
	{"OPENAI_API_KEY", setString(func(c *Config) *string { return &c.LLM.APIKey })},
	{"OPENAI_MODEL", setString(func(c *Config) *string { return &c.LLM.Model })},
	{"CODEASSIST_RETRIEVAL_BACKEND", setString(func(c *Config) *string { return &c.Retrieval.Backend })},
	{"WEAVIATE_URL", func(c *Config, v string) error {
		c.Retrieval.WeaviateURL = v
		if c.Retrieval.Backend != "none" {
			c.Retrieval.Backend = "weaviate"
		}
		return nil
	}},
	{"CODEASSIST_DEFAULT_WORKFLOW", setString(func(c *Config) *string { return &c.Workflows.Default })},
	{"CODEASSIST_LOG_LEVEL", func(c *Config, v string) error {
		c.Logging.Level = strings.ToLower(v)
		return nil
	}},
	{"CODEASSIST_LOG_DIR", setString(func(c *Config) *string { return &c.Logging.Dir })},
	{"CODEASSIST_DATA_DIR", func(c *Config, v string) error {
		c.Storage.Path = filepath.Join(v, "db")
		c.Conversation.Dir = filepath.Join(v, "history")
		return nil
	}},
	{"CODEASSIST_INDEX_WATCH", func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CODEASSIST_INDEX_WATCH: %w", err)
		}
		c.Index.Watch = b
		return nil
	}},
	{"CODEASSIST_CONVERSATION_MAX_TOKENS", func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CODEASSIST_CONVERSATION_MAX_TOKENS: %w", err)
		}
		c.Conversation.MaxTokens = n
		return nil
	}},
}

// ApplyEnv overlays the environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	for _, b := range envBindings {
		v, ok := lookup(b.key)
		if !ok || v == "" {
			continue
		}
		if err := b.apply(c, v); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags of c and its sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
