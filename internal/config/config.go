// Package config loads the YAML configuration file and resolves ${ENV_VAR}
// references inside it. The loaded Config is an immutable value passed
// explicitly into component constructors; nothing in the repository reads
// ambient configuration state after startup.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration with YAML support for values like "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full configuration surface.
type Config struct {
	RunsDirectory string           `yaml:"runs_directory"`
	ComfyUI       ComfyUIConfig    `yaml:"comfyui"`
	Iterations    IterationsConfig `yaml:"iterations"`
	Evaluation    ProviderSelect   `yaml:"evaluation"`
	Text          ProviderSelect   `yaml:"text"`
	Ollama        OllamaConfig     `yaml:"ollama"`
	Gemini        GeminiConfig     `yaml:"gemini"`
	Prompts       PromptsConfig    `yaml:"prompts"`
	Archive       ArchiveConfig    `yaml:"archive"`
}

// ComfyUIConfig configures the image generation backend.
type ComfyUIConfig struct {
	APIURL            string   `yaml:"api_url"`
	WorkflowTemplate  string   `yaml:"workflow_template"`
	PollInterval      Duration `yaml:"poll_interval"`
	GenerationTimeout Duration `yaml:"generation_timeout"`
}

// IterationsConfig bounds the refinement loop.
type IterationsConfig struct {
	MaxIterations    int     `yaml:"max_iterations"`
	SuccessThreshold float64 `yaml:"success_threshold"`
	// GenerationRetries is the attempt budget per iteration before the run fails.
	GenerationRetries int `yaml:"generation_retries"`
	// MaxEvalFailures caps consecutive evaluation failures before the run fails.
	MaxEvalFailures int `yaml:"max_eval_failures"`
}

// ProviderSelect picks the backing model provider for a role.
type ProviderSelect struct {
	Provider string `yaml:"provider"` // "ollama" or "gemini"
}

// OllamaConfig configures the local Ollama endpoint.
type OllamaConfig struct {
	APIURL         string   `yaml:"api_url"`
	VisionModel    string   `yaml:"vision_model"`
	TextModel      string   `yaml:"text_model"`
	RequestTimeout Duration `yaml:"request_timeout"`
	// UnloadAfterUse frees the model's memory between calls, which matters
	// when the generation backend shares the same GPU.
	UnloadAfterUse bool `yaml:"unload_after_use"`
}

// GeminiConfig configures the Gemini provider. APIKey may reference an
// environment variable as ${GEMINI_API_KEY}.
type GeminiConfig struct {
	APIKey      string `yaml:"api_key"`
	TextModel   string `yaml:"text_model"`
	VisionModel string `yaml:"vision_model"`
}

// PromptsConfig overrides the embedded prompt templates. Each value is a
// text/template body; see internal/assets for the variables available.
type PromptsConfig struct {
	GoalUnderstanding string `yaml:"goal_understanding"`
	Analysis          string `yaml:"analysis"`
	Refine            string `yaml:"refine"`
}

// ArchiveConfig enables S3 mirroring of run artifacts when Bucket is set.
type ArchiveConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
}

// envVarPattern matches ${VAR_NAME} references in the config file.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces every ${VAR} reference with the variable's value.
// A reference to an unset variable is an error, not an empty string — a
// missing API key should fail loudly at startup.
func expandEnv(data []byte) ([]byte, error) {
	var missing []string
	out := envVarPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		name := string(envVarPattern.FindSubmatch(m)[1])
		v, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return m
		}
		return []byte(v)
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("environment variable(s) not set: %v", missing)
	}
	return out, nil
}

// Load reads, env-expands, parses, defaults, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes config bytes. Exposed separately so tests can feed literals.
func Parse(data []byte) (*Config, error) {
	expanded, err := expandEnv(data)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no config file is supplied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.RunsDirectory == "" {
		c.RunsDirectory = "runs"
	}
	if c.ComfyUI.APIURL == "" {
		c.ComfyUI.APIURL = "http://127.0.0.1:8188"
	}
	if c.ComfyUI.WorkflowTemplate == "" {
		c.ComfyUI.WorkflowTemplate = "workflow_template.json"
	}
	if c.ComfyUI.PollInterval == 0 {
		c.ComfyUI.PollInterval = Duration(2 * time.Second)
	}
	if c.ComfyUI.GenerationTimeout == 0 {
		c.ComfyUI.GenerationTimeout = Duration(5 * time.Minute)
	}
	if c.Iterations.MaxIterations == 0 {
		c.Iterations.MaxIterations = 5
	}
	if c.Iterations.SuccessThreshold == 0 {
		c.Iterations.SuccessThreshold = 90
	}
	if c.Iterations.GenerationRetries == 0 {
		c.Iterations.GenerationRetries = 2
	}
	if c.Iterations.MaxEvalFailures == 0 {
		c.Iterations.MaxEvalFailures = 3
	}
	if c.Evaluation.Provider == "" {
		c.Evaluation.Provider = "ollama"
	}
	if c.Text.Provider == "" {
		c.Text.Provider = "ollama"
	}
	if c.Ollama.APIURL == "" {
		c.Ollama.APIURL = "http://localhost:11434"
	}
	if c.Ollama.VisionModel == "" {
		c.Ollama.VisionModel = "llava"
	}
	if c.Ollama.TextModel == "" {
		c.Ollama.TextModel = "llama3"
	}
	if c.Ollama.RequestTimeout == 0 {
		c.Ollama.RequestTimeout = Duration(2 * time.Minute)
	}
}

func (c *Config) validate() error {
	for _, sel := range []struct{ role, provider string }{
		{"evaluation", c.Evaluation.Provider},
		{"text", c.Text.Provider},
	} {
		switch sel.provider {
		case "ollama", "gemini":
		default:
			return fmt.Errorf("unsupported %s provider: %q", sel.role, sel.provider)
		}
	}
	if c.Iterations.MaxIterations < 0 {
		return fmt.Errorf("max_iterations must be >= 0, got %d", c.Iterations.MaxIterations)
	}
	if c.Iterations.SuccessThreshold < 0 || c.Iterations.SuccessThreshold > 100 {
		return fmt.Errorf("success_threshold must be in [0,100], got %v", c.Iterations.SuccessThreshold)
	}
	return nil
}
