// Package config loads the engine's own tunables: concurrency caps, queue
// sizes, timeouts, and backoff parameters (spec.md §5's "every cap is a
// configuration value with a sane default"). Values start from Default();
// for local development an optional YAML overlay is decoded on top with
// gopkg.in/yaml.v3 — the same library the teacher uses for its own config
// files — and every AGENTFLOW_ environment variable that is set then
// overrides whatever the struct already holds, YAML and explicitly assigned
// values included. Parsing arbitrary external config file formats for the transport
// layer is out of scope per spec.md §1; this is only the engine's internal
// tuning surface.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every cap and default named across spec.md §4-§5.
type Config struct {
	// Process manager (§4.6)
	MaxConcurrentProcesses int           `yaml:"max_concurrent_processes"`
	ProcessQueueSize       int           `yaml:"process_queue_size"`
	MaxOutputBytes         int           `yaml:"max_output_bytes"`
	ProcessGraceWindow     time.Duration `yaml:"process_grace_window"`
	DefaultProcessTimeout  time.Duration `yaml:"default_process_timeout"`
	MaxProcessRetries      int           `yaml:"max_process_retries"`

	// Workflow engine (§4.7)
	MaxConcurrentWorkflows int           `yaml:"max_concurrent_workflows"`
	MaxParallelSteps       int           `yaml:"max_parallel_steps"`
	WorkflowQueueEnabled   bool          `yaml:"workflow_queue_enabled"`
	WorkflowQueueSize      int           `yaml:"workflow_queue_size"`
	MaxStepsPerWorkflow    int           `yaml:"max_steps_per_workflow"`
	DefaultStepTimeout     time.Duration `yaml:"default_step_timeout"`
	DefaultWorkflowTimeout time.Duration `yaml:"default_workflow_timeout"`

	// Prompt template store (§4.4)
	MaxTemplateVersions int `yaml:"max_template_versions"`
	MaxVariablesPerTmpl int `yaml:"max_variables_per_template"`
	MaxTemplateLength   int `yaml:"max_template_length"`

	// Workflow context store (§4.5)
	MaxContextDepth int `yaml:"max_context_depth"`
	MaxContextBytes int `yaml:"max_context_bytes"`
	MaxSnapshots    int `yaml:"max_snapshots"`

	// Orchestration patterns (§4.8)
	MaxMapReduceItems int `yaml:"max_map_reduce_items"`

	// Agent registry (§4.3)
	AgentErrorThreshold int           `yaml:"agent_error_threshold"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	HealthCheckTimeout  time.Duration `yaml:"health_check_timeout"`

	// Rate limiting (§4.6)
	UserRateLimitPerMinute int `yaml:"user_rate_limit_per_minute"`

	// Retry / backoff (§4.6, §4.7)
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`

	// Self-critique service (§4.9)
	DefaultCritiqueTimeout time.Duration `yaml:"default_critique_timeout"`
	MaxCritiqueIterations  int           `yaml:"max_critique_iterations"`

	// Discussion service (§4.10)
	DefaultDiscussionTimeout time.Duration `yaml:"default_discussion_timeout"`
	MaxDiscussionRounds      int           `yaml:"max_discussion_rounds"`
	MaxParallelParticipants  int           `yaml:"max_parallel_participants"`
	MaxParticipants          int           `yaml:"max_participants"`
}

// Default returns the sane-default configuration, mirroring the teacher's
// DefaultAsyncTaskConfig/DefaultCircuitBreakerParams style of one function
// per subsystem collapsed into a single struct for the engine as a whole.
func Default() *Config {
	return &Config{
		MaxConcurrentProcesses: 10,
		ProcessQueueSize:       200,
		MaxOutputBytes:         1 << 20, // 1MiB
		ProcessGraceWindow:     5 * time.Second,
		DefaultProcessTimeout:  5 * time.Minute,
		MaxProcessRetries:      2,

		MaxConcurrentWorkflows: 20,
		MaxParallelSteps:       8,
		WorkflowQueueEnabled:   true,
		WorkflowQueueSize:      500,
		MaxStepsPerWorkflow:    200,
		DefaultStepTimeout:     2 * time.Minute,
		DefaultWorkflowTimeout: 30 * time.Minute,

		MaxTemplateVersions: 20,
		MaxVariablesPerTmpl: 50,
		MaxTemplateLength:   32 * 1024,

		MaxContextDepth: 16,
		MaxContextBytes: 1 << 20,
		MaxSnapshots:    10,

		MaxMapReduceItems: 1000,

		AgentErrorThreshold: 5,
		HealthCheckInterval: 30 * time.Second,
		HealthCheckTimeout:  5 * time.Second,

		UserRateLimitPerMinute: 60,

		RetryBaseDelay: 200 * time.Millisecond,
		RetryMaxDelay:  30 * time.Second,

		DefaultCritiqueTimeout: 5 * time.Minute,
		MaxCritiqueIterations:  10,

		DefaultDiscussionTimeout: 10 * time.Minute,
		MaxDiscussionRounds:      10,
		MaxParallelParticipants:  5,
		MaxParticipants:          20,
	}
}

// LoadFromEnv overlays environment variables (prefix AGENTFLOW_) onto the
// given config: every variable that is set overrides the value already in c,
// whether it came from Default, a YAML overlay or an explicit assignment;
// unset variables leave c unchanged.
func LoadFromEnv(c *Config) *Config {
	if v, ok := intFromEnv("AGENTFLOW_MAX_CONCURRENT_PROCESSES"); ok {
		c.MaxConcurrentProcesses = v
	}
	if v, ok := intFromEnv("AGENTFLOW_MAX_CONCURRENT_WORKFLOWS"); ok {
		c.MaxConcurrentWorkflows = v
	}
	if v, ok := intFromEnv("AGENTFLOW_MAX_PARALLEL_STEPS"); ok {
		c.MaxParallelSteps = v
	}
	if v, ok := intFromEnv("AGENTFLOW_AGENT_ERROR_THRESHOLD"); ok {
		c.AgentErrorThreshold = v
	}
	if v, ok := intFromEnv("AGENTFLOW_USER_RATE_LIMIT_PER_MINUTE"); ok {
		c.UserRateLimitPerMinute = v
	}
	return c
}

// LoadFromYAML decodes a YAML overlay file on top of Default(), for local
// development — mirroring the teacher's ConfigMap-mounted template files.
func LoadFromYAML(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return LoadFromEnv(c), nil
}

func intFromEnv(key string) (int, bool) {
	s := os.Getenv(key)
	if s == "" {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}
