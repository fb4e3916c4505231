package models

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	ErrEmptyPrompt   = errors.New("prompt cannot be empty")
	ErrInvalidMode   = errors.New("invalid optimization mode")
	ErrInvalidTarget = errors.New("invalid target model")
	ErrInvalidScore  = errors.New("score must be between 0 and 100")
)

type ProviderType string

const (
	ProviderGemini    ProviderType = "gemini"
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
)

func ValidProviders() []ProviderType {
	return []ProviderType{ProviderGemini, ProviderOpenAI, ProviderAnthropic}
}

func (p ProviderType) IsValid() bool {
	return slices.Contains(ValidProviders(), p)
}

func (p ProviderType) String() string {
	return string(p)
}

// OptimizationMode selects the rewriting style requested from the model.
type OptimizationMode string

const (
	ModeBalanced OptimizationMode = "balanced"
	ModeCreative OptimizationMode = "creative"
	ModePrecise  OptimizationMode = "precise"
	ModeCoding   OptimizationMode = "coding"
)

func ValidModes() []OptimizationMode {
	return []OptimizationMode{ModeBalanced, ModeCreative, ModePrecise, ModeCoding}
}

func (m OptimizationMode) IsValid() bool {
	return slices.Contains(ValidModes(), m)
}

func (m OptimizationMode) String() string {
	return string(m)
}

// ParseMode converts user input to a mode, returning ErrInvalidMode for unknown values.
func ParseMode(s string) (OptimizationMode, error) {
	m := OptimizationMode(s)
	if !m.IsValid() {
		return "", fmt.Errorf("%w %q: must be one of %v", ErrInvalidMode, s, ValidModes())
	}
	return m, nil
}

// TargetAI names the assistant the optimized prompt is written for.
type TargetAI string

const (
	TargetGeneral TargetAI = "general"
	TargetChatGPT TargetAI = "chatgpt"
	TargetClaude  TargetAI = "claude"
	TargetGemini  TargetAI = "gemini"
)

func ValidTargets() []TargetAI {
	return []TargetAI{TargetGeneral, TargetChatGPT, TargetClaude, TargetGemini}
}

func (t TargetAI) IsValid() bool {
	return slices.Contains(ValidTargets(), t)
}

func (t TargetAI) String() string {
	return string(t)
}

func ParseTarget(s string) (TargetAI, error) {
	t := TargetAI(s)
	if !t.IsValid() {
		return "", fmt.Errorf("%w %q: must be one of %v", ErrInvalidTarget, s, ValidTargets())
	}
	return t, nil
}

// Configuration is the user-selected optimization setting, persisted separately from history.
type Configuration struct {
	Mode   OptimizationMode
	Target TargetAI
}

func DefaultConfiguration() Configuration {
	return Configuration{Mode: ModeBalanced, Target: TargetGeneral}
}

// Next returns the mode after m in ValidModes order, wrapping around.
func (m OptimizationMode) Next() OptimizationMode {
	modes := ValidModes()
	i := slices.Index(modes, m)
	return modes[(i+1)%len(modes)]
}

func (t TargetAI) Next() TargetAI {
	targets := ValidTargets()
	i := slices.Index(targets, t)
	return targets[(i+1)%len(targets)]
}

type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Analysis is the advisory heuristic quality report for a piece of text.
type Analysis struct {
	Clarity      float64  `json:"clarity"`
	Specificity  float64  `json:"specificity"`
	Structure    float64  `json:"structure"`
	Completeness float64  `json:"completeness"`
	Suggestions  []string `json:"suggestions"`
}

// PromptRecord is one completed optimization in the version history.
type PromptRecord struct {
	ID        string    `json:"id"`
	Input     string    `json:"input"`
	Output    string    `json:"output"`
	Timestamp Timestamp `json:"timestamp"`
	Score     *int      `json:"score,omitempty"`
}

func (r *PromptRecord) Validate() error {
	if r.Input == "" {
		return ErrEmptyPrompt
	}
	if r.Score != nil && (*r.Score < 0 || *r.Score > 100) {
		return fmt.Errorf("%w: %d", ErrInvalidScore, *r.Score)
	}
	return nil
}

// Timestamp is a time encoded in JSON as unix milliseconds.
type Timestamp time.Time

func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return fmt.Appendf(nil, "%d", time.Time(t).UnixMilli()), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var ms int64
	if _, err := fmt.Sscanf(string(data), "%d", &ms); err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", data, err)
	}
	*t = Timestamp(time.UnixMilli(ms))
	return nil
}

// OptimizeRequest is the input to a single optimization call.
type OptimizeRequest struct {
	Text   string
	Mode   OptimizationMode
	Target TargetAI
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

type CompletionRequest struct {
	Model       string
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

type Usage struct {
	InputTokens  int
	OutputTokens int
}

type CompletionResponse struct {
	Content      string
	Model        string
	FinishReason string
	Usage        Usage
}
