package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Fingerprint identifies a cacheable provider request.
type Fingerprint string

// String returns the hex digest.
func (f Fingerprint) String() string { return string(f) }

// Short returns the first 12 characters for logging.
func (f Fingerprint) Short() string {
	if len(f) > 12 {
		return string(f[:12])
	}
	return string(f)
}

// FingerprintInput holds every request property that affects a response.
type FingerprintInput struct {
	Model       string
	System      string
	Prompt      string
	Tools       []ToolDefinition
	Temperature float64
	MaxTokens   int
	JSONMode    bool

	// Salt separates requests that must never share a cached response,
	// such as the individual runs of a multi-run input.
	Salt string
}

// RunSalt returns the salt for a run that must not reuse cached responses.
func RunSalt(run int) string { return "run-" + strconv.Itoa(run) }

type canonicalTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type canonicalRequest struct {
	Model       string          `json:"model"`
	System      string          `json:"system"`
	Prompt      string          `json:"prompt"`
	Tools       []canonicalTool `json:"tools"`
	Temperature string          `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
	JSONMode    bool            `json:"json_mode"`
	Salt        string          `json:"salt"`
}

// ComputeFingerprint returns the SHA-256 of a canonical JSON encoding of in.
// Struct fields encode in declaration order and map keys are sorted by
// encoding/json, so equal inputs always hash equally. Temperature is
// encoded as its shortest exact decimal string. Tool parameters that have
// no JSON encoding, such as NaN, are an error.
func ComputeFingerprint(in FingerprintInput) (Fingerprint, error) {
	req := canonicalRequest{
		Model:       in.Model,
		System:      in.System,
		Prompt:      in.Prompt,
		Tools:       make([]canonicalTool, 0, len(in.Tools)),
		Temperature: strconv.FormatFloat(in.Temperature, 'g', -1, 64),
		MaxTokens:   in.MaxTokens,
		JSONMode:    in.JSONMode,
		Salt:        in.Salt,
	}
	for _, t := range in.Tools {
		req.Tools = append(req.Tools, canonicalTool{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}

	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode fingerprint input: %w", err)
	}
	sum := sha256.Sum256(data)
	return Fingerprint(hex.EncodeToString(sum[:])), nil
}

// CachedResponse is a stored provider response. It is never modified after
// being written.
type CachedResponse struct {
	Fingerprint Fingerprint `json:"fingerprint"`
	Model       string      `json:"model"`
	Text        string      `json:"text"`
	ToolCalls   []ToolCall  `json:"tool_calls,omitempty"`
	LatencyMS   int64       `json:"latency_ms"`
	Usage       Usage       `json:"usage"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Latency returns the original call latency.
func (c CachedResponse) Latency() time.Duration { return time.Duration(c.LatencyMS) * time.Millisecond }
