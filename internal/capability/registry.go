package capability

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind identifies one of the closed set of research capabilities.
type Kind string

const (
	Research         Kind = "research"
	Analysis         Kind = "analysis"
	Writing          Kind = "writing"
	Discovery        Kind = "discovery"
	ContractAnalysis Kind = "contract_analysis"
)

// Kinds is the full closed set. Selection output outside this set is a
// validation error, never a silent pass-through.
func Kinds() []Kind {
	return []Kind{Research, Analysis, Writing, Discovery, ContractAnalysis}
}

// Valid reports whether k names a known capability.
func (k Kind) Valid() bool {
	switch k {
	case Research, Analysis, Writing, Discovery, ContractAnalysis:
		return true
	}
	return false
}

// Input carries everything a capability needs to run one task.
type Input struct {
	PlanID   string
	MatterID string
	Query    string
	Intent   string
	Depth    string
	// Matter facts merged with caller-supplied overrides, rendered into
	// prompts so every capability works with the same background.
	Context map[string]string
	// Results of already-completed dependency tasks, keyed by capability.
	DependencyResults map[Kind]Result
}

// Result is the outcome of one capability execution.
type Result struct {
	Capability Kind          `json:"capability"`
	Summary    string        `json:"summary"`
	Sources    []string      `json:"sources,omitempty"`
	Cost       float64       `json:"cost"`
	TokensUsed int64         `json:"tokens_used"`
	Duration   time.Duration `json:"duration"`
}

// Capability is an executable unit the orchestration engine schedules.
type Capability interface {
	Kind() Kind
	Execute(ctx context.Context, input Input) (Result, error)
}

// Card is registry metadata describing a capability implementation.
type Card struct {
	Name         string                 `json:"name"`
	Version      string                 `json:"version"`
	Description  string                 `json:"description"`
	Kind         Kind                   `json:"kind"`
	InputSchema  map[string]interface{} `json:"input_schema"`
	OutputSchema map[string]interface{} `json:"output_schema"`
	CostEstimate float64                `json:"cost_estimate"`
	SideEffects  []string               `json:"side_effects"`
	Checksum     string                 `json:"checksum"`
	Signature    string                 `json:"signature"`
}

// DefaultCards returns built-in capability Cards with minimal schemas.
func DefaultCards() []Card {
	empty := func() map[string]interface{} {
		return map[string]interface{}{
			"$schema": "https://json-schema.org/draft/2020-12/schema",
			"type":    "object",
		}
	}
	return []Card{
		{Name: "research", Version: "v1", Description: "Gathers and reads sources for a matter", Kind: Research, InputSchema: empty(), OutputSchema: empty(), SideEffects: []string{"network"}},
		{Name: "analysis", Version: "v1", Description: "Analyzes gathered material", Kind: Analysis, InputSchema: empty(), OutputSchema: empty()},
		{Name: "writing", Version: "v1", Description: "Drafts the final work product", Kind: Writing, InputSchema: empty(), OutputSchema: empty()},
		{Name: "discovery", Version: "v1", Description: "Surveys a new area without prior context", Kind: Discovery, InputSchema: empty(), OutputSchema: empty(), SideEffects: []string{"network"}},
		{Name: "contract_analysis", Version: "v1", Description: "Reviews contract language and obligations", Kind: ContractAnalysis, InputSchema: empty(), OutputSchema: empty()},
	}
}

// Registry holds validated Cards and their executable implementations,
// keyed by capability kind.
type Registry struct {
	cards map[Kind]Card
	impls map[Kind]Capability
}

// ErrCapabilityMissing indicates a required capability is not registered.
var ErrCapabilityMissing = fmt.Errorf("required capability missing")

// NewRegistry validates Cards and ensures required capabilities exist.
// When required is empty, the full closed set is required.
func NewRegistry(cards []Card, signingSecret string, required []Kind) (*Registry, error) {
	reg := &Registry{cards: make(map[Kind]Card), impls: make(map[Kind]Capability)}
	for _, c := range cards {
		if err := ValidateCard(c); err != nil {
			return nil, fmt.Errorf("capability %s@%s invalid: %w", c.Name, c.Version, err)
		}
		if err := validateSignature(c, signingSecret); err != nil {
			return nil, fmt.Errorf("capability %s@%s signature invalid: %w", c.Name, c.Version, err)
		}
		existing, ok := reg.cards[c.Kind]
		if !ok || versionGreater(c.Version, existing.Version) {
			reg.cards[c.Kind] = c
		}
	}
	if len(required) == 0 {
		required = Kinds()
	}
	for _, r := range required {
		if _, ok := reg.cards[r]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrCapabilityMissing, r)
		}
	}
	return reg, nil
}

// Bind attaches an executable implementation to a registered kind.
func (r *Registry) Bind(impl Capability) error {
	kind := impl.Kind()
	if _, ok := r.cards[kind]; !ok {
		return fmt.Errorf("cannot bind unregistered capability: %s", kind)
	}
	r.impls[kind] = impl
	return nil
}

// Card returns the Card for a capability kind.
func (r *Registry) Card(kind Kind) (Card, bool) {
	if r == nil {
		return Card{}, false
	}
	c, ok := r.cards[kind]
	return c, ok
}

// Implementation returns the bound executable for a kind.
func (r *Registry) Implementation(kind Kind) (Capability, bool) {
	if r == nil {
		return nil, false
	}
	impl, ok := r.impls[kind]
	return impl, ok
}

// ValidateCard checks structural requirements on a Card.
func ValidateCard(c Card) error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(c.Version) == "" {
		return fmt.Errorf("version is required")
	}
	if !c.Kind.Valid() {
		return fmt.Errorf("unknown capability kind: %s", c.Kind)
	}
	for _, schema := range []map[string]interface{}{c.InputSchema, c.OutputSchema} {
		if schema == nil {
			return fmt.Errorf("schema is required")
		}
		if ty, ok := schema["type"]; ok {
			if _, isStr := ty.(string); !isStr {
				return fmt.Errorf("schema type must be a string")
			}
		}
	}
	return nil
}

// ComputeChecksum returns a deterministic hash of the Card payload
// (excluding checksum and signature fields).
func ComputeChecksum(c Card) (string, error) {
	payload := map[string]interface{}{
		"name":          c.Name,
		"version":       c.Version,
		"description":   c.Description,
		"kind":          c.Kind,
		"input_schema":  c.InputSchema,
		"output_schema": c.OutputSchema,
		"cost_estimate": c.CostEstimate,
		"side_effects":  c.SideEffects,
	}
	normalized, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyChecksum recomputes the checksum and compares it to the stored one.
func VerifyChecksum(c Card) error {
	expected, err := ComputeChecksum(c)
	if err != nil {
		return err
	}
	if expected != c.Checksum {
		return fmt.Errorf("checksum mismatch")
	}
	return nil
}

// SignCard computes an HMAC signature using the signing secret.
func SignCard(c Card, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("signing secret is empty")
	}
	checksum, err := ComputeChecksum(c)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(checksum))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func validateSignature(c Card, secret string) error {
	if secret == "" {
		return nil
	}
	expected, err := SignCard(c, secret)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(c.Signature)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func versionGreater(a, b string) bool {
	if a == b {
		return false
	}
	return compareParts(splitVersion(a), splitVersion(b)) > 0
}

func splitVersion(v string) []int {
	parts := strings.Split(strings.TrimPrefix(v, "v"), ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		fmt.Sscanf(p, "%d", &out[i])
	}
	return out
}

func compareParts(a, b []int) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ai, bi := 0, 0
		if i < len(a) {
			ai = a[i]
		}
		if i < len(b) {
			bi = b[i]
		}
		if ai > bi {
			return 1
		}
		if ai < bi {
			return -1
		}
	}
	return 0
}
