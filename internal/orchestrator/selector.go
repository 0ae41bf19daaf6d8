package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/counselgraph/counselgraph/config"
	"github.com/counselgraph/counselgraph/internal/capability"
	"github.com/counselgraph/counselgraph/provider"
)

// BaselineCapability is selected when nothing else survives validation.
const BaselineCapability = capability.Research

// Selector maps an Intent to an ordered, deduplicated capability list.
// Model-backed with a fixed decision table as the deterministic fallback.
type Selector struct {
	cfg      *config.Config
	provider provider.Provider
	logger   *log.Logger
}

func NewSelector(cfg *config.Config, prov provider.Provider) *Selector {
	return &Selector{
		cfg:      cfg,
		provider: prov,
		logger:   log.New(log.Writer(), "[SELECT] ", log.LstdFlags),
	}
}

func (s *Selector) Select(ctx context.Context, query string, intent Intent) []capability.Kind {
	if s.provider != nil {
		kinds, err := s.selectWithModel(ctx, query, intent)
		if err == nil && len(kinds) > 0 {
			return kinds
		}
		if err != nil {
			s.logger.Printf("model selection failed, using decision table: %v", err)
		}
	}
	return selectByDecisionTable(intent)
}

func (s *Selector) selectWithModel(ctx context.Context, query string, intent Intent) ([]capability.Kind, error) {
	prompt := fmt.Sprintf(`Choose the capabilities needed for this legal request.
Allowed identifiers: research, analysis, writing, discovery, contract_analysis.
Respond with JSON only: {"capabilities": ["..."]}

Primary action: %s
Request: %s`, intent.PrimaryAction, query)

	model := s.cfg.LLM.Routing.Selection
	if model == "" {
		model = s.cfg.LLM.Routing.Fallback
	}
	response, err := s.provider.Generate(ctx, prompt, model, map[string]interface{}{
		"temperature": 0.1,
		"max_tokens":  200,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to select capabilities: %w", err)
	}

	jsonStr := extractJSON(response)
	if jsonStr == "" {
		return nil, fmt.Errorf("no JSON found in selection response")
	}
	var raw struct {
		Capabilities []string `json:"capabilities"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse selection response: %w", err)
	}

	// Identifiers outside the closed set are discarded, not errors.
	kinds := FilterKnown(raw.Capabilities)
	if len(kinds) == 0 {
		kinds = []capability.Kind{BaselineCapability}
	}
	return kinds, nil
}

// FilterKnown keeps only valid capability identifiers, deduplicated in
// first-seen order.
func FilterKnown(ids []string) []capability.Kind {
	seen := make(map[capability.Kind]bool)
	var out []capability.Kind
	for _, id := range ids {
		k := capability.Kind(strings.TrimSpace(strings.ToLower(id)))
		if !k.Valid() || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// selectByDecisionTable is the deterministic fallback keyed on the
// intent's primary action.
func selectByDecisionTable(intent Intent) []capability.Kind {
	switch intent.PrimaryAction {
	case "research":
		return []capability.Kind{capability.Research, capability.Analysis}
	case "writing":
		return []capability.Kind{capability.Research, capability.Analysis, capability.Writing}
	case "analysis":
		return []capability.Kind{capability.Research, capability.Analysis}
	case "discovery":
		return []capability.Kind{capability.Discovery, capability.Research}
	case "contract_analysis":
		return []capability.Kind{capability.Research, capability.ContractAnalysis}
	default:
		return []capability.Kind{BaselineCapability}
	}
}
