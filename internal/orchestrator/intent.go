package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/counselgraph/counselgraph/config"
	"github.com/counselgraph/counselgraph/provider"
)

// Classifier turns a free-text request into a structured Intent. It is
// model-backed with a deterministic keyword fallback so classification
// never fails a request.
type Classifier struct {
	cfg      *config.Config
	provider provider.Provider
	logger   *log.Logger
}

func NewClassifier(cfg *config.Config, prov provider.Provider) *Classifier {
	return &Classifier{
		cfg:      cfg,
		provider: prov,
		logger:   log.New(log.Writer(), "[INTENT] ", log.LstdFlags),
	}
}

func (c *Classifier) Classify(ctx context.Context, query string) Intent {
	if c.provider != nil {
		intent, err := c.classifyWithModel(ctx, query)
		if err == nil {
			return intent
		}
		c.logger.Printf("model classification failed, using keyword fallback: %v", err)
	}
	return classifyByKeywords(query)
}

func (c *Classifier) classifyWithModel(ctx context.Context, query string) (Intent, error) {
	prompt := fmt.Sprintf(`You classify legal research requests. Respond with JSON only:
{
  "primary_action": "research|writing|analysis|discovery|contract_analysis|unknown",
  "document_types": ["..."],
  "analysis_depth": "summary|standard|comprehensive",
  "urgency": "low|normal|high",
  "complexity": "low|medium|high"
}

Request: %s`, query)

	model := c.cfg.LLM.Routing.Classification
	if model == "" {
		model = c.cfg.LLM.Routing.Fallback
	}
	response, err := c.provider.Generate(ctx, prompt, model, map[string]interface{}{
		"temperature": 0.1,
		"max_tokens":  300,
	})
	if err != nil {
		return Intent{}, fmt.Errorf("failed to classify intent: %w", err)
	}

	jsonStr := extractJSON(response)
	if jsonStr == "" {
		return Intent{}, fmt.Errorf("no JSON found in classification response")
	}
	var intent Intent
	if err := json.Unmarshal([]byte(jsonStr), &intent); err != nil {
		return Intent{}, fmt.Errorf("failed to parse classification response: %w", err)
	}
	normalizeIntent(&intent)
	return intent, nil
}

func normalizeIntent(intent *Intent) {
	switch intent.PrimaryAction {
	case "research", "writing", "analysis", "discovery", "contract_analysis":
	default:
		intent.PrimaryAction = "unknown"
	}
	switch intent.AnalysisDepth {
	case "summary", "standard", "comprehensive":
	default:
		intent.AnalysisDepth = "standard"
	}
	switch intent.Urgency {
	case "low", "normal", "high":
	default:
		intent.Urgency = "normal"
	}
}

// classifyByKeywords is the deterministic fallback. It inspects the query
// for action verbs, document-type nouns, urgency and depth adjectives.
func classifyByKeywords(query string) Intent {
	q := strings.ToLower(query)
	intent := Intent{
		PrimaryAction: "unknown",
		AnalysisDepth: "standard",
		Urgency:       "normal",
		Complexity:    "medium",
	}

	switch {
	case containsAny(q, "contract", "agreement", "clause", "indemnif", "warranty", "nda"):
		intent.PrimaryAction = "contract_analysis"
	case containsAny(q, "draft", "write", "memo", "letter", "brief"):
		intent.PrimaryAction = "writing"
	case containsAny(q, "analyze", "analysis", "assess", "evaluate", "compare"):
		intent.PrimaryAction = "analysis"
	case containsAny(q, "find out", "explore", "overview", "what is", "landscape"):
		intent.PrimaryAction = "discovery"
	case containsAny(q, "research", "case law", "precedent", "statute", "regulation", "look up"):
		intent.PrimaryAction = "research"
	}

	for _, dt := range []string{"contract", "memo", "brief", "statute", "regulation", "filing", "policy"} {
		if strings.Contains(q, dt) {
			intent.DocumentTypes = append(intent.DocumentTypes, dt)
		}
	}

	if containsAny(q, "urgent", "asap", "immediately", "today", "deadline") {
		intent.Urgency = "high"
	} else if containsAny(q, "no rush", "whenever", "eventually", "low priority") {
		intent.Urgency = "low"
	}

	if containsAny(q, "brief summary", "summary", "quick", "short", "tl;dr") {
		intent.AnalysisDepth = "summary"
	} else if containsAny(q, "comprehensive", "thorough", "in depth", "in-depth", "detailed", "exhaustive") {
		intent.AnalysisDepth = "comprehensive"
	}

	return intent
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// extractJSON returns the first balanced JSON object in a model response.
func extractJSON(response string) string {
	depth := 0
	start := -1
	for i, ch := range response {
		if ch == '{' {
			if depth == 0 {
				start = i
			}
			depth++
		} else if ch == '}' {
			if depth > 0 {
				depth--
			}
			if depth == 0 && start != -1 {
				return response[start : i+1]
			}
		}
	}
	return ""
}
