package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/counselgraph/counselgraph/config"
	"github.com/counselgraph/counselgraph/internal/capability"
	"github.com/counselgraph/counselgraph/internal/retrieval"
	"github.com/counselgraph/counselgraph/provider"
)

// ResearchCapability gathers external evidence through the retrieval
// pipeline's collector and reranker, then condenses it.
type ResearchCapability struct {
	cfg       *config.Config
	provider  provider.Provider
	collector *retrieval.Collector
	reranker  *retrieval.Reranker
}

func NewResearchCapability(cfg *config.Config, prov provider.Provider, collector *retrieval.Collector, reranker *retrieval.Reranker) *ResearchCapability {
	return &ResearchCapability{cfg: cfg, provider: prov, collector: collector, reranker: reranker}
}

func (r *ResearchCapability) Kind() capability.Kind { return capability.Research }

func (r *ResearchCapability) Execute(ctx context.Context, input capability.Input) (capability.Result, error) {
	collected, err := r.collector.RephraseAndCollect(ctx, nil, input.Query)
	if err != nil {
		return capability.Result{}, fmt.Errorf("research collection failed: %w", err)
	}

	docs := collected.Documents
	if len(docs) > 0 {
		mode := retrieval.Mode(r.cfg.Retrieval.Mode)
		if mode == "" {
			mode = retrieval.ModeBalanced
		}
		q := collected.EffectiveQuery
		if q == "" {
			q = input.Query
		}
		docs, err = r.reranker.Rerank(ctx, q, docs, nil, mode)
		if err != nil {
			return capability.Result{}, fmt.Errorf("research rerank failed: %w", err)
		}
	}

	var sources []string
	var b strings.Builder
	b.WriteString("Summarize the key findings from these sources for the request below. Cite sources as [n].\n\n")
	writeSubjectContext(&b, input.Context)
	for i, d := range docs {
		sources = append(sources, d.Metadata.SourceURL)
		fmt.Fprintf(&b, "[%d] %s (%s)\n%s\n\n", i+1, d.Metadata.Title, d.Metadata.SourceURL, truncateText(d.Content, 1500))
	}
	fmt.Fprintf(&b, "Request: %s", input.Query)

	summary, err := r.generate(ctx, b.String())
	if err != nil {
		return capability.Result{}, fmt.Errorf("research summary failed: %w", err)
	}
	return capability.Result{Capability: capability.Research, Summary: summary, Sources: sources}, nil
}

func (r *ResearchCapability) generate(ctx context.Context, prompt string) (string, error) {
	model := r.cfg.LLM.Routing.Generation
	if model == "" {
		model = r.cfg.LLM.Routing.Fallback
	}
	return r.provider.Generate(ctx, prompt, model, map[string]interface{}{"temperature": 0.3})
}

// PromptCapability is the shared implementation for capabilities whose
// work is a single prompted generation over the query plus dependency
// outputs.
type PromptCapability struct {
	kind     capability.Kind
	template string
	cfg      *config.Config
	provider provider.Provider
}

func NewPromptCapability(kind capability.Kind, template string, cfg *config.Config, prov provider.Provider) *PromptCapability {
	return &PromptCapability{kind: kind, template: template, cfg: cfg, provider: prov}
}

func (p *PromptCapability) Kind() capability.Kind { return p.kind }

func (p *PromptCapability) Execute(ctx context.Context, input capability.Input) (capability.Result, error) {
	var b strings.Builder
	b.WriteString(p.template)
	b.WriteString("\n\n")
	writeSubjectContext(&b, input.Context)
	for kind, res := range input.DependencyResults {
		fmt.Fprintf(&b, "Output of %s:\n%s\n\n", kind, truncateText(res.Summary, 4000))
	}
	fmt.Fprintf(&b, "Matter: %s\nRequest: %s", input.MatterID, input.Query)

	model := p.cfg.LLM.Routing.Generation
	if model == "" {
		model = p.cfg.LLM.Routing.Fallback
	}
	summary, err := p.provider.Generate(ctx, b.String(), model, map[string]interface{}{"temperature": 0.3})
	if err != nil {
		return capability.Result{}, fmt.Errorf("%s failed: %w", p.kind, err)
	}

	var sources []string
	for _, res := range input.DependencyResults {
		sources = append(sources, res.Sources...)
	}
	return capability.Result{Capability: p.kind, Summary: summary, Sources: sources}, nil
}

// DefaultCapabilities builds the standard implementation set for the
// registry.
func DefaultCapabilities(cfg *config.Config, prov provider.Provider, collector *retrieval.Collector, reranker *retrieval.Reranker) []capability.Capability {
	return []capability.Capability{
		NewResearchCapability(cfg, prov, collector, reranker),
		NewPromptCapability(capability.Analysis,
			"Analyze the research output below for the request. Identify the governing rules, how they apply, and open risks.", cfg, prov),
		NewPromptCapability(capability.Writing,
			"Draft the requested work product using the research and analysis below. Use a formal register and cite sources inline.", cfg, prov),
		NewPromptCapability(capability.Discovery,
			"Survey this area from scratch. Map the main issues, key authorities and who the stakeholders are.", cfg, prov),
		NewPromptCapability(capability.ContractAnalysis,
			"Review the contract language relevant to this request. Flag obligations, carve-outs and unusual terms.", cfg, prov),
	}
}

// writeSubjectContext renders the matter's background facts in a stable
// key order so identical inputs produce identical prompts.
func writeSubjectContext(b *strings.Builder, ctx map[string]string) {
	if len(ctx) == 0 {
		return
	}
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteString("Matter context:\n")
	for _, k := range keys {
		fmt.Fprintf(b, "- %s: %s\n", k, ctx[k])
	}
	b.WriteString("\n")
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
