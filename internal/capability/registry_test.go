package capability

import (
	"context"
	"testing"
)

func minimalSchema() map[string]interface{} {
	return map[string]interface{}{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "object",
	}
}

func mustSign(t *testing.T, c Card, secret string) Card {
	t.Helper()
	if c.InputSchema == nil {
		c.InputSchema = minimalSchema()
	}
	if c.OutputSchema == nil {
		c.OutputSchema = minimalSchema()
	}
	checksum, err := ComputeChecksum(c)
	if err != nil {
		t.Fatalf("ComputeChecksum: %v", err)
	}
	c.Checksum = checksum
	sig, err := SignCard(c, secret)
	if err != nil {
		t.Fatalf("SignCard: %v", err)
	}
	c.Signature = sig
	return c
}

func TestNewRegistryRejectsInvalidSignature(t *testing.T) {
	secret := "top-secret"
	c := Card{
		Name:         "analysis",
		Version:      "v1",
		Description:  "analysis capability",
		Kind:         Analysis,
		InputSchema:  minimalSchema(),
		OutputSchema: minimalSchema(),
	}
	checksum, err := ComputeChecksum(c)
	if err != nil {
		t.Fatalf("ComputeChecksum: %v", err)
	}
	c.Checksum = checksum
	c.Signature = "deadbeef"

	if _, err := NewRegistry([]Card{c}, secret, []Kind{Analysis}); err == nil {
		t.Fatalf("expected signature validation to fail")
	}
}

func TestNewRegistryEnforcesRequiredCapabilities(t *testing.T) {
	secret := "top-secret"
	research := mustSign(t, Card{
		Name:        "research",
		Version:     "v1",
		Kind:        Research,
		Description: "research capability",
	}, secret)

	if _, err := NewRegistry([]Card{research}, secret, []Kind{Research, Analysis}); err == nil {
		t.Fatalf("expected missing required capability to error")
	}
}

func TestNewRegistryRejectsUnknownKind(t *testing.T) {
	c := Card{
		Name:         "negotiation",
		Version:      "v1",
		Kind:         Kind("negotiation"),
		InputSchema:  minimalSchema(),
		OutputSchema: minimalSchema(),
	}
	if _, err := NewRegistry([]Card{c}, "", []Kind{Research}); err == nil {
		t.Fatalf("expected unknown kind to be rejected")
	}
}

func TestNewRegistryPrefersLatestVersionPerKind(t *testing.T) {
	secret := "top-secret"
	old := mustSign(t, Card{
		Name:    "research",
		Version: "v1",
		Kind:    Research,
	}, secret)
	newer := mustSign(t, Card{
		Name:    "research",
		Version: "v1.1",
		Kind:    Research,
	}, secret)

	reg, err := NewRegistry([]Card{old, newer}, secret, []Kind{Research})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	card, ok := reg.Card(Research)
	if !ok {
		t.Fatalf("expected research capability to exist")
	}
	if card.Version != "v1.1" {
		t.Fatalf("expected latest version, got %s", card.Version)
	}
}

func TestValidateCard(t *testing.T) {
	valid := Card{
		Name:         "analysis",
		Version:      "v1",
		Kind:         Analysis,
		Description:  "analysis capability",
		InputSchema:  minimalSchema(),
		OutputSchema: minimalSchema(),
		CostEstimate: 0.5,
	}
	if err := ValidateCard(valid); err != nil {
		t.Fatalf("expected valid card, got %v", err)
	}
	invalid := Card{
		Name:         "",
		Version:      "v1",
		Kind:         Analysis,
		InputSchema:  minimalSchema(),
		OutputSchema: minimalSchema(),
	}
	if err := ValidateCard(invalid); err == nil {
		t.Fatalf("expected validation failure for missing name")
	}
	badSchema := Card{
		Name:         "analysis",
		Version:      "v1",
		Kind:         Analysis,
		InputSchema:  map[string]interface{}{"type": 123},
		OutputSchema: minimalSchema(),
	}
	if err := ValidateCard(badSchema); err == nil {
		t.Fatalf("expected validation failure for invalid schema")
	}
}

func TestVerifyChecksum(t *testing.T) {
	card := Card{
		Name:         "analysis",
		Version:      "v1",
		Kind:         Analysis,
		InputSchema:  minimalSchema(),
		OutputSchema: minimalSchema(),
	}
	checksum, err := ComputeChecksum(card)
	if err != nil {
		t.Fatalf("ComputeChecksum: %v", err)
	}
	card.Checksum = checksum
	if err := VerifyChecksum(card); err != nil {
		t.Fatalf("expected checksum to validate, got %v", err)
	}
	card.Checksum = "deadbeef"
	if err := VerifyChecksum(card); err == nil {
		t.Fatalf("expected checksum mismatch error")
	}
}

type staticCapability struct {
	kind Kind
}

func (s staticCapability) Kind() Kind { return s.kind }
func (s staticCapability) Execute(_ context.Context, _ Input) (Result, error) {
	return Result{Capability: s.kind, Summary: "ok"}, nil
}

func TestBindRequiresRegisteredKind(t *testing.T) {
	reg, err := NewRegistry(DefaultCards(), "", nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if err := reg.Bind(staticCapability{kind: Research}); err != nil {
		t.Fatalf("Bind research: %v", err)
	}
	impl, ok := reg.Implementation(Research)
	if !ok {
		t.Fatalf("expected research implementation")
	}
	res, err := impl.Execute(context.Background(), Input{Query: "indemnification caps"})
	if err != nil || res.Capability != Research {
		t.Fatalf("unexpected execute result: %+v err=%v", res, err)
	}
}
