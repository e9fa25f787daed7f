package llm

import (
	"errors"
	"testing"
)

type gradeOut struct {
	Grade string `json:"grade"`
}

func (g *gradeOut) Validate() error {
	if g.Grade == "" {
		return errors.New("grade missing")
	}
	return nil
}

func TestStrictJSONParsesCleanResponse(t *testing.T) {
	var out gradeOut
	name, err := JSONChain().Parse(`{"grade":"High"}`, &out)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if name != "strict_json" || out.Grade != "High" {
		t.Fatalf("unexpected parser=%s out=%+v", name, out)
	}
}

func TestCleanupJSONStripsFencesAndProse(t *testing.T) {
	raw := "Here is the result:\n```json\n{\"grade\":\"Low\",\"note\":\"uses {braces} in text\"}\n```\nThanks!"
	var out gradeOut
	name, err := JSONChain().Parse(raw, &out)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if name != "cleanup_json" || out.Grade != "Low" {
		t.Fatalf("unexpected parser=%s out=%+v", name, out)
	}
}

func TestCleanupJSONTruncatesAfterBalancedBrace(t *testing.T) {
	got, err := ExtractJSON(`{"drugs":[{"name":"a"}]} trailing } garbage`)
	if err != nil {
		t.Fatalf("ExtractJSON: %v", err)
	}
	if got != `{"drugs":[{"name":"a"}]}` {
		t.Fatalf("unexpected extraction %q", got)
	}
}

func TestExtractJSONRejectsUnbalanced(t *testing.T) {
	if _, err := ExtractJSON(`{"grade": "High"`); err == nil {
		t.Fatalf("expected error for unbalanced json")
	}
	if _, err := ExtractJSON("no json here"); err == nil {
		t.Fatalf("expected error when no json present")
	}
}

func TestParseChainFallsThroughOnValidationFailure(t *testing.T) {
	fallback := NewParser("keyword", func(raw string, out any) error {
		out.(*gradeOut).Grade = "Moderate"
		return nil
	})
	var out gradeOut
	name, err := append(JSONChain(), fallback).Parse(`{"other":1}`, &out)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if name != "keyword" || out.Grade != "Moderate" {
		t.Fatalf("expected keyword fallback, got parser=%s out=%+v", name, out)
	}
}

func TestParseChainReportsExhaustion(t *testing.T) {
	var out gradeOut
	_, err := JSONChain().Parse("not json at all", &out)
	if !errors.Is(err, ErrNoParse) {
		t.Fatalf("expected ErrNoParse, got %v", err)
	}
}
