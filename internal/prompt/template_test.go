package prompt

import (
	"strings"
	"testing"
)

func TestRender_SimpleVars(t *testing.T) {
	tmpl := "Implement {{story_id}} on attempt {{attempt}}."
	vars := Vars{
		"story_id": "story-001",
		"attempt":  "2",
	}

	result, err := Render(tmpl, vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "Implement story-001 on attempt 2."
	if result != expected {
		t.Errorf("expected %q, got %q", expected, result)
	}
}

func TestRender_MissingVar(t *testing.T) {
	tmpl := "Story {{story_id}}, file {{story_file}}."
	vars := Vars{
		"story_id": "story-001",
	}

	_, err := Render(tmpl, vars)
	if err == nil {
		t.Fatal("expected error for missing variable")
	}
	if !strings.Contains(err.Error(), "story_file") {
		t.Errorf("error should mention missing variable, got: %v", err)
	}
}

func TestRender_MultipleMissing(t *testing.T) {
	tmpl := "{{a}} and {{b}} and {{c}}"
	vars := Vars{}

	_, err := Render(tmpl, vars)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "a") || !strings.Contains(err.Error(), "b") || !strings.Contains(err.Error(), "c") {
		t.Errorf("error should mention all missing vars, got: %v", err)
	}
}

func TestRender_ConditionalBlock_Present(t *testing.T) {
	tmpl := "Start.{{#if hints}}\n{{hints}}\n{{/if}}End."
	vars := Vars{
		"hints": "Known issues from previous attempts",
	}

	result, err := Render(tmpl, vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result, "Known issues") {
		t.Errorf("expected conditional block to be included, got: %q", result)
	}
}

func TestRender_ConditionalBlock_Absent(t *testing.T) {
	tmpl := "Start.{{#if hints}}\n{{hints}}\n{{/if}}End."
	vars := Vars{}

	result, err := Render(tmpl, vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "Start.End." {
		t.Errorf("expected 'Start.End.', got: %q", result)
	}
}

func TestRender_ConditionalBlock_EmptyString(t *testing.T) {
	tmpl := "{{#if task}}task: {{task}}{{/if}}"
	vars := Vars{
		"task": "",
	}

	result, err := Render(tmpl, vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "" {
		t.Errorf("expected empty string for empty var, got: %q", result)
	}
}

func TestRender_MultipleConditionals(t *testing.T) {
	tmpl := "{{#if a}}A={{a}}{{/if}} {{#if b}}B={{b}}{{/if}}"
	vars := Vars{
		"a": "yes",
	}

	result, err := Render(tmpl, vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result, "A=yes") {
		t.Errorf("expected A block, got: %q", result)
	}
	if strings.Contains(result, "B=") {
		t.Errorf("expected B block excluded, got: %q", result)
	}
}

func TestRender_NestedConditionals(t *testing.T) {
	tmpl := "{{#if a}}outer {{#if b}}inner{{/if}} end{{/if}}"
	vars := Vars{"a": "yes", "b": "yes"}

	result, err := Render(tmpl, vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "outer inner end" {
		t.Errorf("expected %q, got %q", "outer inner end", result)
	}
}

func TestRender_NestedConditionals_OuterAbsent(t *testing.T) {
	tmpl := "START{{#if a}}outer {{#if b}}inner{{/if}} end{{/if}}FINISH"
	vars := Vars{}

	result, err := Render(tmpl, vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "STARTFINISH" {
		t.Errorf("expected %q, got %q", "STARTFINISH", result)
	}
}

func TestRender_UnclosedConditional(t *testing.T) {
	tmpl := "START{{#if x}}content{{y}}MORE"
	vars := Vars{"x": "yes", "y": "val"}

	_, err := Render(tmpl, vars)
	if err == nil {
		t.Fatal("expected error for unclosed conditional block")
	}
	if !strings.Contains(err.Error(), "unclosed") {
		t.Errorf("expected unclosed error, got: %v", err)
	}
}

func TestRender_DanglingEndTag(t *testing.T) {
	tmpl := "content{{/if}}more"

	_, err := Render(tmpl, Vars{})
	if err == nil {
		t.Fatal("expected error for dangling end tag")
	}
}

func TestRender_NoVars(t *testing.T) {
	tmpl := "No variables here."
	result, err := Render(tmpl, Vars{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != tmpl {
		t.Errorf("expected %q, got %q", tmpl, result)
	}
}

// Values are inserted literally, never re-expanded. Agent output fed back
// through hints must not be able to inject template syntax.
func TestRender_VarValueContainsTemplateSyntax(t *testing.T) {
	tmpl := "Hello {{name}}"
	vars := Vars{"name": "{{evil}}"}

	result, err := Render(tmpl, vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "Hello {{evil}}" {
		t.Errorf("expected literal insertion, got %q", result)
	}
}

func TestRender_VarValueReferencesAnotherVar(t *testing.T) {
	tmpl := "{{a}} and {{b}}"
	vars := Vars{"a": "{{b}}", "b": "hello"}

	result, err := Render(tmpl, vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "{{b}} and hello" {
		t.Errorf("expected '{{b}} and hello', got %q", result)
	}
}
