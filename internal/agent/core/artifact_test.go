package core

import (
	"errors"
	"strings"
	"testing"
)

func TestParseArtifact_QuizFromNoisyOutput(t *testing.T) {
	raw := "Here is your quiz:\n```json\n" + `{"title": "Go Basics", "questions": [{"question": "What does go vet do?", "options": ["Formats code", "Reports suspicious constructs"], "answer": 1}]}` + "\n```"
	artifact, err := ParseArtifact(ContentQuiz, raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if artifact.Type != ContentQuiz || artifact.Quiz == nil {
		t.Fatal("expected quiz payload")
	}
	if artifact.ItemCount() != 1 {
		t.Fatalf("expected 1 question, got %d", artifact.ItemCount())
	}
}

func TestParseArtifact_NoJSONIsValidationError(t *testing.T) {
	_, err := ParseArtifact(ContentQuiz, "I could not produce the quiz.")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
}

func TestParseArtifact_SchemaViolationsJoined(t *testing.T) {
	raw := `{"title": "", "questions": [{"question": "", "options": ["only one"], "answer": 3}]}`
	_, err := ParseArtifact(ContentQuiz, raw)
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	if !strings.HasPrefix(msg, "Validation failed: ") {
		t.Fatalf("expected joined validation message, got %q", msg)
	}
	for _, want := range []string{"title is empty", "fewer than 2 options", "answer index out of range"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q missing %q", msg, want)
		}
	}
}

func TestParseArtifact_Tutorial(t *testing.T) {
	raw := `{"title": "Channels", "sections": [{"heading": "Basics", "body": "A channel is a typed conduit."}]}`
	artifact, err := ParseArtifact(ContentTutorial, raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if artifact.Tutorial == nil || len(artifact.Tutorial.Sections) != 1 {
		t.Fatal("expected one tutorial section")
	}
}

func TestParseArtifact_FlashcardEmptySide(t *testing.T) {
	raw := `{"title": "Deck", "cards": [{"front": "goroutine", "back": ""}]}`
	_, err := ParseArtifact(ContentFlashcard, raw)
	if err == nil || !strings.Contains(err.Error(), "empty side") {
		t.Fatalf("expected empty side error, got %v", err)
	}
}

func TestValidate_PayloadTypeMismatch(t *testing.T) {
	a := &ContentArtifact{Type: ContentQuiz}
	if err := a.Validate(); err == nil {
		t.Fatal("expected error for quiz artifact without quiz payload")
	}
}

func TestExtractFirstJSON(t *testing.T) {
	cases := []struct{ in, want string }{
		{`prefix {"a": 1} suffix`, `{"a": 1}`},
		{`{"a": {"b": "}"}}`, `{"a": {"b": "}"}}`},
		{`{"a": "escaped \" brace }"}`, `{"a": "escaped \" brace }"}`},
		{`no object here`, ``},
		{`{"unterminated": `, ``},
	}
	for _, c := range cases {
		if got := extractFirstJSON(c.in); got != c.want {
			t.Fatalf("extractFirstJSON(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
