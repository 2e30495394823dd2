package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ContentArtifact is a tagged union over the structured content families.
// Exactly one of the payload pointers is non-nil, matching Type. Refinement
// replaces the whole artifact; nothing patches a payload in place.
type ContentArtifact struct {
	Type      ContentType   `json:"type"`
	Quiz      *Quiz         `json:"quiz,omitempty"`
	Tutorial  *Tutorial     `json:"tutorial,omitempty"`
	Flashcard *FlashcardSet `json:"flashcard,omitempty"`
}

// Quiz is a set of multiple-choice questions.
type Quiz struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Questions   []QuizQuestion `json:"questions"`
}

type QuizQuestion struct {
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	Answer      int      `json:"answer"` // index into Options
	Explanation string   `json:"explanation,omitempty"`
}

// Tutorial is an ordered sequence of teaching sections.
type Tutorial struct {
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Sections    []TutorialSection `json:"sections"`
}

type TutorialSection struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

// FlashcardSet is a deck of front/back cards.
type FlashcardSet struct {
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Cards       []Flashcard `json:"cards"`
}

type Flashcard struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

// ParseArtifact decodes the LLM's JSON for the given content type and
// validates it. Decode failures and validation failures are both returned
// as *ValidationError so the classifier sees them by class, not message.
func ParseArtifact(contentType ContentType, raw string) (*ContentArtifact, error) {
	jsonStr := extractFirstJSON(raw)
	if jsonStr == "" {
		return nil, &ValidationError{Msg: "no JSON object found in model output"}
	}

	artifact := &ContentArtifact{Type: contentType}
	var err error
	switch contentType {
	case ContentQuiz:
		var q Quiz
		err = json.Unmarshal([]byte(jsonStr), &q)
		artifact.Quiz = &q
	case ContentTutorial:
		var t Tutorial
		err = json.Unmarshal([]byte(jsonStr), &t)
		artifact.Tutorial = &t
	case ContentFlashcard:
		var f FlashcardSet
		err = json.Unmarshal([]byte(jsonStr), &f)
		artifact.Flashcard = &f
	default:
		return nil, &ValidationError{Msg: fmt.Sprintf("unknown content type: %s", contentType)}
	}
	if err != nil {
		return nil, &ValidationError{Msg: fmt.Sprintf("decoding %s artifact: %v", contentType, err)}
	}
	if err := artifact.Validate(); err != nil {
		return nil, err
	}
	return artifact, nil
}

// Validate checks structural requirements for the artifact's type.
func (a *ContentArtifact) Validate() error {
	var errs []string
	switch a.Type {
	case ContentQuiz:
		if a.Quiz == nil {
			return &ValidationError{Msg: "quiz artifact has no quiz payload"}
		}
		if strings.TrimSpace(a.Quiz.Title) == "" {
			errs = append(errs, "quiz title is empty")
		}
		if len(a.Quiz.Questions) == 0 {
			errs = append(errs, "quiz has no questions")
		}
		for i, q := range a.Quiz.Questions {
			if strings.TrimSpace(q.Question) == "" {
				errs = append(errs, fmt.Sprintf("question %d is empty", i+1))
			}
			if len(q.Options) < 2 {
				errs = append(errs, fmt.Sprintf("question %d has fewer than 2 options", i+1))
			}
			if q.Answer < 0 || q.Answer >= len(q.Options) {
				errs = append(errs, fmt.Sprintf("question %d answer index out of range", i+1))
			}
		}
	case ContentTutorial:
		if a.Tutorial == nil {
			return &ValidationError{Msg: "tutorial artifact has no tutorial payload"}
		}
		if strings.TrimSpace(a.Tutorial.Title) == "" {
			errs = append(errs, "tutorial title is empty")
		}
		if len(a.Tutorial.Sections) == 0 {
			errs = append(errs, "tutorial has no sections")
		}
		for i, s := range a.Tutorial.Sections {
			if strings.TrimSpace(s.Heading) == "" {
				errs = append(errs, fmt.Sprintf("section %d heading is empty", i+1))
			}
			if strings.TrimSpace(s.Body) == "" {
				errs = append(errs, fmt.Sprintf("section %d body is empty", i+1))
			}
		}
	case ContentFlashcard:
		if a.Flashcard == nil {
			return &ValidationError{Msg: "flashcard artifact has no flashcard payload"}
		}
		if strings.TrimSpace(a.Flashcard.Title) == "" {
			errs = append(errs, "flashcard set title is empty")
		}
		if len(a.Flashcard.Cards) == 0 {
			errs = append(errs, "flashcard set has no cards")
		}
		for i, c := range a.Flashcard.Cards {
			if strings.TrimSpace(c.Front) == "" || strings.TrimSpace(c.Back) == "" {
				errs = append(errs, fmt.Sprintf("card %d has an empty side", i+1))
			}
		}
	default:
		return &ValidationError{Msg: fmt.Sprintf("unknown artifact type: %s", a.Type)}
	}
	if len(errs) > 0 {
		return &ValidationError{Msg: "Validation failed: " + strings.Join(errs, "; ")}
	}
	return nil
}

// ItemCount reports how many top-level items the artifact carries.
func (a *ContentArtifact) ItemCount() int {
	switch a.Type {
	case ContentQuiz:
		if a.Quiz != nil {
			return len(a.Quiz.Questions)
		}
	case ContentTutorial:
		if a.Tutorial != nil {
			return len(a.Tutorial.Sections)
		}
	case ContentFlashcard:
		if a.Flashcard != nil {
			return len(a.Flashcard.Cards)
		}
	}
	return 0
}
