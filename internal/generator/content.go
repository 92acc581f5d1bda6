package generator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ContentType names a generatable item shape
type ContentType string

const (
	ContentQuiz         ContentType = "quiz"
	ContentPracticeTest ContentType = "practice_test"
	ContentStudyGuide   ContentType = "study_guide"
	ContentMnemonic     ContentType = "mnemonic"
	ContentConceptMap   ContentType = "concept_map"
)

// ContentTypes lists every supported type in display order
var ContentTypes = []ContentType{
	ContentQuiz,
	ContentPracticeTest,
	ContentStudyGuide,
	ContentMnemonic,
	ContentConceptMap,
}

// ParseContentType validates s
func ParseContentType(s string) (ContentType, error) {
	ct := ContentType(strings.TrimSpace(s))
	for _, known := range ContentTypes {
		if ct == known {
			return ct, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedType, s)
}

// QuizQuestion is one multiple-choice question
type QuizQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
	Explanation   string   `json:"explanation"`
}

func (q QuizQuestion) validate() error {
	if strings.TrimSpace(q.Question) == "" {
		return errors.New("question text is empty")
	}
	if len(q.Options) < 2 {
		return errors.New("question needs at least two options")
	}
	if q.CorrectAnswer < 0 || q.CorrectAnswer >= len(q.Options) {
		return fmt.Errorf("correctAnswer %d out of range", q.CorrectAnswer)
	}
	return nil
}

type Quiz struct {
	Questions []QuizQuestion `json:"questions"`
}

func (q *Quiz) validate() error {
	if len(q.Questions) == 0 {
		return errors.New("quiz has no questions")
	}
	for i, question := range q.Questions {
		if err := question.validate(); err != nil {
			return fmt.Errorf("question %d: %w", i, err)
		}
	}
	return nil
}

type PracticeQuestion struct {
	QuizQuestion
	Topic      string `json:"topic,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
}

type PracticeTest struct {
	Title            string             `json:"title"`
	ExamType         string             `json:"examType,omitempty"`
	TimeLimitMinutes int                `json:"timeLimitMinutes,omitempty"`
	Questions        []PracticeQuestion `json:"questions"`
}

func (p *PracticeTest) validate() error {
	if len(p.Questions) == 0 {
		return errors.New("practice test has no questions")
	}
	for i, question := range p.Questions {
		if err := question.validate(); err != nil {
			return fmt.Errorf("question %d: %w", i, err)
		}
	}
	return nil
}

type GuideSection struct {
	Heading string `json:"heading"`
	Content string `json:"content"`
}

type StudyGuide struct {
	Title     string         `json:"title"`
	Summary   string         `json:"summary"`
	KeyPoints []string       `json:"keyPoints"`
	Sections  []GuideSection `json:"sections"`
}

func (g *StudyGuide) validate() error {
	if strings.TrimSpace(g.Title) == "" {
		return errors.New("study guide has no title")
	}
	if len(g.Sections) == 0 && len(g.KeyPoints) == 0 {
		return errors.New("study guide is empty")
	}
	return nil
}

type Mnemonic struct {
	Concept     string `json:"concept"`
	Mnemonic    string `json:"mnemonic"`
	Explanation string `json:"explanation"`
}

type MnemonicSet struct {
	Mnemonics []Mnemonic `json:"mnemonics"`
}

func (m *MnemonicSet) validate() error {
	if len(m.Mnemonics) == 0 {
		return errors.New("no mnemonics")
	}
	for i, item := range m.Mnemonics {
		if strings.TrimSpace(item.Mnemonic) == "" {
			return fmt.Errorf("mnemonic %d is empty", i)
		}
	}
	return nil
}

type ConceptNode struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

type ConceptEdge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label,omitempty"`
}

type ConceptMap struct {
	CentralConcept string        `json:"centralConcept"`
	Nodes          []ConceptNode `json:"nodes"`
	Edges          []ConceptEdge `json:"edges"`
}

func (c *ConceptMap) validate() error {
	if len(c.Nodes) == 0 {
		return errors.New("concept map has no nodes")
	}
	ids := make(map[string]struct{}, len(c.Nodes))
	for _, n := range c.Nodes {
		ids[n.ID] = struct{}{}
	}
	for i, e := range c.Edges {
		_, okFrom := ids[e.From]
		_, okTo := ids[e.To]
		if !okFrom || !okTo {
			return fmt.Errorf("edge %d references an unknown node", i)
		}
	}
	return nil
}

var listKeys = map[ContentType]string{
	ContentQuiz:         "questions",
	ContentPracticeTest: "questions",
	ContentMnemonic:     "mnemonics",
}

type validator interface {
	validate() error
}

func newShape(ct ContentType) (validator, error) {
	switch ct {
	case ContentQuiz:
		return &Quiz{}, nil
	case ContentPracticeTest:
		return &PracticeTest{}, nil
	case ContentStudyGuide:
		return &StudyGuide{}, nil
	case ContentMnemonic:
		return &MnemonicSet{}, nil
	case ContentConceptMap:
		return &ConceptMap{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, ct)
	}
}

// decodeContent parses model text into the typed shape for ct and returns it
// re-encoded, so only known fields are persisted.
func decodeContent(ct ContentType, text string) (json.RawMessage, error) {
	fragment, err := ExtractJSON(text)
	if err != nil {
		return nil, err
	}

	shape, err := newShape(ct)
	if err != nil {
		return nil, err
	}

	// a bare list is accepted for the list-shaped types
	if strings.HasPrefix(fragment, "[") {
		if key, ok := listKeys[ct]; ok {
			fragment = `{"` + key + `":` + fragment + `}`
		}
	}

	if err := json.Unmarshal([]byte(fragment), shape); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := shape.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	out, err := json.Marshal(shape)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s content: %w", ct, err)
	}
	return out, nil
}
