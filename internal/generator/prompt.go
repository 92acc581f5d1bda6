package generator

import (
	"fmt"
	"strings"

	"github.com/cuongbtq/tutor-be/internal/llm"
)

const systemPrompt = "You are an expert tutor who writes accurate, exam-ready study material. " +
	"Respond with a single JSON object and nothing else: no markdown, no commentary."

var shapeHints = map[ContentType]string{
	ContentQuiz: `{"questions":[{"question":"...","options":["...","...","...","..."],` +
		`"correctAnswer":0,"explanation":"..."}]}`,
	ContentPracticeTest: `{"title":"...","examType":"...","timeLimitMinutes":30,"questions":[{"question":"...",` +
		`"options":["...","...","...","..."],"correctAnswer":0,"explanation":"...","topic":"...","difficulty":"..."}]}`,
	ContentStudyGuide: `{"title":"...","summary":"...","keyPoints":["..."],` +
		`"sections":[{"heading":"...","content":"..."}]}`,
	ContentMnemonic: `{"mnemonics":[{"concept":"...","mnemonic":"...","explanation":"..."}]}`,
	ContentConceptMap: `{"centralConcept":"...","nodes":[{"id":"n1","label":"...","description":"..."}],` +
		`"edges":[{"from":"n1","to":"n2","label":"..."}]}`,
}

func buildMessages(req Request) []llm.Message {
	var b strings.Builder

	switch req.ContentType {
	case ContentQuiz:
		fmt.Fprintf(&b, "Write %d multiple-choice quiz questions about %s.", req.Count, req.Subject)
	case ContentPracticeTest:
		fmt.Fprintf(&b, "Write a practice test of %d questions about %s.", req.Count, req.Subject)
	case ContentStudyGuide:
		fmt.Fprintf(&b, "Write a study guide about %s.", req.Subject)
	case ContentMnemonic:
		fmt.Fprintf(&b, "Write %d memorable mnemonics for key ideas in %s.", req.Count, req.Subject)
	case ContentConceptMap:
		fmt.Fprintf(&b, "Build a concept map of %s with about %d connected concepts.", req.Subject, req.Count)
	}

	if len(req.Topics) > 0 {
		fmt.Fprintf(&b, "\nFocus on these topics: %s.", strings.Join(req.Topics, ", "))
	}
	if req.ExamType != "" {
		fmt.Fprintf(&b, "\nMatch the style and rigour of the %s exam.", req.ExamType)
	}
	if req.Difficulty != "" {
		fmt.Fprintf(&b, "\nTarget difficulty: %s.", req.Difficulty)
	}
	if req.ContentType == ContentQuiz || req.ContentType == ContentPracticeTest {
		b.WriteString("\nEach question has exactly one correct option; correctAnswer is its zero-based index.")
	}

	fmt.Fprintf(&b, "\nReturn JSON in exactly this shape:\n%s", shapeHints[req.ContentType])

	return []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: b.String()},
	}
}
