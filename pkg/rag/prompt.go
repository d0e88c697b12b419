package rag

import (
	"strings"

	"github.com/tmc/langchaingo/prompts"

	"github.com/xhad/prepbot/internal/models"
)

const baseTemplate = `You are an expert interview preparation assistant. Your role is to help candidates prepare for job interviews by providing structured, role-specific answers based on the job description and interview materials provided.

Use the following context from the job description and interview materials to answer the question. Structure your answer professionally and clearly.

Context:
{context}

Question: {question}

{format_instructions}

Answer:`

var formatInstructions = map[models.AnswerMode]string{
	models.ModeStar: `Provide your answer using the STAR method (Situation, Task, Action, Result):
- **Situation**: Set the context
- **Task**: Describe what needed to be done
- **Action**: Explain what you did
- **Result**: Share measurable outcomes

Ensure your answer:
1. Is specific to the role and company mentioned in the context
2. Includes quantifiable results/metrics
3. Demonstrates relevant skills and experiences`,

	models.ModeBullet: `Provide your answer using clear bullet points:
- Use concise, impactful statements
- Each bullet should highlight a key point
- Include specific examples from the context
- Demonstrate relevant skills and experiences`,

	models.ModeDefault: `Provide a well-structured answer that:
1. Is specific to the role and company mentioned in the context
2. Uses clear bullet points or the STAR method (Situation, Task, Action, Result) when appropriate
3. Demonstrates relevant skills and experiences
4. Is concise but comprehensive`,
}

var lengthInstructions = map[models.AnswerLength]string{
	models.LengthShort:  "Keep your answer brief and to the point (2-3 sentences or 3-4 bullet points).",
	models.LengthMedium: "Provide a comprehensive answer with adequate detail.",
	models.LengthLong:   "Provide a detailed, thorough answer with extensive examples and explanations.",
}

// NewPromptTemplate returns the answer prompt for mode and length with
// {context} and {question} left as inputs.
func NewPromptTemplate(mode models.AnswerMode, length models.AnswerLength) prompts.PromptTemplate {
	instructions := formatInstructions[mode]
	if instructions == "" {
		instructions = formatInstructions[models.ModeDefault]
	}
	if l := lengthInstructions[length]; l != "" {
		instructions += "\n\n" + l
	}

	return prompts.PromptTemplate{
		Template:       strings.Replace(baseTemplate, "{format_instructions}", instructions, 1),
		InputVariables: []string{"context", "question"},
		TemplateFormat: prompts.TemplateFormatFString,
	}
}
