package prompt

import (
	"fmt"
)

// Spec is one named, versioned prompt. Keeping prompts in a registry
// instead of inline strings makes them inspectable and keeps version
// bumps explicit.
type Spec struct {
	Name           string
	Version        int
	SystemTemplate string
	UserTemplate   string
}

// Variables lists the placeholders both templates expect.
func (s Spec) Variables() []string {
	return ExtractVariables(s.SystemTemplate + " " + s.UserTemplate)
}

// RenderUser renders the user template with vars.
func (s Spec) RenderUser(vars map[string]string) (string, error) {
	out, err := Render(s.UserTemplate, vars)
	if err != nil {
		return "", fmt.Errorf("prompt %s v%d: %w", s.Name, s.Version, err)
	}
	return out, nil
}

const jsonOnlySystem = "Respond with valid JSON only, following the given schema. No text before or after the JSON."

var registry = map[string]Spec{
	"rag_answer": {
		Name:           "rag_answer",
		Version:        1,
		SystemTemplate: jsonOnlySystem,
		UserTemplate: `Answer the question using ONLY the provided context chunks.

Rules:
- Every claim in your answer must be supported by the context.
- Cite the chunks you used in "sources" with their exact chunk_id, the document title, a short supporting quote, and a relevance score between 0 and 1.
- If the context does not contain the answer, set status to "insufficient_context".
- confidence is your own estimate between 0 and 1.

Return JSON matching this schema:
{{schema}}

Context:
{{context}}

Question: {{question}}`,
	},
	"rag_answer_agent": {
		Name:           "rag_answer_agent",
		Version:        1,
		SystemTemplate: jsonOnlySystem,
		UserTemplate: `Answer the question using the available tools to look up the knowledge base. Call tools until you have enough context, then respond.

Rules:
- Every claim in your final answer must be supported by tool results.
- Cite the chunks you used in "sources" with their exact chunk_id, the document title, a short supporting quote, and a relevance score between 0 and 1.
- If the knowledge base does not contain the answer, set status to "insufficient_context".

Your final response must be JSON matching this schema:
{{schema}}

Question: {{question}}`,
	},
	"contract_repair": {
		Name:           "contract_repair",
		Version:        1,
		SystemTemplate: jsonOnlySystem,
		UserTemplate: `The following model output failed schema validation.

Validation error: {{error}}

Output:
{{output}}

Return a corrected JSON object matching this schema exactly:
{{schema}}`,
	},
}

// Get returns the registered spec by name.
func Get(name string) (Spec, error) {
	spec, ok := registry[name]
	if !ok {
		return Spec{}, fmt.Errorf("unknown prompt: %s", name)
	}
	return spec, nil
}

// MustGet panics on unknown prompt names. Registry contents are static,
// so a miss is a programming error.
func MustGet(name string) Spec {
	spec, err := Get(name)
	if err != nil {
		panic(err)
	}
	return spec
}
