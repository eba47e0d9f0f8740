package models

const (
	PageMarkerFormat   = "\n\n--- PAGE %d END ---\n\n"
	PageMarkerRegex    = `--- PAGE \d+ END ---`
	ThinkTag           = `(?s)<think>.*?</think>`
	DoubleEscapeRegex  = `\\\\([a-zA-Z]+)`
	TruncationMarker   = "... [truncated]"
	ContextSeparator   = "\n\n"
	MaxHistoryTurns    = 6
	MaxTurnChars       = 3000
	MaxQueryChars      = 1200
	MaxRerankChars     = 1000
	MaxEmbeddingChars  = 1200
	MinSentenceCutChar = 800
	MaxCitedPages      = 10
	CoarseFetchFactor  = 3
	CoarseFetchCap     = 30
	RoughRetrievalK    = 3
)

var (
	RefinePromptTemplate = `You are an expert at query reformulation. Your task is to take a raw user question and rewrite it to be more specific and effective for retrieving relevant information from a technical document.

Instructions:
1. Use the retrieved content below to understand the domain, terminology, and style
2. Rewrite the user's question using the technical language and concepts from the retrieved content
3. Keep the core intent of the original question
4. Assume as little as possible about the user's knowledge level and what they are asking, but aim for clarity and precision
5. Do NOT answer the question or mention specific parts of the text - only reformulate it for better retrieval
6. If the user is asking for a derivation or proof, reformulate the query to include all the relevant steps and concepts involved
7. If the user is asking for a definition or explanation, provide an informative reformulation

Retrieved content (for context and terminology):
%s

Past conversation history for context:
%s

Original user question: "%s"

Reformulated question:`

	AnswerInstructions = `You are a helpful assistant and a good teacher trying to explain concepts to someone new to the subject. Use the following context along with your abilities and knowledge to answer the question and explain the concepts clearly. Format your response according to these rules:

FORMATTING GUIDELINES:
1. **Structure**: Organize your answer with clear sections using ## for main topics (e.g., ## Wave-Particle Duality)
2. **Key Concepts**: Present important concepts as **bold statements** without bullet points, followed by explanatory paragraphs
3. **Mathematical Expressions**: CRITICAL - ALL math must be wrapped in LaTeX delimiters:
   - Use $...$ for inline math: $\psi(x,t)$, $E=mc^2$, $\hbar$, $\partial$, $\alpha$, etc.
   - Use $$...$$ for block equations: $$\frac{\partial \Psi}{\partial t} = \hat{H}\Psi$$
   - Every mathematical symbol must be wrapped: $\psi$, $\Psi$, $\phi$, $\hbar$, $\partial$, $\alpha$, etc.
4. **Minimal Bullets**: Use bullet points (- ) ONLY for lists of 3+ related items, not for main explanations
5. **Flow**: Write in flowing paragraphs rather than choppy bullet points
6. **Examples**: Use clear examples to illustrate concepts

ANSWER STRUCTURE:
- Start with a brief conceptual overview
- Organize into logical sections with ## headers
- Use **bold** for key terms and concepts
- Provide step-by-step derivations when needed
- Explain concepts in a way that builds understanding, using analogies and physical interpretations where appropriate
- Include practical applications or limitations

EXAMPLE FORMAT:
## Wave-Particle Duality
**Quantum objects exhibit both wave and particle properties.** This fundamental principle means that particles like electrons can show interference patterns (wave behavior) while also having discrete, localized impacts (particle behavior).

The **de Broglie wavelength** $\lambda = \frac{h}{p}$ relates a particle's momentum $p$ to its wavelength $\lambda$, where $h$ is Planck's constant. This relationship shows that all matter has an associated wavelength.

`

	AnswerBodyTemplate = `Past conversation:
%s

Context:
%s

Source pages:
%s

Question: %s

Answer:
`

	ApologyTemplate = "I apologize, but I encountered an issue generating a response. This might be due to the conversation becoming too long or a timeout. Please try asking your question again, and I'll do my best to help. Error details: %v"

	CitationFooterTemplate = "\n\n---\n**📄 Source Pages:** %s"
)
