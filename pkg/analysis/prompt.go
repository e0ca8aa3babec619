package analysis

import (
	"fmt"

	"callinsight-server/pkg/call"
)

// systemPrompt frames the model as a call analyst and pins the output
// contract. The JSON shape mirrors call.Analysis exactly; the parser
// rejects anything that does not unmarshal into it.
const systemPrompt = `You are an expert call analyst. Analyze sales and support calls to extract actionable insights, entities, sentiment, pain points, objections, and key topics. Provide thorough, accurate analysis based solely on the transcript content.

Respond with JSON only (no markdown), using exactly this structure:
{
  "summary": "concise 2-3 sentence summary of the call",
  "sentiment": {"overall": "positive|negative|neutral|mixed", "score": -1.0, "confidence": 0.0, "reasoning": "brief explanation"},
  "entities": [{"name": "Acme Corp", "type": "company|person|product|location|other", "mentions": 1, "context": "where it came up"}],
  "pain_points": [{"description": "what hurts", "severity": "critical|high|medium|low", "category": "technical|pricing|feature|support|other", "quote": "supporting quote from the transcript"}],
  "objections": [{"objection": "the pushback raised", "type": "pricing|timing|competition|technical|authority|other", "resolution_status": "handled|partially_handled|unhandled", "resolution_approach": "how it was addressed"}],
  "key_topics": [{"topic": "subject discussed", "importance": "high|medium|low", "summary": "one line"}],
  "call_type": "sales|support|discovery|demo|other",
  "call_outcome": "positive|neutral|negative|inconclusive",
  "next_steps": ["agreed follow-up"],
  "questions_raised": ["open question from the call"],
  "engagement_level": "high|medium|low"
}

Score is a number in [-1.0, 1.0]; confidence is a number in [0.0, 1.0]. Omit fields the transcript gives you no basis for rather than guessing.`

// buildUserPrompt wraps the transcript with the extraction instructions.
func buildUserPrompt(transcript *call.Transcript) string {
	return fmt.Sprintf(`Analyze the following call transcript and extract comprehensive insights.

Transcript:
%s

Instructions:
1. Provide a concise 2-3 sentence summary of the entire call.
2. Assess the overall sentiment with reasoning.
3. Extract all entities mentioned (people, companies, products, locations) with context.
4. Identify customer pain points with severity and supporting quotes.
5. List objections raised, whether they were handled, and how.
6. Identify the key topics discussed and their importance.
7. Infer the call type and the customer's engagement level.
8. Capture agreed next steps.
9. Capture questions that were raised, answered or not.
10. Judge the overall call outcome.

Base your analysis solely on the transcript content. Be thorough but concise.`, transcript.Text)
}
