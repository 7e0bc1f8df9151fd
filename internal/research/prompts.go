package research

import "fmt"

// deepResearchSuffix intensifies a step query when the user asks for a
// deeper pass or the first pass found too little.
const deepResearchSuffix = " detailed analysis trends"

// minUsableResults is the floor below which a search-driven step branches
// into the insufficient-data flow instead of synthesizing.
const minUsableResults = 2

const (
	maxSnippetsPerStep = 10
	maxSnippetLength   = 400
)

// Confirmation choices offered after a step commits, and in the
// insufficient-data branch.
const (
	ChoiceContinue     = "continue"
	ChoiceDeepResearch = "deep-research"
	ChoiceNextStep     = "next-step"
	ChoiceSkip         = "skip"
	ChoiceStop         = "stop"
)

// Conflict resolution picks.
const (
	ChoiceCurrent  = "current"
	ChoicePrevious = "previous"
)

// stepQuery builds the web search query for a search-driven step.
func stepQuery(company string, step Step) string {
	switch step {
	case StepCompanyBasics:
		return fmt.Sprintf("%s company overview headquarters founded employees", company)
	case StepFinancial:
		return fmt.Sprintf("%s revenue earnings financial results", company)
	case StepProductsTech:
		return fmt.Sprintf("%s products services technology offerings", company)
	case StepCompetitors:
		return fmt.Sprintf("%s competitors competitive landscape", company)
	}
	return fmt.Sprintf("%s %s", company, step)
}

// stepInstruction is the synthesis instruction for each step.
func stepInstruction(step Step) string {
	switch step {
	case StepCompanyBasics:
		return "Synthesize the following search results into a clean, professional company overview.\n" +
			"Include: headquarters location, industry, employee count, founding year, and brief description.\n" +
			"Remove duplicate information. Use bullet points for key facts. Maximum 200 words.\n" +
			"Write complete sentences - do NOT truncate with '...' or ellipsis.\n" +
			"Format with single line breaks between bullets. Be factual and complete."
	case StepFinancial:
		return "Synthesize the following financial data into a clear financial overview.\n" +
			"Include: revenue figures, growth rates, funding rounds, valuation, investors.\n" +
			"Use bullet points for key metrics. Remove duplicate numbers. Maximum 200 words.\n" +
			"Write complete information - do NOT use '...' or truncate.\n" +
			"Format currency consistently. Single line breaks between bullets."
	case StepProductsTech:
		return "Synthesize the following information into a products and services overview.\n" +
			"Include: main product lines, key services, technology stack, target customers.\n" +
			"Group related products together. Use bullet points. Maximum 200 words.\n" +
			"Write complete descriptions - do NOT truncate with '...'.\n" +
			"Single line breaks between bullets. Be concise but complete."
	case StepCompetitors:
		return "Synthesize the following into a competitive landscape analysis.\n" +
			"List main competitors with brief descriptions. Identify market positioning.\n" +
			"Use bullet points for each competitor. Maximum 200 words.\n" +
			"Write complete information - do NOT use ellipsis or '...'.\n" +
			"Single line breaks between bullets. Be factual and complete."
	case StepPainPoints:
		return "Based on all the research data, identify and synthesize key pain points, challenges, and obstacles.\n" +
			"Identify 3-5 main pain points or challenges.\n" +
			"Be specific and actionable.\n" +
			"Use bullet points with single line breaks between items.\n" +
			"Write complete descriptions - do NOT use '...'.\n" +
			"Maximum 250 words.\n" +
			"Do not speculate; base insights on provided data."
	case StepRecommend:
		return "Generate strategic recommendations based on all research data.\n" +
			"Provide 4-6 actionable recommendations.\n" +
			"Base recommendations on identified pain points and competitive landscape.\n" +
			"Be specific about potential solutions or engagement strategies.\n" +
			"Use bullet points for each recommendation with single line breaks.\n" +
			"Write complete information - do NOT truncate with '...'.\n" +
			"Maximum 300 words.\n" +
			"Focus on value proposition and strategic fit."
	}
	return "Summarize the following information concisely.\n" +
		"Remove duplicate content. Use clear structure. Maximum 200 words.\n" +
		"Write complete sentences - do NOT truncate. Single line breaks between bullets."
}

func finalPlanInstruction(company string) string {
	return fmt.Sprintf("Create a comprehensive executive summary that synthesizes all research for %s.\n\n", company) +
		"Instructions:\n" +
		"- Summarize company overview, financial health, products, and competitive position\n" +
		"- Highlight key pain points and opportunities\n" +
		"- Conclude with top 3 strategic recommendations\n" +
		"- Use clear structure with section headings\n" +
		"- Write complete sentences - do NOT use ellipsis or '...'\n" +
		"- Single line breaks between sections\n" +
		"- Maximum 400 words\n" +
		"- Professional, concise, actionable tone"
}

// nextStepQuestion is the confirmation prompt asked after a step commits.
func nextStepQuestion(company string, next Step) string {
	switch next {
	case StepFinancial:
		return fmt.Sprintf("Should I research the financials of %s?", company)
	case StepProductsTech:
		return fmt.Sprintf("Should I research the products and technology of %s?", company)
	case StepCompetitors:
		return fmt.Sprintf("Should I research the competitors of %s?", company)
	case StepPainPoints:
		return fmt.Sprintf("Should I analyze the pain points and challenges of %s?", company)
	case StepRecommend:
		return fmt.Sprintf("Should I generate strategic recommendations for %s?", company)
	case StepFinalPlan:
		return fmt.Sprintf("Should I create the executive summary for %s?", company)
	}
	return fmt.Sprintf("Should I continue with %s for %s?", next.Title(), company)
}

// freeformSystemPrompt drives the free-text agent loop outside the step
// pipeline. Each turn the model must answer with exactly one action object.
const freeformSystemPrompt = `You are an intelligent Company Research Assistant.
You help users research companies through natural conversation.

Each turn you must respond with ONLY one JSON object describing your next action:

{"action": "search", "query": "<web search query>"}
{"action": "update_plan", "parameter": "<plan field name>", "content": "<synthesized content>", "evidence": [{"title": "", "url": "", "snippet": ""}]}
{"action": "progress_update", "status": "<short status message>"}
{"action": "ask_user", "question": "<question for the user>"}
{"action": "generate_final_plan"}
{"action": "finish", "content": "<closing message>"}

Rules:
- NEVER hallucinate companies or facts; search before you state figures.
- Ask for the company name if the user has not provided one.
- Use update_plan once you have synthesized reliable content for a field.
- Use finish when the request is fully handled.
- Respond with ONLY valid JSON, no markdown formatting.`

// Words used by the lightweight intent classifier in the orchestrator.
var (
	affirmativeWords = []string{"yes", "ok", "okay", "continue", "proceed", "sure", "go ahead", "yep", "sounds good"}
	skipWords        = []string{"skip", "next step", "next-step", "next section", "move on", "skip this", "skip ahead"}
	deepWords        = []string{"deep-research", "deep research", "deeper", "deep dive", "more details", "more detail", "elaborate", "detailed analysis"}
	stopWords        = []string{"stop", "no", "cancel", "quit", "end research", "that's enough", "thats enough", "no thanks", "don't proceed"}
	regenerateWords  = []string{"shorter", "longer", "brief", "concise", "summarize", "expand", "rewrite"}
	newsWords        = []string{"latest news", "recent news", "current news", "news about", "updates on", "what's new", "recent developments"}
	changeWords      = []string{"change company", "switch company", "different company", "another company", "instead"}
	emotionalWords   = []string{"feeling", "sick", "ill", "tired", "sad", "headache", "pain", "unwell"}
	greetingWords    = []string{"hello", "hi", "hey", "good morning", "good afternoon", "good evening"}
	questionWords    = []string{"the", "what", "how", "why", "when", "who", "where", "is", "are", "can", "do"}
)
