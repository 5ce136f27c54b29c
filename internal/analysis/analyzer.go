// Package analysis runs uploaded financial documents through a sequential
// multi-agent LLM pipeline: document verification, financial analysis,
// investment insights, then risk assessment.
package analysis

import "context"

// Agent descriptions recorded on completed jobs, in pipeline order. These
// strings are persisted and returned over the API, so they are part of the
// service contract.
const (
	AgentVerifier     = "Document Verifier - Validated document authenticity"
	AgentAnalyst      = "Financial Analyst - Analyzed financial metrics and trends"
	AgentAdvisor      = "Investment Advisor - Provided investment recommendations"
	AgentRiskAssessor = "Risk Assessor - Conducted comprehensive risk analysis"
)

// Roster returns the agent descriptions in execution order.
func Roster() []string {
	return []string{
		AgentVerifier,
		AgentAnalyst,
		AgentAdvisor,
		AgentRiskAssessor,
	}
}

// Outcome is the product of a complete analysis run.
type Outcome struct {
	Result     string
	AgentsUsed []string
}

// Analyzer runs the full agent pipeline over extracted document text.
// Implementations must honor context cancellation between and during stages.
type Analyzer interface {
	Analyze(ctx context.Context, document, query string) (*Outcome, error)
}
