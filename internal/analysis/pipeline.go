package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"
)

const truncationMarker = "\n\n[document truncated for analysis]"

const (
	verifierPersona = "You are a meticulous financial document verification specialist " +
		"with years of experience in financial compliance. You identify document types, " +
		"check the completeness of financial statements, and report clearly on data quality."

	analystPersona = "You are a senior financial analyst with deep experience in " +
		"investment research. You ground every statement in concrete figures taken " +
		"from the document and maintain a balanced, professional perspective."

	advisorPersona = "You are a professional investment advisor. You give balanced, " +
		"evidence-based recommendations, consider risk and time horizon, and never " +
		"speculate beyond what the data supports."

	riskPersona = "You are a risk management specialist experienced in market, credit, " +
		"operational and liquidity risk. You provide practical, well-supported risk " +
		"assessments and mitigation strategies."
)

// PipelineConfig holds the tunables for the OpenAI-backed pipeline.
type PipelineConfig struct {
	Model            string
	Temperature      float32
	MaxDocumentChars int
}

// Pipeline implements Analyzer with four sequential chat completions, one per
// agent. Later stages receive the outputs of earlier ones, mirroring a
// sequential agent crew.
type Pipeline struct {
	client *openai.Client
	config PipelineConfig
	logger *slog.Logger
}

// NewPipeline creates a new analysis pipeline
func NewPipeline(client *openai.Client, config PipelineConfig, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		client: client,
		config: config,
		logger: logger,
	}
}

// Analyze runs all four stages in order and assembles the combined report.
func (p *Pipeline) Analyze(ctx context.Context, document, query string) (*Outcome, error) {
	doc := truncateDocument(document, p.config.MaxDocumentChars)

	verification, err := p.runStage(ctx, "document_verification", verifierPersona, verificationPrompt(doc))
	if err != nil {
		return nil, fmt.Errorf("document verification stage: %w", err)
	}

	financial, err := p.runStage(ctx, "financial_analysis", analystPersona, analysisPrompt(doc, query, verification))
	if err != nil {
		return nil, fmt.Errorf("financial analysis stage: %w", err)
	}

	insights, err := p.runStage(ctx, "investment_insights", advisorPersona, insightsPrompt(query, financial))
	if err != nil {
		return nil, fmt.Errorf("investment insights stage: %w", err)
	}

	risk, err := p.runStage(ctx, "risk_assessment", riskPersona, riskPrompt(query, financial, insights))
	if err != nil {
		return nil, fmt.Errorf("risk assessment stage: %w", err)
	}

	return &Outcome{
		Result:     assembleResult(verification, financial, insights, risk),
		AgentsUsed: Roster(),
	}, nil
}

// runStage performs a single chat completion with the given persona.
func (p *Pipeline) runStage(ctx context.Context, stage, persona, prompt string) (string, error) {
	start := time.Now()

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.config.Model,
		Temperature: p.config.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: persona},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}

	content := resp.Choices[0].Message.Content

	p.logger.Info("Analysis stage completed",
		slog.String("stage", stage),
		slog.Duration("elapsed", time.Since(start)),
		slog.Int("output_chars", len(content)),
	)

	return content, nil
}

func verificationPrompt(document string) string {
	return "Verify the following financial document for analysis suitability.\n\n" +
		"Identify the document type (10-K, 10-Q, earnings report, etc.), the company " +
		"and reporting period, which financial statements are present, and any " +
		"completeness or data quality issues.\n\n" +
		"Document:\n" + document
}

func analysisPrompt(document, query, verification string) string {
	return "Analyze the financial document below to answer this query: " + query + "\n\n" +
		"Extract the key financial data (revenue, profit, cash flow, debt levels), " +
		"analyze trends and patterns, and answer the query with specific figures " +
		"from the document.\n\n" +
		"Verification findings:\n" + verification + "\n\n" +
		"Document:\n" + document
}

func insightsPrompt(query, financial string) string {
	return "Based on the financial analysis below, provide professional investment " +
		"insights for this query: " + query + "\n\n" +
		"Cover the investment thesis, financial strengths, areas of concern, a " +
		"valuation perspective, and a balanced recommendation with appropriate " +
		"disclaimers.\n\n" +
		"Financial analysis:\n" + financial
}

func riskPrompt(query, financial, insights string) string {
	return "Conduct a comprehensive risk assessment based on the findings below for " +
		"this query: " + query + "\n\n" +
		"Cover financial risks (liquidity, credit, operational), market and industry " +
		"risks, company-specific risks, practical mitigation strategies, and an " +
		"overall risk rating (Low/Medium/High).\n\n" +
		"Financial analysis:\n" + financial + "\n\n" +
		"Investment insights:\n" + insights
}

func assembleResult(verification, financial, insights, risk string) string {
	var b strings.Builder

	b.WriteString("## Document Verification\n\n")
	b.WriteString(verification)
	b.WriteString("\n\n## Financial Analysis\n\n")
	b.WriteString(financial)
	b.WriteString("\n\n## Investment Insights\n\n")
	b.WriteString(insights)
	b.WriteString("\n\n## Risk Assessment\n\n")
	b.WriteString(risk)

	return b.String()
}

// truncateDocument caps the document at max bytes without splitting a rune.
func truncateDocument(document string, max int) string {
	if max <= 0 || len(document) <= max {
		return document
	}

	cut := document[:max]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}

	return cut + truncationMarker
}
