package llm

import (
	"context"
	"strings"

	"github.com/dbwhisper/dbwhisper/internal/errs"
	"github.com/dbwhisper/dbwhisper/internal/logger"
)

// explainFallback is returned when the explanation call fails; an ask
// cycle never fails because of a missing explanation.
const explainFallback = "Unable to generate explanation for this query."

// SQLGenerationResult is the outcome of one generation call.
type SQLGenerationResult struct {
	SQL     string   `json:"sql"`
	Tables  []string `json:"tables"`
	Context string   `json:"context"`
}

// Generator turns a question plus retrieved schema context into a single
// executable SQL statement.
type Generator struct {
	completer Completer
	log       *logger.Logger
}

// NewGenerator wires a Generator over the given completion backend.
func NewGenerator(completer Completer, log *logger.Logger) *Generator {
	return &Generator{completer: completer, log: log}
}

// GenerateSQL builds the constrained prompt, invokes the completion
// backend, and sanitizes the raw output into bare SQL.
func (g *Generator) GenerateSQL(ctx context.Context, question, contextText string, tables []string) (*SQLGenerationResult, error) {
	prompt := buildSQLPrompt(question, contextText, tables)

	raw, err := g.completer.Complete(ctx, prompt)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindGeneration, "sql generation failed", err)
	}

	sql := SanitizeSQL(raw)
	if sql == "" {
		return nil, errs.New(errs.ErrKindGeneration, "completion produced no sql")
	}

	g.log.Debugf("generated sql: %s", sql)
	return &SQLGenerationResult{
		SQL:     sql,
		Tables:  tables,
		Context: contextText,
	}, nil
}

// ExplainSQL asks the completion backend for a plain-language description
// of sql. Failure degrades to a fixed fallback string; an explanation is
// nice to have, never load-bearing.
func (g *Generator) ExplainSQL(ctx context.Context, sql, question string) string {
	raw, err := g.completer.Complete(ctx, buildExplainPrompt(sql, question))
	if err != nil {
		g.log.ErrorWith("explanation failed", err, map[string]any{"sql": sql})
		return explainFallback
	}
	return strings.TrimSpace(raw)
}
