package llm

import (
	"fmt"
	"sort"
	"strings"
)

// noTablesMarker renders in place of an empty candidate-table list. The
// model handles an explicit marker better than a blank.
const noTablesMarker = "No tables identified"

// sqlPromptTemplate is the instruction template for SQL generation. The
// join-completeness verification steps are load-bearing: without them,
// models routinely emit aliases that are never defined or half-written
// JOIN conditions.
const sqlPromptTemplate = `You are an expert SQL developer. Given the following database schema information:

%s

Generate a SQL query for the following question:
Question: %s

Consider these tables that might be relevant: %s

CRITICAL INSTRUCTIONS:
1. The query MUST be complete and executable
2. Every table alias used in the SELECT clause MUST be defined in the FROM/JOIN clauses
3. All JOIN conditions MUST be complete with both sides of the condition specified

Required Query Components:
- All tables used in SELECT must be properly joined in the FROM/JOIN clauses
- All JOIN conditions must be complete (e.g., ON e.department_id = d.department_id)
- Include all necessary columns in the SELECT clause
- Use appropriate WHERE, GROUP BY, HAVING, and ORDER BY clauses as needed

Formatting Guidelines:
- Use proper indentation for readability
- Use consistent table aliases (e.g., employees e, departments d)
- DO NOT include a semicolon (;) at the end of the query

Before returning the query, verify that:
1. All table aliases in SELECT are defined in FROM/JOIN
2. All JOIN conditions are complete
3. The query would execute without errors

Return ONLY the complete, valid SQL query, nothing else. Do not include a semicolon at the end.`

// explainPromptTemplate requests a plain-language description of a query.
const explainPromptTemplate = `Explain what the following SQL query does in simple terms:

Question: %s

SQL Query:
` + "```sql\n%s\n```" + `

Provide a clear, concise explanation that would be understandable to a non-technical user.
Focus on what data is being retrieved and any important filters or conditions.`

// buildSQLPrompt renders the generation prompt. Candidate tables are
// sorted and comma-joined so identical inputs always yield an identical
// prompt.
func buildSQLPrompt(question, contextText string, tables []string) string {
	tablesStr := noTablesMarker
	if len(tables) > 0 {
		sorted := make([]string, len(tables))
		copy(sorted, tables)
		sort.Strings(sorted)
		tablesStr = strings.Join(sorted, ", ")
	}
	return fmt.Sprintf(sqlPromptTemplate, contextText, question, tablesStr)
}

// buildExplainPrompt renders the explanation prompt.
func buildExplainPrompt(sql, question string) string {
	return fmt.Sprintf(explainPromptTemplate, question, sql)
}
