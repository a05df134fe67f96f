package pipeline

import (
	"strconv"
	"strings"

	"github.com/dvloznov/finance-ingest/internal/domain"
)

// buildCategoriesPrompt lists the labels the model may assign.
func buildCategoriesPrompt(labels []string) string {
	var b strings.Builder
	b.WriteString("Use ONLY the following categories:\n")
	for _, l := range labels {
		b.WriteString("  - " + l + "\n")
	}
	b.WriteString("\nCATEGORY ASSIGNMENT RULES:\n")
	b.WriteString("1. Category must be EXACTLY one of the names shown above.\n")
	b.WriteString("2. If you are unsure, use \"" + domain.Uncategorized + "\".\n")
	return b.String()
}

// buildExtractionPrompt asks the model to structure raw statement lines.
func buildExtractionPrompt(lines []domain.RawLine, labels []string) string {
	basePrompt :=
		"You are a financial statement parser.\n\n" +
			"Task:\n" +
			"- Read the statement lines below and extract EVERY financial line item.\n" +
			"- Ignore headers, disclaimers, page numbers, addresses, opening and closing balances.\n" +
			"- Output STRICT JSON only (no comments, no trailing commas, no extra text).\n" +
			"- Output a JSON array of objects.\n\n" +
			"Each object must have these fields:\n" +
			"- \"date\": string, as printed on the statement\n" +
			"- \"description\": string\n" +
			"- \"amount\": string or number (negative for money OUT, positive for money IN)\n" +
			"- \"type\": \"debit\", \"credit\" or null when the line does not say\n" +
			"- \"balance\": running balance after the line, or null\n" +
			"- \"category\": string (one of the categories below)\n\n"

	rulesPrompt :=
		"Rules:\n" +
			"- If the statement has separate \"paid out\" / \"paid in\" columns, convert to a single signed \"amount\".\n" +
			"- Copy dates and descriptions exactly; do not invent transactions.\n" +
			"- If there are no transactions, return [].\n\n" +
			"Return ONLY valid raw JSON.\n" +
			"Do NOT wrap the response in code fences.\n" +
			"Output must begin with \"[\" and end with \"]\".\n"

	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString(buildCategoriesPrompt(labels))
	b.WriteString("\n")
	b.WriteString(rulesPrompt)
	b.WriteString("\nStatement lines:\n")
	for _, l := range lines {
		b.WriteString(l.Text)
		b.WriteString("\n")
	}
	return b.String()
}

type categorizeItem struct {
	ID          int    `json:"id"`
	Date        string `json:"date"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
}

// buildCategorizePrompt asks for a category per already structured row. ids
// index into the batch.
func buildCategorizePrompt(rows []domain.ProvisionalTransaction, ids []int, labels []string) string {
	items := make([]categorizeItem, 0, len(ids))
	for _, id := range ids {
		r := rows[id]
		items = append(items, categorizeItem{ID: id, Date: r.Date, Description: r.Description, Amount: r.Amount})
	}

	var b strings.Builder
	b.WriteString("You categorize bank transactions.\n\n")
	b.WriteString(buildCategoriesPrompt(labels))
	b.WriteString("\nFor each transaction below return an object {\"id\": <id>, \"category\": <category>}.\n")
	b.WriteString("Return ONLY a JSON array with " + strconv.Itoa(len(items)) + " objects, no extra text.\n\n")
	b.WriteString("Transactions:\n")
	b.WriteString(compactJSON(items))
	b.WriteString("\n")
	return b.String()
}
