package models

const (
	// PageTagFormat prefixes each retrieved chunk in a cited context.
	PageTagFormat    = "[Page %d] %s"
	ContextSeparator = "\n\n"
	ThinkTag         = `(?s)<think>.*?</think>`
)

var (
	CitedPromptTemplate = `Answer the following question using only the information from the context below. When referencing information, include the page number citation like (Page X).

Context:
%s

Question: %s

Instructions: After each piece of information, include the page reference in parentheses like (Page 5). If multiple pages were referred to, list each one like (Page 1)(Page 2).`

	SimplePromptTemplate = `Answer the following question using only the information from the context below:

%s

Question: %s`
)
