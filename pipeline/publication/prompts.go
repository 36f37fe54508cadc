package publication

import (
	"bytes"
	"text/template"
)

const noGuidance = "No specific guidance"
const noFeedback = "No specific feedback"

var managerPrompt = template.Must(template.New("manager").Parse(
	`As a content processing manager, your task is to analyze the following project description and provide a comprehensive summary:

Text: {{.Preview}}...

Your summary should include:
1. The main theme of the project
2. Key details and insights that define the project's purpose
3. The main goals of the project

Ensure the summary is clear and aligns all writers on the same task, providing context for subsequent processing steps.
The resultant summary will be used to write an article about the project.`))

var tldrPrompt = template.Must(template.New("tldr").Parse(
	`Create a concise TLDR (Too Long; Didn't Read) summary of the following content.
The summary should be 2-3 sentences that capture the main points and key insights.

Manager's guidance: {{.Guidance}}

If the reviewer has provided specific feedback for TLDR improvement, incorporate it:
TLDR-specific feedback: {{.Feedback}}

Content: {{.Text}}

Return at most {{.Max}} different TLDRs as a JSON object of the form {"tldrs": ["..."]}.`))

var titlePrompt = template.Must(template.New("title").Parse(
	`Generate an engaging and descriptive title for the following content.
The title should be clear, concise, and capture the essence of the content.

Manager's guidance: {{.Guidance}}

If the reviewer has provided specific feedback for title improvement, incorporate it:
Title-specific feedback: {{.Feedback}}

Content: {{.Text}}

Return at most {{.Max}} different titles as a JSON object of the form {"titles": ["..."]}.`))

var queriesPrompt = template.Must(template.New("queries").Parse(
	`Manager's guidance: {{.Guidance}}

Provide a list of search queries to find relevant references for the following content.

If the reviewer has provided specific feedback for references improvement, incorporate it:
References-specific feedback: {{.Feedback}}

The list should not contain more than {{.Max}} elements.
Respond with a JSON object of the form {"queries": ["..."]}.

Content: {{.Text}}`))

var selectPrompt = template.Must(template.New("select").Parse(
	`Select the most relevant references from the following content.

Manager's guidance: {{.Guidance}}

Content: {{.Text}}

References:
{{range .Pages}}- url: {{.URL}}
  title: {{.Title}}
  content: {{.Text}}
{{end}}
Respond with a JSON object of the form:
{"references": [{"url": "https://arxiv.org/abs/1706.03762", "title": "Vaswani, et al. 'Attention is all you need.' (2017)"}]}`))

var reviewerPrompt = template.Must(template.New("reviewer").Parse(
	`Review the following content processing results for quality and completeness:

Original Content Length: {{.TextLength}} characters
Manager's Decision: {{.Guidance}}
Revision Round: {{.Round}} (Max: {{.MaxRounds}})

Processing Results:
- Title(s): {{.Titles}}
- TLDR(s): {{.TLDRs}}
- Tags: {{.Tags}}
- References: {{.References}}
{{if .Approved}}
Previously approved components: {{.Approved}}. Set their approval to true and give positive feedback.
{{end}}
Evaluate each component individually:

1. TITLE: Is it engaging, accurate, and does it capture the essence of the content?
2. TLDR: Is it concise yet comprehensive, capturing the main points?
3. REFERENCES: Are they appropriate and useful?

For each component state whether it is approved and give specific feedback. If it is not approved,
explain what needs to be improved.

Respond with a JSON object with the keys tldr_approved, tldr_feedback, title_approved, title_feedback,
references_approved, references_feedback and summary.`))

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

type generatorData struct {
	Guidance string
	Feedback string
	Text     string
	Max      int
}

type reviewerData struct {
	TextLength int
	Guidance   string
	Round      int
	MaxRounds  int
	Titles     string
	TLDRs      string
	Tags       string
	References string
	Approved   string
}
