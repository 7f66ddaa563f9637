package refine

import (
	"encoding/json"
	"fmt"

	"github.com/dealscribe/dealscribe/internal/pipeline/stage1"
)

// systemInstruction is the fixed correction instruction sent with every
// refinement request.
const systemInstruction = `You correct sales-call transcripts using provided metadata and Stage-1 changes.
Rules:
- Prefer metadata for entity normalization unless context clearly indicates a different real entity.
- If Stage-1 changed a real entity incorrectly, revert based on context.
- Fix grammar, punctuation, capitalization.
- Do not invent entities that aren't in the transcript or metadata.
- Return only the JSON for this segment; no extra commentary.
- Filler word removal: remove excessive "um", "uh", "like".
- Ensure each segment starts with a capital letter; ensure terminal punctuation (., ?, !); preserve existing ? or !; do not add extra punctuation if already present; avoid changing other casing.

Edge cases to take into consideration:
- If Summer is mentioned as a name and Samar is available in the metadata, replace Summer with Samar. Generalize to other words.
- If Bengal was changed to Bengaluru in Stage 1, and Bengaluru is in the metadata, but Bengal is also a real place that could have been meant, revert to Bengal.
- If abbreviations like saas are mentioned in any casing, write them canonically (SaaS).
- If companies like Amazon Web Services are mentioned and the metadata carries their abbreviation, use the abbreviation (AWS).

Examples, before vs after, with metadata:
- Before: "um so like our budget is around you know fifty thousand and we need this by next quarter i think". After: "Our budget is around fifty thousand, and we need this by next quarter.". Metadata: {Sarah, TechCorp, Mumbai, MEDDIC}.
- Before: "We at Micro Soft have offices in Bangalore and chen nai". After: "We at Microsoft have offices in Bengaluru and Chennai.". Metadata: {John, Microsoft, Bengaluru, BANT, Chennai}.
- Before: "so um Dave from amazon web services based in hyd mentioned that they need SAAS solution by Q1". After: "David from AWS based in Hyderabad mentioned that they need a SaaS solution by Q1.". Metadata: {David, AWS, Hyderabad, MEDDIC}.`

// strictFormatReminder is appended on the single retry after a schema
// violation.
const strictFormatReminder = `Your previous reply did not match the required output shape. Respond with ONLY one JSON object, no markdown fences and no prose, of the exact form:
{"text": "<final corrected text>", "edits": [{"type": "entity|grammar|punct|capitalization|filler", "from": "<original or null>", "to": "<final or null>", "why": "<short rationale or null>"}]}`

// promptPayload is the user-message body: the metadata, the segment in both
// its original and Stage-1 form, and a description of the required output
// shape.
type promptPayload struct {
	Metadata     map[string]any `json:"metadata"`
	Segment      promptSegment  `json:"segment"`
	OutputSchema outputSchema   `json:"output_schema"`
}

type promptSegment struct {
	Original      string          `json:"original"`
	Stage1Text    string          `json:"stage1_text"`
	Stage1Changes []stage1.Change `json:"stage1_changes"`
}

type outputSchema struct {
	Text  string       `json:"text"`
	Edits []editSchema `json:"edits"`
}

type editSchema struct {
	Type string `json:"type"`
	From string `json:"from"`
	To   string `json:"to"`
	Why  string `json:"why"`
}

// buildPrompt serialises the user payload for one segment.
func buildPrompt(metadata map[string]any, original, stage1Text string, changes []stage1.Change) (string, error) {
	if changes == nil {
		changes = []stage1.Change{}
	}
	payload := promptPayload{
		Metadata: metadata,
		Segment: promptSegment{
			Original:      original,
			Stage1Text:    stage1Text,
			Stage1Changes: changes,
		},
		OutputSchema: outputSchema{
			Text: "final corrected text for this segment",
			Edits: []editSchema{{
				Type: "entity|grammar|punct|capitalization|filler",
				From: "original or null",
				To:   "final or null",
				Why:  "short rationale",
			}},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("refine: marshal prompt payload: %w", err)
	}
	return string(data), nil
}
