package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
)

// transcriptionPrompt is the shared prompt used by all LLM providers. The
// model only transcribes; field extraction happens locally on the text.
const transcriptionPrompt = `You are an OCR engine. Transcribe every piece of text visible in this billing document (invoice, bill or receipt) exactly as printed.

Rules:
- Keep the original line breaks. One printed line per output line.
- Keep line items on a single line: description, quantity, unit price, line total.
- Do not translate, summarize, correct or reformat numbers, dates or currency symbols.
- If the image contains no readable text, return an empty string for "text".

Return ONLY valid JSON in this exact format:
{
  "text": "the transcribed text",
  "confidence": 0
}

"confidence" is a number from 0 to 100 expressing how legible the document was.
Do not include any text before or after the JSON. Do not use markdown code blocks.`

// transcription is the JSON shape the LLM providers are asked to return
type transcription struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence"`
}

// defaultLLMConfidence is used when a provider omits its confidence
const defaultLLMConfidence = 0.5

// parseTranscription parses the JSON response from an LLM provider
func parseTranscription(text string) (*Recognition, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var t transcription
	if err := json.Unmarshal([]byte(text), &t); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	confidence := defaultLLMConfidence
	if t.Confidence != nil {
		confidence = NormalizeConfidence(*t.Confidence, 100)
	}
	if strings.TrimSpace(t.Text) == "" {
		confidence = 0
	}

	return &Recognition{Text: t.Text, Confidence: confidence}, nil
}
