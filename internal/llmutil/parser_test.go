package llmutil

import (
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type plan struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

func TestParseJSONResponse(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected plan
	}{
		{"bare object", `{"type":"navigate","url":"https://duckduckgo.com"}`, plan{"navigate", "https://duckduckgo.com"}},
		{"fenced json", "```json\n{\"type\": \"scrape\"}\n```", plan{Type: "scrape"}},
		{"fence without tag", "```\n{\"type\": \"stop\"}\n```", plan{Type: "stop"}},
		{"conversational", `Sure! Here is my action: {"type": "click", "url": ""} Let me know.`, plan{Type: "click"}},
		{"url with slashes survives comment stripping", "{\n // next step\n \"type\": \"navigate\", \"url\": \"https://a.com/b\" // go\n}", plan{"navigate", "https://a.com/b"}},
		{"braces inside strings", `{"type": "type", "url": "https://x.com/?q={a}"} trailing }`, plan{"type", "https://x.com/?q={a}"}},
		{"nested object picks outer", `{"type": "navigate", "meta": {"k": 1}, "url": "https://x.com"}`, plan{"navigate", "https://x.com"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseJSONResponse[plan](tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, *got)
		})
	}
}

func TestParseJSONResponse_Errors(t *testing.T) {
	_, err := ParseJSONResponse[plan]("I cannot help with that.")
	assert.ErrorContains(t, err, "no JSON object found")

	_, err = ParseJSONResponse[plan](`{"type": "navigate"`)
	assert.ErrorContains(t, err, "unbalanced JSON object")

	_, err = ParseJSONResponse[plan](`{"type": 5}`)
	assert.ErrorContains(t, err, "failed to unmarshal LLM JSON response")
}

func TestExtractJSONObject_EscapedQuotes(t *testing.T) {
	got, err := ExtractJSONObject(`noise {"text": "say \"hi\" {now}"} more`)
	require.NoError(t, err)
	assert.Equal(t, `{"text": "say \"hi\" {now}"}`, got)
}

func FuzzExtractJSONObject(f *testing.F) {
	f.Fuzz(func(t *testing.T, data []byte) {
		c := fuzz.NewConsumer(data)
		s, err := c.GetString()
		if err != nil {
			return
		}
		out, err := ExtractJSONObject(s)
		if err == nil {
			assert.True(t, len(out) >= 2 && out[0] == '{' && out[len(out)-1] == '}')
		}
	})
}

func TestCleanCodeOutput(t *testing.T) {
	assert.Equal(t, "- one\n- two", CleanCodeOutput("```markdown\n- one\n- two\n```"))
	assert.Equal(t, "plain text", CleanCodeOutput("  plain text \n"))
	assert.Equal(t, "see ```x```", CleanCodeOutput("see ```x```"))
}
