// internal/vision/parser.go
package vision

import (
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/voidwalker9k/pagepilot/api/schemas"
)

// Extracts a JSON object from a markdown code block.
var jsonBlockRegex = regexp.MustCompile(fmt.Sprintf("(?s)%s(?:json)?\\s*(.*?)\\s*%s", "```", "```"))

// parseAction converts a raw model response into a validated Action. Every
// failure is a *ParseError carrying the raw payload; nothing is ever
// defaulted or coerced.
func parseAction(response string) (*schemas.Action, error) {
	response = strings.TrimSpace(response)

	var candidate string
	matches := jsonBlockRegex.FindStringSubmatch(response)
	if len(matches) > 1 {
		candidate = strings.TrimSpace(matches[1])
	} else {
		firstBrace := strings.Index(response, "{")
		lastBrace := strings.LastIndex(response, "}")
		if firstBrace != -1 && lastBrace > firstBrace {
			candidate = response[firstBrace : lastBrace+1]
		} else {
			candidate = response
		}
	}

	if candidate == "" {
		return nil, &ParseError{Raw: response, Err: fmt.Errorf("no JSON object in response")}
	}

	var action schemas.Action
	if err := json.Unmarshal([]byte(candidate), &action); err != nil {
		return nil, &ParseError{Raw: response, Err: fmt.Errorf("unmarshal extracted JSON: %w", err)}
	}

	if err := action.Validate(); err != nil {
		return nil, &ParseError{Raw: response, Err: err}
	}
	return &action, nil
}
