// internal/browser/locator.go
package browser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/chromedp/cdproto/cdp"
)

// Sentinel errors for description based element resolution. Callers map
// these onto their own failure reporting.
var (
	// ErrTargetNotFound indicates no visible interactive element matched
	// the description.
	ErrTargetNotFound = errors.New("no element matches the target description")
	// ErrTargetAmbiguous indicates the description matched more than one
	// element equally well.
	ErrTargetAmbiguous = errors.New("target description matches multiple elements")
)

// interactiveSelectors covers the elements a decision model can plausibly
// point at. Disabled and hidden inputs are excluded up front.
const interactiveSelectors = "a[href], button, [onclick], [role=button], [role=link], [role=tab], [role=menuitem], input:not([type=hidden]), textarea, select, summary, [tabindex]"

const maxLabelLength = 120

// matchNode resolves a natural language description against a set of DOM
// nodes. Exact label matches outrank substring matches; a tie at the top
// score is reported as ambiguous rather than guessed at.
func matchNode(nodes []*cdp.Node, description string) (*cdp.Node, error) {
	want := normalizeLabel(description)
	if want == "" {
		return nil, fmt.Errorf("%w: empty description", ErrTargetNotFound)
	}

	const (
		scoreExact    = 3
		scoreContains = 2
		scoreWithin   = 1
	)

	var (
		best      []*cdp.Node
		bestScore int
	)
	seen := make(map[cdp.NodeID]bool)

	for _, node := range nodes {
		if node == nil || seen[node.NodeID] {
			continue
		}
		seen[node.NodeID] = true

		attrs := attributeMap(node)
		if isDisabled(node, attrs) {
			continue
		}

		score := 0
		for _, label := range nodeLabels(node, attrs) {
			got := normalizeLabel(label)
			if got == "" {
				continue
			}
			switch {
			case got == want:
				score = max(score, scoreExact)
			case strings.Contains(got, want):
				score = max(score, scoreContains)
			case strings.Contains(want, got):
				score = max(score, scoreWithin)
			}
		}
		if score == 0 {
			continue
		}

		switch {
		case score > bestScore:
			bestScore = score
			best = best[:0]
			best = append(best, node)
		case score == bestScore:
			best = append(best, node)
		}
	}

	switch len(best) {
	case 0:
		return nil, fmt.Errorf("%w: %q", ErrTargetNotFound, description)
	case 1:
		return best[0], nil
	default:
		return nil, fmt.Errorf("%w: %q matched %d elements", ErrTargetAmbiguous, description, len(best))
	}
}

// nodeLabels gathers the strings a human (or a vision model reading the
// page) would use to name the element.
func nodeLabels(node *cdp.Node, attrs map[string]string) []string {
	labels := make([]string, 0, 6)
	if text := nodeText(node, attrs); text != "" {
		labels = append(labels, text)
	}
	for _, attr := range []string{"aria-label", "placeholder", "title", "name", "value", "alt", "id"} {
		if val, ok := attrs[attr]; ok && val != "" {
			labels = append(labels, val)
		}
	}
	return labels
}

// nodeText collects the node's direct text children, falling back to
// aria-label and title when the element carries no text of its own.
func nodeText(node *cdp.Node, attrs map[string]string) string {
	if node == nil {
		return ""
	}
	var sb strings.Builder
	for _, child := range node.Children {
		if child == nil {
			continue
		}
		if child.NodeType == cdp.NodeTypeText {
			sb.WriteString(child.NodeValue)
		} else if len(child.Children) > 0 {
			// One level of nesting covers <button><span>Label</span></button>.
			for _, grand := range child.Children {
				if grand != nil && grand.NodeType == cdp.NodeTypeText {
					sb.WriteString(grand.NodeValue)
				}
			}
		}
		if sb.Len() >= maxLabelLength {
			break
		}
	}
	if sb.Len() == 0 {
		if label := attrs["aria-label"]; label != "" {
			sb.WriteString(label)
		} else if title := attrs["title"]; title != "" {
			sb.WriteString(title)
		}
	}
	return truncateBytes(strings.TrimSpace(sb.String()), maxLabelLength)
}

func isDisabled(node *cdp.Node, attrs map[string]string) bool {
	if node == nil {
		return true
	}
	if _, disabled := attrs["disabled"]; disabled {
		return true
	}
	if ariaDisabled, ok := attrs["aria-disabled"]; ok && strings.EqualFold(ariaDisabled, "true") {
		return true
	}
	if isInputElement(node) {
		if _, readonly := attrs["readonly"]; readonly {
			return true
		}
	}
	if tabIndexStr, ok := attrs["tabindex"]; ok {
		if tabIndex, err := strconv.Atoi(tabIndexStr); err == nil && tabIndex < 0 {
			return true
		}
	}
	return false
}

func isInputElement(node *cdp.Node) bool {
	if node == nil {
		return false
	}
	switch strings.ToUpper(node.NodeName) {
	case "INPUT":
		switch strings.ToLower(attributeMap(node)["type"]) {
		case "hidden", "submit", "button", "reset", "image":
			return false
		default:
			return true
		}
	case "TEXTAREA", "SELECT":
		return true
	}
	if editable, ok := attributeMap(node)["contenteditable"]; ok && strings.EqualFold(editable, "true") {
		return true
	}
	return false
}

// attributeMap flattens the CDP attribute slice (name, value pairs) into a
// lookup map.
func attributeMap(node *cdp.Node) map[string]string {
	attrs := make(map[string]string)
	if node == nil || len(node.Attributes) == 0 {
		return attrs
	}
	for i := 0; i+1 < len(node.Attributes); i += 2 {
		attrs[node.Attributes[i]] = node.Attributes[i+1]
	}
	return attrs
}

// normalizeLabel lowercases and collapses internal whitespace so label
// comparison is tolerant of formatting.
func normalizeLabel(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// truncateBytes trims s to at most n bytes without splitting a UTF-8 rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
