package provider

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/postsmith/pkg/model"
	"github.com/m-mizutani/postsmith/pkg/utils/logging"
)

var (
	fencePattern      = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	listMarkerPattern = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s+`)
)

// ParseTrends reads a research response. It accepts a JSON object, optionally
// inside a code fence or written with single quotes, or two blank line
// separated sections whose first line is a heading and the rest are items.
func ParseTrends(text string) (*model.Trends, error) {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	if text == "" {
		return nil, goerr.Wrap(model.ErrValidation, "research response is empty")
	}

	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		obj := text[start : end+1]
		if trends, err := decodeTrends(obj); err == nil {
			return trends, nil
		}
		if trends, err := decodeTrends(strings.ReplaceAll(obj, "'", `"`)); err == nil {
			return trends, nil
		}
	}

	trends := parseSections(text)
	if err := trends.Validate(); err != nil {
		return nil, goerr.Wrap(err, "research response is neither JSON nor sections",
			goerr.V("response", logging.Truncate(text, 200)))
	}
	return trends.Compact(), nil
}

func decodeTrends(raw string) (*model.Trends, error) {
	var trends model.Trends
	if err := json.Unmarshal([]byte(raw), &trends); err != nil {
		return nil, err
	}
	if err := trends.Validate(); err != nil {
		return nil, err
	}
	return trends.Compact(), nil
}

func parseSections(text string) *model.Trends {
	var sections [][]string
	for _, block := range strings.Split(text, "\n\n") {
		var lines []string
		for _, line := range strings.Split(block, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			sections = append(sections, lines)
		}
	}

	items := func(i int) []string {
		if i >= len(sections) {
			return nil
		}
		var out []string
		for _, line := range sections[i][1:] {
			out = append(out, listMarkerPattern.ReplaceAllString(line, ""))
		}
		return out
	}

	return &model.Trends{
		NicheTrends:       items(0),
		ContentStrategies: items(1),
	}
}
