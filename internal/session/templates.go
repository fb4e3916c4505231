package session

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownTemplate = errors.New("unknown template")

// Template is a canned starting prompt with bracketed placeholders.
type Template struct {
	ID       string
	Name     string
	Category string
	Text     string
}

var templates = []Template{
	{
		ID:       "code",
		Name:     "Code Generation",
		Category: "Development",
		Text:     "Create a [language] script that [functionality]. Requirements:\n- [requirement 1]\n- [requirement 2]\nConstraints: [constraints]",
	},
	{
		ID:       "analysis",
		Name:     "Data Analysis",
		Category: "Analysis",
		Text:     "Analyze the following data: [data description]\nFocus on: [key metrics]\nProvide insights on: [analysis goals]",
	},
	{
		ID:       "writing",
		Name:     "Content Writing",
		Category: "Writing",
		Text:     "Write a [type] about [topic]\nTone: [tone]\nLength: [length]\nKey points to cover: [points]",
	},
	{
		ID:       "problem",
		Name:     "Problem Solving",
		Category: "Strategy",
		Text:     "I need to solve: [problem]\nConstraints: [constraints]\nDesired outcome: [outcome]\nPlease provide step-by-step solutions.",
	},
	{
		ID:       "learning",
		Name:     "Learning Path",
		Category: "Education",
		Text:     "Create a learning roadmap for: [skill/topic]\nCurrent level: [beginner/intermediate/advanced]\nTime available: [timeframe]\nGoal: [end goal]",
	},
	{
		ID:       "brainstorm",
		Name:     "Brainstorming",
		Category: "Creative",
		Text:     "Generate innovative ideas for: [topic]\nContext: [context]\nTarget audience: [audience]\nConstraints: [constraints]",
	},
}

// Templates returns the built-in templates in display order.
func Templates() []Template {
	out := make([]Template, len(templates))
	copy(out, templates)
	return out
}

// FindTemplate looks a template up by id or by case-insensitive name.
func FindTemplate(key string) (Template, error) {
	key = strings.TrimSpace(key)
	for _, t := range templates {
		if t.ID == strings.ToLower(key) || strings.EqualFold(t.Name, key) {
			return t, nil
		}
	}
	return Template{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, key)
}
