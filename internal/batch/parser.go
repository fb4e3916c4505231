package batch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/manash/promptbridge/pkg/models"
)

// Item is one prompt to optimize. Empty Mode or Target fall back to the
// batch defaults.
type Item struct {
	Index  int
	Prompt string
	Mode   models.OptimizationMode
	Target models.TargetAI
}

type jsonItem struct {
	Prompt string `json:"prompt"`
	Mode   string `json:"mode,omitempty"`
	Target string `json:"target,omitempty"`
}

func ParseFile(path string) ([]Item, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		return ParseJSON(file)
	case ".txt", "":
		return ParseText(file)
	default:
		return nil, fmt.Errorf("unsupported file format %q: use .txt or .json", ext)
	}
}

// ParseText reads one prompt per line. Blank lines and lines starting with
// # are skipped.
func ParseText(r io.Reader) ([]Item, error) {
	var items []Item
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	index := 0

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		index++
		items = append(items, Item{
			Index:  index,
			Prompt: line,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("no prompts found in file")
	}

	return items, nil
}

// ParseJSON reads an array of {"prompt", "mode", "target"} objects.
func ParseJSON(r io.Reader) ([]Item, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var jsonItems []jsonItem
	if err := json.Unmarshal(data, &jsonItems); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	if len(jsonItems) == 0 {
		return nil, fmt.Errorf("no prompts found in file")
	}

	items := make([]Item, len(jsonItems))
	for i, ji := range jsonItems {
		if strings.TrimSpace(ji.Prompt) == "" {
			return nil, fmt.Errorf("item %d has empty prompt", i+1)
		}
		item := Item{Index: i + 1, Prompt: ji.Prompt}
		if ji.Mode != "" {
			mode, err := models.ParseMode(strings.ToLower(strings.TrimSpace(ji.Mode)))
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i+1, err)
			}
			item.Mode = mode
		}
		if ji.Target != "" {
			target, err := models.ParseTarget(strings.ToLower(strings.TrimSpace(ji.Target)))
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i+1, err)
			}
			item.Target = target
		}
		items[i] = item
	}

	return items, nil
}
