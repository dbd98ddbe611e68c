package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/lei/readme-gateway/internal/models"
)

// listKeys are the envelope keys the history list has been published under,
// in lookup order
var listKeys = []string{"records", "history", "items"}

// ExtractItems finds the record list inside a history response. It checks
// data.records, data.history, data.items, then the same keys at the top
// level, then data itself and finally a bare top-level array. The first
// present non-null list wins.
func ExtractItems(body []byte) ([]map[string]any, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty history response")
	}

	if body[0] == '[' {
		var items []any
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("decode history list: %w", err)
		}
		return objects(items), nil
	}

	var envelope map[string]any
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode history envelope: %w", err)
	}

	if data, ok := envelope["data"].(map[string]any); ok {
		if items, ok := firstList(data); ok {
			return objects(items), nil
		}
	}
	if items, ok := firstList(envelope); ok {
		return objects(items), nil
	}
	if items, ok := envelope["data"].([]any); ok {
		return objects(items), nil
	}

	return nil, fmt.Errorf("history response has no record list")
}

func firstList(m map[string]any) ([]any, bool) {
	for _, k := range listKeys {
		if items, ok := m[k].([]any); ok {
			return items, true
		}
	}
	return nil, false
}

// objects keeps the object-shaped entries of a list
func objects(items []any) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// Parse decodes, normalizes and sorts a history response
func (n *Normalizer) Parse(body []byte) ([]models.HistoryRecord, error) {
	items, err := ExtractItems(body)
	if err != nil {
		return nil, err
	}

	records := make([]models.HistoryRecord, 0, len(items))
	for _, item := range items {
		records = append(records, n.Normalize(item))
	}
	SortByRecency(records)
	return records, nil
}

// SortByRecency orders records newest first. Ties keep their upstream order.
func SortByRecency(records []models.HistoryRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}
