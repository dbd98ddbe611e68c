package history

import (
	"strings"

	"github.com/lei/readme-gateway/internal/models"
)

// Filter returns the records whose repository name, owner or URL contains
// search and whose status matches. Empty arguments match everything.
func Filter(records []models.HistoryRecord, search string, status models.RecordStatus) []models.HistoryRecord {
	if search == "" && status == "" {
		return records
	}

	filtered := make([]models.HistoryRecord, 0, len(records))
	searchLower := strings.ToLower(search)

	for _, r := range records {
		// Search filter
		if search != "" && !matchesSearch(r, searchLower) {
			continue
		}

		// Status filter
		if status != "" && r.Status != status {
			continue
		}

		filtered = append(filtered, r)
	}

	return filtered
}

func matchesSearch(r models.HistoryRecord, searchLower string) bool {
	for _, field := range []string{r.RepoName, r.RepoOwner, r.RepoURL} {
		if strings.Contains(strings.ToLower(field), searchLower) {
			return true
		}
	}
	return false
}

// ParseStatus parses a status filter value. Empty input means no filter.
func ParseStatus(value string) (models.RecordStatus, bool) {
	switch v := models.RecordStatus(strings.ToLower(strings.TrimSpace(value))); v {
	case "":
		return "", true
	case models.RecordProcessing, models.RecordCompleted, models.RecordFailed, models.RecordUnknown:
		return v, true
	default:
		return "", false
	}
}
