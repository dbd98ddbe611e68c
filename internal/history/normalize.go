package history

import (
	"encoding/json"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lei/readme-gateway/internal/models"
	"github.com/lei/readme-gateway/internal/repourl"
)

// Field aliases observed across backend versions. The canonical JSON name of
// each HistoryRecord field is always the first alias so normalizing a
// canonical record is the identity.
var (
	requestIDKeys     = []string{"requestId", "request_id", "id"}
	repoIDKeys        = []string{"repoId", "repo_id"}
	repoNameKeys      = []string{"repoName", "repo_name", "repositoryName"}
	repoURLKeys       = []string{"repoUrl", "repo_url", "githubUrl", "github_url"}
	repoOwnerKeys     = []string{"repoOwner", "repo_owner", "owner"}
	statusKeys        = []string{"status"}
	createdAtKeys     = []string{"createdAt", "created_at", "timestamp"}
	updatedAtKeys     = []string{"updatedAt", "updated_at"}
	completedAtKeys   = []string{"completedAt", "completed_at"}
	processingKeys    = []string{"processingTimeSeconds", "processing_time_seconds", "processingTime"}
	projectTypeKeys   = []string{"projectType", "project_type"}
	languageKeys      = []string{"primaryLanguage", "primary_language", "language"}
	frameworksKeys    = []string{"frameworks"}
	techStackKeys     = []string{"techStack", "tech_stack"}
	confidenceKeys    = []string{"confidenceScore", "confidence", "confidence_score"}
	accuracyKeys      = []string{"accuracyPercentage", "accuracy", "accuracy_percentage"}
	qualityKeys       = []string{"qualityScore", "quality_score", "quality"}
	filesAnalyzedKeys = []string{"filesAnalyzedCount", "filesAnalyzed", "files_analyzed"}
	inlineContentKeys = []string{"inlineContent", "readmeContent", "readme_content", "content"}
	contentURLKeys    = []string{"contentUrl", "readmeUrl", "readmeS3Url", "readme_url", "s3Url"}
	previewKeys       = []string{"readmePreview", "readme_preview", "preview"}
)

// Normalizer maps heterogeneous upstream items onto models.HistoryRecord
type Normalizer struct {
	canonicalHost string
	legacyHosts   map[string]bool
}

// NewNormalizer creates a normalizer that rewrites URLs on any of
// legacyHosts to canonicalHost. An empty canonicalHost disables rewriting.
func NewNormalizer(canonicalHost string, legacyHosts []string) *Normalizer {
	n := &Normalizer{
		canonicalHost: strings.ToLower(strings.TrimSpace(canonicalHost)),
		legacyHosts:   make(map[string]bool, len(legacyHosts)),
	}
	for _, h := range legacyHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			n.legacyHosts[h] = true
		}
	}
	return n
}

// Normalize converts one raw item. Missing or malformed fields take their
// zero value; it never fails.
func (n *Normalizer) Normalize(raw map[string]any) models.HistoryRecord {
	rec := models.HistoryRecord{
		RequestID:          str(raw, requestIDKeys...),
		RepoID:             str(raw, repoIDKeys...),
		RepoName:           str(raw, repoNameKeys...),
		RepoURL:            str(raw, repoURLKeys...),
		RepoOwner:          str(raw, repoOwnerKeys...),
		Status:             normalizeStatus(str(raw, statusKeys...)),
		CreatedAt:          timestamp(raw, createdAtKeys...),
		UpdatedAt:          timestamp(raw, updatedAtKeys...),
		ProjectType:        str(raw, projectTypeKeys...),
		PrimaryLanguage:    str(raw, languageKeys...),
		Frameworks:         stringList(raw, frameworksKeys...),
		TechStack:          stringList(raw, techStackKeys...),
		ConfidenceScore:    percentage(raw, confidenceKeys...),
		AccuracyPercentage: percentage(raw, accuracyKeys...),
		QualityScore:       normalizeQuality(str(raw, qualityKeys...)),
		FilesAnalyzedCount: int(math.Max(0, number(raw, filesAnalyzedKeys...))),
		InlineContent:      text(raw, inlineContentKeys...),
		ContentURL:         n.RewriteURL(str(raw, contentURLKeys...)),
		ReadmePreview:      text(raw, previewKeys...),
	}

	if t := timestamp(raw, completedAtKeys...); !t.IsZero() {
		rec.CompletedAt = &t
	}
	if _, ok := lookup(raw, processingKeys...); ok {
		secs := math.Max(0, number(raw, processingKeys...))
		rec.ProcessingTimeSeconds = &secs
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}

	if rec.RepoOwner == "" || rec.RepoName == "" {
		if repo, err := repourl.Parse(rec.RepoURL); err == nil {
			if rec.RepoOwner == "" {
				rec.RepoOwner = repo.Owner
			}
			if rec.RepoName == "" {
				rec.RepoName = repo.Name
			}
		}
	}

	return rec
}

// NormalizeRecord round-trips a canonical record through Normalize. Used on
// records that may have been built by hand or read from older caches.
func (n *Normalizer) NormalizeRecord(rec models.HistoryRecord) models.HistoryRecord {
	data, err := json.Marshal(rec)
	if err != nil {
		return rec
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return rec
	}
	return n.Normalize(raw)
}

// RewriteURL replaces a legacy CDN host with the canonical one
func (n *Normalizer) RewriteURL(raw string) string {
	if raw == "" || n.canonicalHost == "" || len(n.legacyHosts) == 0 {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || !n.legacyHosts[strings.ToLower(u.Host)] {
		return raw
	}
	u.Host = n.canonicalHost
	return u.String()
}

// IsLegacyHost reports whether host is a known-bad CDN host
func (n *Normalizer) IsLegacyHost(host string) bool {
	return n.legacyHosts[strings.ToLower(host)]
}

func normalizeStatus(s string) models.RecordStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "processing", "running", "in_progress", "pending", "executing":
		return models.RecordProcessing
	case "completed", "succeeded", "success", "complete":
		return models.RecordCompleted
	case "failed", "error", "timed_out", "aborted":
		return models.RecordFailed
	default:
		return models.RecordUnknown
	}
}

func normalizeQuality(s string) models.QualityScore {
	switch models.QualityScore(strings.ToLower(strings.TrimSpace(s))) {
	case models.QualityBasic:
		return models.QualityBasic
	case models.QualityPremium:
		return models.QualityPremium
	default:
		return models.QualityStandard
	}
}

// lookup returns the first alias present with a non-null value
func lookup(raw map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func str(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// text is str for document bodies: whitespace-only values are skipped but
// kept values are returned verbatim
func text(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := raw[k].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// number safe-parses a numeric field. Strings are parsed; anything else
// that is not a number yields 0.
func number(raw map[string]any, keys ...string) float64 {
	v, ok := lookup(raw, keys...)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0
		}
		return n
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(n), "%")), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		return f
	default:
		return 0
	}
}

func percentage(raw map[string]any, keys ...string) float64 {
	return math.Min(100, math.Max(0, number(raw, keys...)))
}

// stringList returns a list field, or an empty list if absent or not
// list-shaped
func stringList(raw map[string]any, keys ...string) []string {
	out := []string{}
	v, ok := lookup(raw, keys...)
	if !ok {
		return out
	}
	items, ok := v.([]any)
	if !ok {
		return out
	}
	for _, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

// timestamp parses RFC 3339 strings or epoch seconds/milliseconds
func timestamp(raw map[string]any, keys ...string) time.Time {
	v, ok := lookup(raw, keys...)
	if !ok {
		return time.Time{}
	}
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC()
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return epoch(f)
		}
	case float64:
		return epoch(t)
	}
	return time.Time{}
}

func epoch(f float64) time.Time {
	if f <= 0 {
		return time.Time{}
	}
	// Values past 1e11 are milliseconds
	if f > 1e11 {
		return time.UnixMilli(int64(f)).UTC()
	}
	return time.Unix(int64(f), 0).UTC()
}
