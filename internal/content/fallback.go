package content

import (
	"fmt"
	"strings"

	"github.com/lei/readme-gateway/internal/models"
)

// Fallback builds the placeholder document shown when no tier produced
// content. The output depends only on rec.
func Fallback(rec models.HistoryRecord) string {
	name := rec.RepoName
	if rec.RepoOwner != "" && rec.RepoName != "" {
		name = rec.RepoOwner + "/" + rec.RepoName
	}
	if name == "" {
		name = "Unknown repository"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", name)
	b.WriteString("> **Note:** The generated README for this repository could not be retrieved. ")
	b.WriteString("The summary below was assembled from the analysis metadata.\n\n")

	b.WriteString("## Repository\n\n")
	fmt.Fprintf(&b, "- **URL:** %s\n", orUnknown(rec.RepoURL))
	fmt.Fprintf(&b, "- **Project type:** %s\n", orUnknown(rec.ProjectType))
	fmt.Fprintf(&b, "- **Primary language:** %s\n", orUnknown(rec.PrimaryLanguage))
	fmt.Fprintf(&b, "- **Frameworks:** %s\n", orUnknown(strings.Join(rec.Frameworks, ", ")))
	if rec.CreatedAt.IsZero() {
		b.WriteString("- **Generated:** Unknown\n")
	} else {
		fmt.Fprintf(&b, "- **Generated:** %s\n", rec.CreatedAt.UTC().Format("2006-01-02 15:04 UTC"))
	}
	fmt.Fprintf(&b, "- **Status:** %s\n\n", orUnknown(string(rec.Status)))

	b.WriteString("## Next steps\n\n")
	b.WriteString("1. Try again in a few minutes. Content can take a moment to reach storage after a generation finishes.\n")
	b.WriteString("2. Regenerate the README for this repository.\n")
	if id := rec.ID(); id != "" {
		fmt.Fprintf(&b, "3. If the problem persists, contact support with request ID `%s`.\n", id)
	} else {
		b.WriteString("3. If the problem persists, contact support.\n")
	}

	return b.String()
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}
