// Package repourl parses GitHub repository URLs in any of the forms users
// paste (https, scp-style ssh, with or without .git).
package repourl

import (
	"errors"
	"fmt"
	"strings"

	giturls "github.com/whilp/git-urls"
)

// ErrNotGitHub is returned for URLs that do not point at a github.com repository
var ErrNotGitHub = errors.New("not a GitHub repository URL")

// Repo identifies a GitHub repository
type Repo struct {
	Owner string
	Name  string
}

// CanonicalURL returns the https form of the repository URL
func (r Repo) CanonicalURL() string {
	return fmt.Sprintf("https://github.com/%s/%s", r.Owner, r.Name)
}

// FullName returns owner/name
func (r Repo) FullName() string {
	return r.Owner + "/" + r.Name
}

// Parse extracts owner and name from a GitHub repository URL
func Parse(raw string) (Repo, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Repo{}, fmt.Errorf("%w: empty url", ErrNotGitHub)
	}

	u, err := giturls.Parse(raw)
	if err != nil {
		return Repo{}, fmt.Errorf("parse git url: %w", err)
	}

	host := u.Hostname()
	if host == "" {
		host = u.Host
	}
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	if host != "github.com" {
		return Repo{}, fmt.Errorf("%w: host %q", ErrNotGitHub, host)
	}

	path := strings.Trim(u.Path, "/")
	path = strings.TrimSuffix(path, ".git")
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Repo{}, fmt.Errorf("%w: expected github.com/<owner>/<repo>", ErrNotGitHub)
	}

	return Repo{Owner: parts[0], Name: parts[1]}, nil
}
