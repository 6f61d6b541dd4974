// Package pr builds pull request content for a finished session's
// integration branch and opens the PR through the gh CLI.
package pr

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/srhall/gitcrew/internal/git"
)

// Content is a rendered PR title and body.
type Content struct {
	Title string
	Body  string
}

// TaskLine summarizes one task in the PR body.
type TaskLine struct {
	Name   string
	Branch string
	Status string
}

// TemplateData feeds the PR body template.
type TemplateData struct {
	SessionID         string
	IntegrationBranch string
	Tasks             []TaskLine
	MergedBranches    []string
}

const bodyTemplate = `## Summary

Integration branch for session {{.SessionID}}. {{len .MergedBranches}} branch(es) merged into {{.IntegrationBranch}}.

## Tasks
{{range .Tasks}}- **{{.Name}}** ({{.Branch}}): {{.Status}}
{{end}}
## Merged Branches
{{range .MergedBranches}}- {{.}}
{{end}}`

// BuildContent renders the PR title and body from the session outcome.
func BuildContent(data TemplateData) (*Content, error) {
	tmpl, err := template.New("body").Parse(bodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse pr template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render pr body: %w", err)
	}
	return &Content{
		Title: fmt.Sprintf("Integrate session %s", data.SessionID),
		Body:  buf.String(),
	}, nil
}

// Options controls PR creation.
type Options struct {
	Title string
	Body  string
	// Head is the branch the PR proposes to merge.
	Head string
	// Base is the branch the PR targets.
	Base  string
	Draft bool
}

// Create opens a PR with the gh CLI and returns the PR URL.
func Create(ctx context.Context, executor git.CommandExecutor, dir string, opts Options) (string, error) {
	args := []string{"pr", "create",
		"--title", opts.Title,
		"--body", opts.Body,
		"--head", opts.Head,
		"--base", opts.Base,
	}
	if opts.Draft {
		args = append(args, "--draft")
	}
	out, err := executor.Run(ctx, dir, "gh", args...)
	if err != nil {
		return "", fmt.Errorf("gh pr create: %w\n%s", err, string(out))
	}
	return strings.TrimSpace(string(out)), nil
}
