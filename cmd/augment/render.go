// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/invowk/augment/internal/issue"
	"github.com/invowk/augment/internal/merge"
	"github.com/invowk/augment/internal/problem"
)

// issueStyle is the glamour style for catalog entries.
const issueStyle = "dark"

// renderIssue writes the catalog entry id to w. Rendering failures fall
// back to the raw Markdown.
func renderIssue(w io.Writer, id issue.Id) {
	entry := issue.Get(id)
	if entry == nil {
		return
	}
	rendered, err := entry.Render(issueStyle)
	if err != nil {
		rendered = string(entry.MarkdownMsg())
	}
	_, _ = fmt.Fprint(w, rendered)
}

// renderProblems writes one line per problem followed by the catalog entry
// of every distinct kind of problem, in first-seen order.
func renderProblems(w io.Writer, probs problem.List) {
	if len(probs) == 0 {
		return
	}
	_, _ = fmt.Fprintf(w, "%s %d problem(s)\n", ErrorStyle.Render("Error:"), len(probs))

	var (
		seen     = make(map[issue.Id]bool)
		catalogs []issue.Id
	)
	for _, p := range probs {
		loc := p.Path
		if p.Line > 0 {
			loc += ":" + strconv.Itoa(p.Line)
		}
		if loc != "" {
			loc = problemLocationStyle.Render(loc) + " "
		}
		_, _ = fmt.Fprintf(w, "  %s%s %s\n", loc, problemCategoryStyle.Render("["+string(p.Category)+"]"), p.Message)

		if entry := issue.ForProblem(p); entry != nil && !seen[entry.Id()] {
			seen[entry.Id()] = true
			catalogs = append(catalogs, entry.Id())
		}
	}
	for _, id := range catalogs {
		renderIssue(w, id)
	}
}

// renderOutcome reports what a merge wrote.
func renderOutcome(w io.Writer, out merge.Outcome, changeDetection bool) {
	if !changeDetection {
		_, _ = fmt.Fprintf(w, "%s Merged %d file(s)\n", SuccessStyle.Render("✓"), out.Completion.Files)
		return
	}
	if len(out.Summary.ChangedFiles) == 0 {
		_, _ = fmt.Fprintf(w, "%s Everything is up to date\n", SuccessStyle.Render("✓"))
		return
	}

	_, _ = fmt.Fprintln(w, TitleStyle.Render(fmt.Sprintf("Changed %d file(s)", len(out.Summary.ChangedFiles))))
	for _, f := range out.Summary.ChangedFiles {
		_, _ = fmt.Fprintf(w, "  %s %s %s\n",
			CmdStyle.Render(filepath.Join(f.DestDir, filepath.FromSlash(f.RelativePath))),
			SuccessStyle.Render(fmt.Sprintf("+%d", f.LinesAdded)),
			ErrorStyle.Render(fmt.Sprintf("-%d", f.LinesRemoved)),
		)
	}
}
