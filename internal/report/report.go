// SPDX-License-Identifier: MPL-2.0

package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/invowk/stagehand/internal/build"
	"github.com/invowk/stagehand/internal/ledger"
	"github.com/invowk/stagehand/internal/promote"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

type (
	// Renderer writes Markdown summaries.
	Renderer struct {
		out    io.Writer
		styled bool
		width  int
		render func(md string) (string, error)
	}

	// Option configures a Renderer.
	Option func(*Renderer)
)

// WithStyled forces styled or plain output.
func WithStyled(styled bool) Option {
	return func(r *Renderer) { r.styled = styled }
}

// WithWidth sets the word-wrap width of styled output.
func WithWidth(width int) Option {
	return func(r *Renderer) { r.width = width }
}

// New creates a Renderer for out. Output is styled when out is a terminal.
func New(out io.Writer, opts ...Option) *Renderer {
	r := &Renderer{out: out, styled: IsTerminal(out), width: 100}
	for _, opt := range opts {
		opt(r)
	}
	r.render = r.glamour
	return r
}

// IsTerminal reports whether w is a terminal file.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Render writes md, styled when enabled. Styling failures fall back to the
// plain text.
func (r *Renderer) Render(md string) error {
	text := md
	if r.styled {
		if out, err := r.render(md); err == nil {
			text = out
		}
	}
	_, err := io.WriteString(r.out, text)
	return err
}

func (r *Renderer) glamour(md string) (string, error) {
	tr, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(r.width))
	if err != nil {
		return "", err
	}
	return tr.Render(md)
}

// Build summarizes a build run. Collected component errors are always listed.
func Build(res *build.Result) string {
	var b strings.Builder
	b.WriteString("# Build summary\n\n")
	fmt.Fprintf(&b, "%d of %d components built", res.ValidCount(), len(res.Components))
	if res.DryRun != "" {
		fmt.Fprintf(&b, " (dry run: %s)", res.DryRun)
	}
	fmt.Fprintf(&b, " in %s.\n\n", res.Duration.Round(time.Millisecond))

	if len(res.Components) > 0 {
		b.WriteString("| Component | Version | Status |\n|---|---|---|\n")
		for _, c := range res.Components {
			status := "ok"
			if !c.Valid {
				status = fmt.Sprintf("failed (%d)", len(c.Errors))
			}
			fmt.Fprintf(&b, "| %s | %s | %s |\n", cell(c.ID), cell(c.Version), status)
		}
		b.WriteString("\n")
	}

	artifacts := []struct{ name, path string }{
		{"Packages", res.PackagesDir},
		{"Installer config", res.ConfigDir},
		{"Installer", res.Installer},
		{"Repository", res.Repository},
	}
	var listed bool
	for _, a := range artifacts {
		if a.path == "" {
			continue
		}
		if !listed {
			b.WriteString("## Artifacts\n\n")
			listed = true
		}
		fmt.Fprintf(&b, "- %s: `%s`\n", a.name, a.path)
	}
	if listed {
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Errors (%d)\n\n", res.ErrorCount())
	if res.ErrorCount() == 0 {
		b.WriteString("None.\n")
		return b.String()
	}
	for _, c := range res.Components {
		for _, err := range c.Errors {
			fmt.Fprintf(&b, "- **%s**: %s\n", c.ID, oneLine(err.Error()))
		}
	}
	return b.String()
}

// Promote summarizes a promotion run and the syncs it started.
func Promote(res *promote.Result, tasks []promote.SyncTask) string {
	var b strings.Builder
	b.WriteString("# Promotion summary\n\n")
	if res != nil && len(res.Jobs) > 0 {
		b.WriteString("| Repository | State | Areas | Notified |\n|---|---|---|---|\n")
		for _, j := range res.Jobs {
			areas := make([]string, 0, len(j.Areas))
			for _, a := range j.Areas {
				areas = append(areas, fmt.Sprintf("%s: %s", a.Area, a.Action))
			}
			if len(areas) == 0 {
				areas = append(areas, "pending only")
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", cell(j.RepoPath), j.State, strings.Join(areas, ", "), yesNo(j.Notified))
		}
		b.WriteString("\n")
		for _, j := range res.Jobs {
			for _, a := range j.Areas {
				for _, adv := range a.Advances {
					from := adv.From
					if from == "" {
						from = "new"
					}
					fmt.Fprintf(&b, "- %s `%s`: %s → %s\n", j.RepoPath, adv.Name, from, adv.To)
				}
			}
		}
	}
	if len(tasks) > 0 {
		b.WriteString("\n## Mirror syncs\n\n")
		for _, t := range tasks {
			fmt.Fprintf(&b, "- %s %s, log `%s`\n", t.Target, t.RepoPath, t.LogFile)
		}
	}
	return b.String()
}

// Ledger lists ledger jobs.
func Ledger(jobs []ledger.Job) string {
	var b strings.Builder
	b.WriteString("# Ledger\n\n")
	if len(jobs) == 0 {
		b.WriteString("No jobs.\n")
		return b.String()
	}
	counts := map[ledger.State]int{}
	b.WriteString("| Repository | Platform | State | Target index |\n|---|---|---|---|\n")
	for _, j := range jobs {
		counts[j.State]++
		fmt.Fprintf(&b, "| %s | %s | %s | `%s` |\n", cell(j.RepoPath), cell(j.PlatformSpecifier), j.State, j.TargetIndexPath)
	}
	fmt.Fprintf(&b, "\n%d initial, %d ongoing, %d done.\n",
		counts[ledger.StateInitial], counts[ledger.StateOngoing], counts[ledger.StateDone])
	return b.String()
}

func cell(s string) string {
	if s == "" {
		return "-"
	}
	return strings.ReplaceAll(s, "|", `\|`)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
