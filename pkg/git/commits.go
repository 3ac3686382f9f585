package git

import (
	"context"
	"fmt"
	"strings"
)

const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"
)

// Commit is one entry of a commit range.
type Commit struct {
	Hash    string
	Author  string
	Date    string
	Subject string
	Body    string
}

// CommitSummary describes the commits made since a starting point.
type CommitSummary struct {
	Commits []Commit
	Stat    string
}

// Text renders the summary for inclusion in a prompt.
func (s *CommitSummary) Text() string {
	var b strings.Builder
	for _, c := range s.Commits {
		fmt.Fprintf(&b, "commit %s\nAuthor: %s\nDate: %s\n\n    %s\n", c.Hash, c.Author, c.Date, c.Subject)
		if c.Body != "" {
			for _, line := range strings.Split(c.Body, "\n") {
				fmt.Fprintf(&b, "    %s\n", line)
			}
		}
		b.WriteString("\n")
	}
	if s.Stat != "" {
		b.WriteString(s.Stat)
		b.WriteString("\n")
	}
	return b.String()
}

// CommitsSince summarizes commits after start, oldest first. An empty start
// summarizes the commit at HEAD only.
func (r *Repo) CommitsSince(ctx context.Context, start string) (*CommitSummary, error) {
	rangeSpec := "HEAD"
	logArgs := []string{"log", "--reverse", "--format=%H" + fieldSep + "%an <%ae>" + fieldSep + "%aI" + fieldSep + "%s" + fieldSep + "%b" + recordSep}
	if start != "" {
		rangeSpec = start + "..HEAD"
	} else {
		logArgs = append(logArgs, "-n", "1")
	}
	logArgs = append(logArgs, rangeSpec)

	out, err := r.run(ctx, logArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to list commits since %s: %w", start, err)
	}

	summary := &CommitSummary{}
	for _, record := range strings.Split(out, recordSep) {
		record = strings.Trim(record, "\n")
		if record == "" {
			continue
		}
		fields := strings.SplitN(record, fieldSep, 5)
		if len(fields) < 4 {
			continue
		}
		commit := Commit{Hash: fields[0], Author: fields[1], Date: fields[2], Subject: fields[3]}
		if len(fields) == 5 {
			commit.Body = strings.TrimSpace(fields[4])
		}
		summary.Commits = append(summary.Commits, commit)
	}

	if start != "" && len(summary.Commits) > 0 {
		stat, err := r.run(ctx, "diff", "--stat", rangeSpec)
		if err != nil {
			return nil, fmt.Errorf("failed to diff since %s: %w", start, err)
		}
		summary.Stat = strings.TrimRight(stat, "\n")
	}
	return summary, nil
}
