package pipeline

import (
	"fmt"
	"strings"
)

// operatorDetailCap bounds per-file error text in the operator summary.
const operatorDetailCap = 200

// Outcome records what happened to one intake file. Err is nil unless
// the file failed; Kind then classifies the failure.
type Outcome struct {
	FileName  string
	LogID     int64
	Duplicate bool
	Skipped   bool
	Kind      Kind
	Err       error
}

// Failed reports whether the file failed to load.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// CodeActionable reports whether the failure needs operator attention
// rather than a fixed file from its owner.
func (o Outcome) CodeActionable() bool {
	return o.Failed() && !o.Kind.OwnerActionable()
}

// Summary aggregates the outcomes of one run.
type Summary struct {
	Total      int
	Succeeded  int
	Duplicates int
	Skipped    int

	// OwnerFailures are file-content failures already reported to the
	// source's recipients per file.
	OwnerFailures []Outcome

	// CodeFailures are loader or environment failures that trigger the
	// operator notification.
	CodeFailures []Outcome
}

// Summarize buckets the outcomes of a run.
func Summarize(outcomes []Outcome) Summary {
	s := Summary{Total: len(outcomes)}

	for _, o := range outcomes {
		switch {
		case o.Skipped:
			s.Skipped++
		case o.Duplicate:
			s.Duplicates++
		case !o.Failed():
			s.Succeeded++
		case o.CodeActionable():
			s.CodeFailures = append(s.CodeFailures, o)
		default:
			s.OwnerFailures = append(s.OwnerFailures, o)
		}
	}

	return s
}

// Failures returns the total failed file count across both lanes.
func (s Summary) Failures() int {
	return len(s.OwnerFailures) + len(s.CodeFailures)
}

// OperatorMessage renders the end-of-run report sent to the operations
// channel when any code-actionable failure occurred.
func (s Summary) OperatorMessage() string {
	var b strings.Builder

	fmt.Fprintf(&b, "File processing completed with %d failure(s) out of %d file(s).",
		len(s.CodeFailures), s.Total)

	if len(s.CodeFailures) == 0 {
		return b.String()
	}

	b.WriteString("\n\nFailed files:")

	for _, o := range s.CodeFailures {
		b.WriteString("\n• ")
		b.WriteString(o.FileName)

		if o.LogID > 0 {
			fmt.Fprintf(&b, " (log_id: %d)", o.LogID)
		}

		b.WriteString(": ")
		b.WriteString(o.Kind.String())

		if o.Err != nil {
			b.WriteString(" - ")
			b.WriteString(truncate(o.Err.Error(), operatorDetailCap))
		}
	}

	return b.String()
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}

	return string(runes[:limit]) + "..."
}
