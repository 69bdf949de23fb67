package report

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Summary is the run record of one analysed contract.
type Summary struct {
	Target      string
	Network     string
	StartTime   time.Time
	EndTime     time.Time
	TxSeen      int
	TxReplayed  int
	TxSkipped   int
	OracleCalls int
	Errors      int
	Candidates  map[string]int
	Findings    []Finding
}

type Generator interface {
	Generate(summary *Summary) (string, error)
}

type MarkdownGenerator struct{}

func NewMarkdownGenerator() *MarkdownGenerator {
	return &MarkdownGenerator{}
}

func (g *MarkdownGenerator) Generate(s *Summary) (string, error) {
	if s == nil {
		return "", fmt.Errorf("nil summary")
	}
	var b strings.Builder

	b.WriteString("# Cross-Contract Control Leak Report\n\n")
	fmt.Fprintf(&b, "**Target**: `%s`\n", s.Target)
	fmt.Fprintf(&b, "**Network**: %s\n", s.Network)
	fmt.Fprintf(&b, "**Started**: %s\n", s.StartTime.Format("2006-01-02 15:04:05"))
	if !s.EndTime.IsZero() {
		fmt.Fprintf(&b, "**Duration**: %s\n", s.EndTime.Sub(s.StartTime).Round(time.Second))
	}
	b.WriteString("\n## Statistics\n\n")
	fmt.Fprintf(&b, "- **Transactions seen**: %d\n", s.TxSeen)
	fmt.Fprintf(&b, "- **Transactions replayed**: %d\n", s.TxReplayed)
	fmt.Fprintf(&b, "- **Transactions skipped**: %d\n", s.TxSkipped)
	fmt.Fprintf(&b, "- **Oracle verifications**: %d\n", s.OracleCalls)
	fmt.Fprintf(&b, "- **Errors**: %d\n", s.Errors)
	fmt.Fprintf(&b, "- **Findings**: %d\n\n", len(s.Findings))

	if len(s.Candidates) > 0 {
		b.WriteString("## Candidates by Kind\n\n")
		kinds := make([]string, 0, len(s.Candidates))
		for k := range s.Candidates {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Fprintf(&b, "- **%s**: %d\n", k, s.Candidates[k])
		}
		b.WriteString("\n")
	}

	if len(s.Findings) == 0 {
		b.WriteString("## No control leak confirmed\n")
		return b.String(), nil
	}

	b.WriteString("## Findings\n\n")
	b.WriteString("| # | Kind | Victim tx | Victim function | Leaking contract | Implicit function | Related function |\n")
	b.WriteString("|---|---|---|---|---|---|---|\n")
	for i, f := range s.Findings {
		fmt.Fprintf(&b, "| %d | %s | `%s` | %s | `%s` | `%s` | `%s` %s |\n",
			i+1, f.Kind, shorten(f.VictimTxHash), escapeCell(f.VictimFunction),
			f.TargetContract, escapeCell(f.TargetFunction), f.RelatedSignature, escapeCell(f.RelatedName))
	}
	b.WriteString("\n")

	for i, f := range s.Findings {
		if len(f.Arguments) == 0 {
			continue
		}
		fmt.Fprintf(&b, "### Finding %d arguments\n\n```\n%s\n```\n\n", i+1, strings.Join(f.Arguments, "\n"))
	}
	return b.String(), nil
}

func shorten(hash string) string {
	if len(hash) <= 14 {
		return hash
	}
	return hash[:10] + ".." + hash[len(hash)-4:]
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
