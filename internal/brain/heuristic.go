package brain

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"issuemind.app/triage/internal/model"
)

const (
	heuristicSummaryChars  = 280
	heuristicMaxTags       = 5
	heuristicRelatedLimit  = 5
	heuristicRelatedCutoff = 0.15
)

// priorityKeywords are checked from most to least severe; the first level
// with a match wins.
var priorityKeywords = []struct {
	priority model.Priority
	words    []string
}{
	{model.PriorityUrgent, []string{"outage", "data loss", "production down", "exploit", "security breach", "p0"}},
	{model.PriorityCritical, []string{"crash", "panic", "corrupt", "vulnerability", "security", "cannot login", "can't login", "p1"}},
	{model.PriorityHigh, []string{"regression", "broken", "fails", "failure", "error", "exception", "bug", "p2"}},
	{model.PriorityLow, []string{"typo", "docs", "documentation", "cosmetic", "nice to have", "wording", "p4"}},
}

var tagKeywords = map[string][]string{
	"bug":           {"bug", "error", "crash", "broken", "fails", "exception"},
	"security":      {"security", "vulnerability", "xss", "csrf", "injection", "exploit"},
	"performance":   {"slow", "latency", "performance", "memory leak", "timeout"},
	"documentation": {"docs", "documentation", "readme", "typo"},
	"feature":       {"feature request", "would be nice", "support for", "add support"},
	"ui":            {"button", "layout", "css", "style", "dark mode"},
}

var filePathPattern = regexp.MustCompile(`(?:[\w.-]+/)*[\w.-]+\.(?:go|py|js|jsx|ts|tsx|rb|java|kt|rs|c|cc|cpp|h|hpp|cs|php|swift|scala|sql|yaml|yml|json|toml)\b`)

// HeuristicBackend is a deterministic, offline stand-in for a model. It is
// used when no AI provider is configured.
type HeuristicBackend struct{}

func NewHeuristicBackend() *HeuristicBackend {
	return &HeuristicBackend{}
}

func (HeuristicBackend) Name() string {
	return "heuristic"
}

func (h HeuristicBackend) Run(ctx context.Context, kind model.TaskKind, content IssueContent) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, ClassifyError(err)
	}
	if err := content.Validate(); err != nil {
		return nil, err
	}

	text := strings.ToLower(content.Title + "\n" + content.Body + "\n" + strings.Join(content.Labels, " "))
	result := &Result{Kind: kind}

	switch kind {
	case model.TaskKindSummary:
		result.Summary = &SummaryOutput{
			Summary:  summarize(content),
			Priority: string(guessPriority(text, content.Labels)),
			Tags:     guessTags(text, content.Labels),
		}
	case model.TaskKindExplain:
		result.Explain = &ExplainOutput{Explanation: explain(content)}
	case model.TaskKindFix:
		files := mentionedFiles(content)
		result.Fix = &FixOutput{
			Explanation:   fixSteps(content, files),
			AffectedFiles: files,
		}
	case model.TaskKindRelated:
		matches := []RelatedMatch{}
		for _, s := range RankCandidates(content, heuristicRelatedLimit) {
			if s.Score < heuristicRelatedCutoff {
				continue
			}
			matches = append(matches, RelatedMatch{Title: s.Title, Number: s.Number, Score: s.Score})
		}
		result.Related = &RelatedOutput{Related: matches}
	default:
		return nil, fmt.Errorf("%w: unknown task kind %q", ErrBackendPermanent, kind)
	}

	return result, nil
}

// summarize uses the first paragraph of the body, falling back to the title.
func summarize(content IssueContent) string {
	para := firstParagraph(content.Body)
	if para == "" {
		para = content.Title
	}
	return truncateWords(para, heuristicSummaryChars)
}

func firstParagraph(body string) string {
	for _, p := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n\n") {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "```") || strings.HasPrefix(p, "<!--") {
			continue
		}
		return oneLine(strings.TrimLeft(p, "#> "))
	}
	return ""
}

func truncateWords(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := strings.LastIndex(s[:max], " ")
	if cut <= 0 {
		cut = max
	}
	return strings.TrimRight(s[:cut], " ,.;:") + "..."
}

func guessPriority(text string, labels []string) model.Priority {
	for _, l := range labels {
		l = strings.ToLower(l)
		l = strings.TrimPrefix(l, "priority:")
		l = strings.TrimPrefix(l, "priority/")
		if p, ok := model.ParsePriority(l); ok {
			return p
		}
	}

	for _, level := range priorityKeywords {
		for _, w := range level.words {
			if containsWord(text, w) {
				return level.priority
			}
		}
	}
	return model.PriorityMedium
}

func guessTags(text string, labels []string) []string {
	tags := append([]string(nil), labels...)

	names := make([]string, 0, len(tagKeywords))
	for name := range tagKeywords {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, w := range tagKeywords[name] {
			if containsWord(text, w) {
				tags = append(tags, name)
				break
			}
		}
	}

	tags = normalizeTags(tags)
	if len(tags) > heuristicMaxTags {
		tags = tags[:heuristicMaxTags]
	}
	return tags
}

// containsWord matches w on word boundaries so "error" does not match
// "terror" and "p1" does not match "p10".
func containsWord(text, w string) bool {
	for idx := 0; ; {
		i := strings.Index(text[idx:], w)
		if i < 0 {
			return false
		}
		start, end := idx+i, idx+i+len(w)
		if (start == 0 || !isWordByte(text[start-1])) && (end == len(text) || !isWordByte(text[end])) {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

func explain(content IssueContent) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Issue #%d reports: %s.", content.Number, strings.TrimRight(strings.TrimSpace(content.Title), "."))
	if para := firstParagraph(content.Body); para != "" && para != content.Title {
		sb.WriteString(" ")
		sb.WriteString(truncateWords(para, 400))
	}
	if files := mentionedFiles(content); len(files) > 0 {
		fmt.Fprintf(&sb, " The report points at %s.", strings.Join(files, ", "))
	}
	if n := len(content.Comments); n > 0 {
		fmt.Fprintf(&sb, " The discussion has %d comment(s).", n)
	}
	return sb.String()
}

func mentionedFiles(content IssueContent) []string {
	texts := []string{content.Title, content.Body}
	for _, c := range content.Comments {
		texts = append(texts, c.Body)
	}

	seen := make(map[string]bool)
	files := []string{}
	for _, t := range texts {
		for _, f := range filePathPattern.FindAllString(t, -1) {
			if !seen[f] {
				seen[f] = true
				files = append(files, f)
			}
		}
	}
	return files
}

func fixSteps(content IssueContent, files []string) string {
	var sb strings.Builder
	sb.WriteString("No model is configured, so no diff was generated. Suggested investigation:\n")
	sb.WriteString("1. Reproduce: ")
	sb.WriteString(truncateWords(oneLine(content.Title), 160))
	sb.WriteString("\n")
	if len(files) > 0 {
		fmt.Fprintf(&sb, "2. Start with %s.\n", strings.Join(files, ", "))
	} else {
		sb.WriteString("2. Locate the code path named in the report.\n")
	}
	sb.WriteString("3. Add a failing test before changing behaviour.")
	return sb.String()
}
