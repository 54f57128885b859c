// Package display renders matcher results for the terminal, or as JSON for
// scripting.
package display

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/noot-app/ingredient-matcher/internal/dedupe"
	"github.com/noot-app/ingredient-matcher/internal/match"
	"github.com/noot-app/ingredient-matcher/internal/nutrition"
	"github.com/noot-app/ingredient-matcher/internal/reference"
	"github.com/noot-app/ingredient-matcher/internal/rematch"
	"github.com/noot-app/ingredient-matcher/internal/service"
	"github.com/noot-app/ingredient-matcher/internal/store"
	"github.com/noot-app/ingredient-matcher/internal/types"
)

// Styles for terminal output.
var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	goodStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	lowStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	manualStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("5"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
	cyanStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

// PrintJSON writes v as indented JSON
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintQuery renders match candidates
func PrintQuery(w io.Writer, res service.QueryResult) {
	fmt.Fprintf(w, "\n%s %s — %s\n",
		headerStyle.Render("Matches for"),
		titleStyle.Render(fmt.Sprintf("%q", res.Query)),
		cyanStyle.Render(string(res.CatalogKind)),
	)
	meta := []string{"key: " + res.Normalized}
	if res.Quantity != nil {
		meta = append(meta, fmt.Sprintf("quantity: %g %s", *res.Quantity, res.Unit))
	}
	if len(res.Qualifiers) > 0 {
		meta = append(meta, "qualifiers: "+strings.Join(res.Qualifiers, ", "))
	}
	fmt.Fprintf(w, "%s\n\n", dimStyle.Render(strings.Join(meta, " | ")))

	if len(res.Candidates) == 0 {
		fmt.Fprintf(w, "  %s\n\n", dimStyle.Render("no match"))
		return
	}
	for i, c := range res.Candidates {
		fmt.Fprintf(w, "  %d. %s %s\n", i+1, confidence(c.Confidence), titleStyle.Render(c.Name))
		fmt.Fprintf(w, "     %s\n", dimStyle.Render(fmt.Sprintf("id %s | %s | raw %.1f", c.ID, c.Tier, c.RawScore)))
	}
	fmt.Fprintln(w)
}

// PrintMatch renders one stored match
func PrintMatch(w io.Writer, m types.MatchRecord) {
	tag := ""
	if m.Manual {
		tag = manualStyle.Render("MANUAL") + " "
	}
	fmt.Fprintf(w, "  %s%s %s → %s\n", tag, confidence(m.Confidence), titleStyle.Render(m.SourceID), cyanStyle.Render(m.TargetID))
	fmt.Fprintf(w, "    %s\n", dimStyle.Render(fmt.Sprintf("id %s | %s | %s | updated %s",
		m.ID, m.CatalogKind, m.MatchType, m.UpdatedAt.Format("2006-01-02 15:04:05"))))
}

// PrintMatches renders a page of matches
func PrintMatches(w io.Writer, page store.Page) {
	fmt.Fprintf(w, "\n%s — %s\n\n",
		headerStyle.Render("Stored matches"),
		cyanStyle.Render(fmt.Sprintf("%d-%d of %d", min(page.Offset+1, page.Total), page.Offset+len(page.Matches), page.Total)),
	)
	for _, m := range page.Matches {
		PrintMatch(w, m)
	}
	if page.HasMore {
		fmt.Fprintf(w, "\n%s\n", dimStyle.Render(fmt.Sprintf("more: --offset %d", page.Offset+len(page.Matches))))
	}
	fmt.Fprintln(w)
}

// PrintStats renders match statistics
func PrintStats(w io.Writer, s match.Stats) {
	fmt.Fprintf(w, "%s %d matches, %d manual, %d low confidence, average %.1f\n",
		headerStyle.Render("Summary:"), s.Total, s.Manual, s.LowConfidence, s.AverageConfidence)
	for _, t := range sortedKeys(s.ByType) {
		fmt.Fprintf(w, "  %s: %d\n", cyanStyle.Render(string(t)), s.ByType[t])
	}
}

// PrintBreakdown renders a nutrition breakdown
func PrintBreakdown(w io.Writer, b nutrition.Breakdown) {
	title := b.Title
	if title == "" {
		title = b.RecipeID
	}
	if title == "" {
		title = "Recipe"
	}
	fmt.Fprintf(w, "\n%s — %s\n\n",
		headerStyle.Render(title),
		cyanStyle.Render(fmt.Sprintf("%d servings", max(b.Servings, 1))),
	)

	for _, it := range b.Items {
		line := fmt.Sprintf("%g %s %s", it.Amount, it.Unit, it.Name)
		if !it.Matched {
			fmt.Fprintf(w, "  %s %s\n", warningStyle.Render("?"), line)
			fmt.Fprintf(w, "    %s\n", dimStyle.Render(fmt.Sprintf("%.0f g | unmatched, contribution unknown", it.Grams)))
			continue
		}
		fmt.Fprintf(w, "  %s %s → %s\n", confidence(it.Confidence), line, titleStyle.Render(it.FoodName))
		fmt.Fprintf(w, "    %s\n", dimStyle.Render(fmt.Sprintf("%.0f g | %s", it.Grams, nutrients(it.Contribution))))
	}

	fmt.Fprintf(w, "\n  %s %s\n", titleStyle.Render("Total:      "), nutrients(&b.Totals))
	fmt.Fprintf(w, "  %s %s\n", titleStyle.Render("Per serving:"), nutrients(&b.PerServing))
	if extra := extras(b.Totals.Extra); extra != "" {
		fmt.Fprintf(w, "  %s %s\n", titleStyle.Render("Other total:"), dimStyle.Render(extra))
	}
	if len(b.Unmatched) > 0 {
		fmt.Fprintf(w, "  %s\n", warningStyle.Render("Not included: "+strings.Join(b.Unmatched, ", ")))
	}
	for _, c := range b.Caveats {
		fmt.Fprintf(w, "  %s\n", dimStyle.Render("note: "+c))
	}
	fmt.Fprintln(w)
}

// PrintLoadStats renders reference load statistics
func PrintLoadStats(w io.Writer, s reference.LoadStats) {
	fmt.Fprintf(w, "%s %d rows, %d foods, %d skipped, %d duplicate parameters (%s)\n",
		headerStyle.Render("Reference loaded:"),
		s.RowsProcessed, s.RecordsProduced, s.RowsSkipped, s.DuplicateParameters, s.Duration.Round(time.Millisecond))
	for _, reason := range sortedKeys(s.SkipReasons) {
		fmt.Fprintf(w, "  %s: %d\n", warningStyle.Render(reason), s.SkipReasons[reason])
	}
}

// PrintMergeStats renders product merge statistics
func PrintMergeStats(w io.Writer, s reference.MergeStats) {
	fmt.Fprintf(w, "%s %d scraped, %d added, %d updated, %d now unavailable, %d duplicates, %d skipped\n",
		headerStyle.Render("Products merged:"), s.Scraped, s.Added, s.Updated, s.Unavailable, s.Duplicates, s.Skipped)
}

// PrintRematch renders a rematch report
func PrintRematch(w io.Writer, r rematch.Report) {
	state := goodStyle.Render("completed")
	if !r.Completed {
		state = warningStyle.Render("interrupted, run again to resume")
	}
	fmt.Fprintf(w, "\n%s %s — %s\n", headerStyle.Render("Rematch"), titleStyle.Render(r.Job), state)
	if r.ResumedAfter != "" {
		fmt.Fprintf(w, "%s\n", dimStyle.Render("resumed after "+r.ResumedAfter))
	}
	for _, st := range sortedKeys(r.Counts) {
		fmt.Fprintf(w, "  %s: %d\n", cyanStyle.Render(string(st)), r.Counts[st])
	}
	for _, res := range r.Results {
		if res.Status == rematch.StatusError {
			fmt.Fprintf(w, "  %s\n", errorStyle.Render(res.SourceID+": "+res.Error))
		}
	}
	fmt.Fprintln(w)
}

// PrintDuplicates renders duplicate ingredient groups
func PrintDuplicates(w io.Writer, groups []dedupe.Group[service.IngredientRef]) {
	fmt.Fprintf(w, "\n%s — %s\n\n",
		headerStyle.Render("Duplicate ingredient names"),
		cyanStyle.Render(fmt.Sprintf("%d groups", len(groups))),
	)
	for _, g := range groups {
		fmt.Fprintf(w, "  %s keep %s\n", titleStyle.Render(g.Key), goodStyle.Render(ref(g.Kept)))
		for _, d := range g.Dropped {
			fmt.Fprintf(w, "    %s\n", dimStyle.Render("duplicate "+ref(d)))
		}
	}
	fmt.Fprintln(w)
}

// PrintError prints a styled error message.
func PrintError(w io.Writer, msg string) {
	fmt.Fprintln(w, errorStyle.Render(msg))
}

// PrintWarning prints a styled warning message.
func PrintWarning(w io.Writer, msg string) {
	fmt.Fprintln(w, warningStyle.Render(msg))
}

func ref(r service.IngredientRef) string {
	return fmt.Sprintf("%q (%s/%s)", r.Name, r.RecipeID, r.ID)
}

func confidence(c int) string {
	s := fmt.Sprintf("[%3d]", c)
	if match.IsLowConfidence(c) {
		return lowStyle.Render(s)
	}
	return goodStyle.Render(s)
}

// nutrients formats the core nutrients, "?" for unknown values
func nutrients(n *types.Nutrients) string {
	if n == nil {
		return "unknown"
	}
	labels := map[string]string{
		types.NutrientProtein:      "protein",
		types.NutrientCarbohydrate: "carbs",
		types.NutrientFat:          "fat",
		types.NutrientFiber:        "fiber",
	}
	parts := make([]string, 0, len(types.NutrientNames))
	for _, name := range types.NutrientNames {
		v := n.Get(name)
		value := "?"
		if v != nil {
			value = fmt.Sprintf("%.1f", *v)
		}
		if name == types.NutrientEnergy {
			parts = append(parts, value+" kcal")
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s g", labels[name], value))
	}
	return strings.Join(parts, " | ")
}

// extras formats extra reference parameters by name, "?" for unknown values
func extras(extra map[string]*float64) string {
	parts := make([]string, 0, len(extra))
	for _, name := range sortedKeys(extra) {
		value := "?"
		if v := extra[name]; v != nil {
			value = fmt.Sprintf("%.1f", *v)
		}
		parts = append(parts, name+" "+value)
	}
	return strings.Join(parts, " | ")
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
