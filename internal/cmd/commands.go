package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/noot-app/ingredient-matcher/internal/display"
	"github.com/noot-app/ingredient-matcher/internal/service"
	"github.com/noot-app/ingredient-matcher/internal/store"
	"github.com/noot-app/ingredient-matcher/internal/types"
)

func newLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Load the reference dataset and product listings and print statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				if jsonOutput(cmd) {
					return display.PrintJSON(out, struct {
						Reference any            `json:"reference"`
						Products  any            `json:"products"`
						Status    service.Status `json:"status"`
					}{a.reference, a.products, a.svc.Status(ctx)})
				}
				if a.reference == nil {
					display.PrintWarning(out, "No reference dataset loaded")
				} else {
					display.PrintLoadStats(out, *a.reference)
				}
				if a.products != nil {
					display.PrintMergeStats(out, *a.products)
				}
				return nil
			})
		},
	}
}

func newMatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match <text>",
		Short: "Match a free-text name against a catalog",
		Example: `  ingredient-matcher match "2 dl revet ost" --hint Mejeri
  ingredient-matcher match gulerødder --catalog product --top-k 5`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("catalog")
			hint, _ := cmd.Flags().GetString("hint")
			topK, _ := cmd.Flags().GetInt("top-k")

			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.svc.Query(ctx, service.QueryRequest{
					FreeText:     strings.Join(args, " "),
					CatalogKind:  types.CatalogKind(kind),
					CategoryHint: hint,
					TopK:         topK,
				})
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return display.PrintJSON(cmd.OutOrStdout(), res)
				}
				display.PrintQuery(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
	cmd.Flags().String("catalog", string(types.CatalogNutrition), "Catalog to match against (nutrition or product)")
	cmd.Flags().String("hint", "", "Category hint used by the category fallback tier")
	cmd.Flags().Int("top-k", 0, "Number of candidates (default TOP_K)")
	return cmd
}

func newMatchesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "matches",
		Short: "Manage stored matches",
	}
	cmd.AddCommand(newMatchesListCmd(), newMatchesAcceptCmd(), newMatchesDeleteCmd(), newMatchesStatsCmd())
	return cmd
}

func newMatchesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored matches, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := store.Filter{}
			f.SourceID, _ = cmd.Flags().GetString("source")
			f.TargetID, _ = cmd.Flags().GetString("target")
			kind, _ := cmd.Flags().GetString("catalog")
			f.CatalogKind = types.CatalogKind(kind)
			f.ManualOnly, _ = cmd.Flags().GetBool("manual")
			f.Offset, _ = cmd.Flags().GetInt("offset")
			f.Limit, _ = cmd.Flags().GetInt("limit")

			return withApp(cmd, func(ctx context.Context, a *app) error {
				page, err := a.svc.ListMatches(ctx, f)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return display.PrintJSON(cmd.OutOrStdout(), page)
				}
				display.PrintMatches(cmd.OutOrStdout(), page)
				return nil
			})
		},
	}
	cmd.Flags().String("source", "", "Only matches for this source id")
	cmd.Flags().String("target", "", "Only matches pointing at this target id")
	cmd.Flags().String("catalog", "", "Only matches into this catalog")
	cmd.Flags().Bool("manual", false, "Only manual matches")
	cmd.Flags().Int("offset", 0, "Number of matches to skip")
	cmd.Flags().Int("limit", store.DefaultLimit, "Page size")
	return cmd
}

func newMatchesAcceptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accept <source-id> <target-id>",
		Short: "Store a match for a source",
		Long: `Store a match for a source. Matches are manual unless --auto is given;
a manual match is never overwritten by automatic matching or rematch runs.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("catalog")
			auto, _ := cmd.Flags().GetBool("auto")
			matchType, _ := cmd.Flags().GetString("type")

			req := service.AcceptRequest{
				SourceID:    args[0],
				TargetID:    args[1],
				CatalogKind: types.CatalogKind(kind),
				MatchType:   types.MatchType(matchType),
				Manual:      !auto,
			}
			if cmd.Flags().Changed("confidence") {
				c, _ := cmd.Flags().GetInt("confidence")
				req.Confidence = &c
			}

			return withApp(cmd, func(ctx context.Context, a *app) error {
				rec, err := a.svc.Accept(ctx, req)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return display.PrintJSON(cmd.OutOrStdout(), rec)
				}
				display.PrintMatch(cmd.OutOrStdout(), rec)
				return nil
			})
		},
	}
	cmd.Flags().String("catalog", string(types.CatalogNutrition), "Catalog the target belongs to")
	cmd.Flags().Bool("auto", false, "Store as an automatic match instead of a manual one")
	cmd.Flags().String("type", "", "Match type of an automatic match (exact, synonym, fuzzy, category-fallback)")
	cmd.Flags().Int("confidence", 0, "Confidence 0-100 (required with --auto)")
	return cmd
}

func newMatchesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <match-id>",
		Short: "Delete a stored match",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				rec, err := a.svc.DeleteMatch(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return display.PrintJSON(cmd.OutOrStdout(), rec)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted match %s (%s → %s)\n", rec.ID, rec.SourceID, rec.TargetID)
				return nil
			})
		},
	}
}

func newMatchesStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize stored matches by type and confidence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("catalog")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				stats, err := a.svc.MatchStats(ctx, types.CatalogKind(kind))
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return display.PrintJSON(cmd.OutOrStdout(), stats)
				}
				display.PrintStats(cmd.OutOrStdout(), stats)
				return nil
			})
		},
	}
	cmd.Flags().String("catalog", "", "Only matches into this catalog")
	return cmd
}

func newBreakdownCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "breakdown [recipe-id]",
		Short: "Compute a recipe's nutrition from its matched ingredients",
		Long: `Compute a recipe's nutrition from the stored matches of its ingredients.

The recipe is looked up in RECIPES_PATH, or read from a JSON file with
--file. Unmatched ingredients are listed and left out of the totals; with
--auto-match they are matched on the fly without storing the result.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			auto, _ := cmd.Flags().GetBool("auto-match")

			req := service.BreakdownRequest{AutoMatch: auto}
			switch {
			case file != "":
				recipe, err := readRecipe(file)
				if err != nil {
					return err
				}
				req.Recipe = &recipe
			case len(args) == 1:
				req.RecipeID = args[0]
			default:
				return fmt.Errorf("a recipe id or --file is required")
			}

			return withApp(cmd, func(ctx context.Context, a *app) error {
				b, err := a.svc.Breakdown(ctx, req)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return display.PrintJSON(cmd.OutOrStdout(), b)
				}
				display.PrintBreakdown(cmd.OutOrStdout(), b)
				return nil
			})
		},
	}
	cmd.Flags().String("file", "", "Read the recipe from a JSON file")
	cmd.Flags().Bool("auto-match", false, "Match ingredients without a stored match on the fly")
	return cmd
}

func readRecipe(path string) (types.Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Recipe{}, fmt.Errorf("failed to read recipe: %w", err)
	}
	var recipe types.Recipe
	if err := json.Unmarshal(data, &recipe); err != nil {
		return types.Recipe{}, fmt.Errorf("failed to parse recipe %s: %w", path, err)
	}
	return recipe, nil
}

func newRematchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rematch",
		Short: "Re-run matching over every recipe ingredient",
		Long: `Re-run matching over every recipe ingredient and store the best match.

Manual matches are left alone. Progress is checkpointed after each chunk;
an interrupted run with the same --job resumes where it stopped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			job, _ := cmd.Flags().GetString("job")
			kind, _ := cmd.Flags().GetString("catalog")

			return withApp(cmd, func(ctx context.Context, a *app) error {
				report, err := a.svc.Rematch(ctx, service.RematchRequest{
					Job:         job,
					CatalogKind: types.CatalogKind(kind),
				})
				if jsonOutput(cmd) {
					if perr := display.PrintJSON(cmd.OutOrStdout(), report); perr != nil {
						return perr
					}
				} else {
					display.PrintRematch(cmd.OutOrStdout(), report)
				}
				return err
			})
		},
	}
	cmd.Flags().String("job", "", "Job name used for checkpointing (default rematch-<catalog>)")
	cmd.Flags().String("catalog", string(types.CatalogNutrition), "Catalog to match against")
	return cmd
}

func newDedupeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dedupe",
		Short: "Report recipe ingredient names that normalize to the same key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				groups, err := a.svc.DuplicateIngredients(ctx)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return display.PrintJSON(cmd.OutOrStdout(), groups)
				}
				display.PrintDuplicates(cmd.OutOrStdout(), groups)
				return nil
			})
		},
	}
}
