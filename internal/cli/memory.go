package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lazypower/memgraph/internal/apperr"
	"github.com/lazypower/memgraph/internal/engine"
	"github.com/lazypower/memgraph/internal/store"
)

// withEngine opens the shared database and runs fn against an engine scoped
// to the configured owner.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime, e *engine.Engine) error) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	db, err := rt.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	e := engine.New(db.Scoped(rt.cfg.Owner),
		engine.WithWeights(rt.cfg.Recall.Weights),
		engine.WithLogger(rt.log),
		engine.WithMetrics(rt.metrics))
	return fn(cmd.Context(), rt, e)
}

var (
	rememberCategory    string
	rememberImportance  float64
	rememberSummary     string
	rememberTags        []string
	rememberRelatesTo   string
	rememberSourceRef   string
	rememberSourceRange string

	recallLimit     int
	recallCategory  string
	recallTags      []string
	recallNoRelated bool

	reasonFlag   string
	deleteTree   bool
	untagFlag    bool
	linkType     string
	linkStrength float64
	linkUnique   bool

	decayRate      float64
	decayMinDays   int
	pruneThreshold float64
	pruneMinAge    int
	logLimit       int
)

func memoryCommands() []*cobra.Command {
	remember := &cobra.Command{
		Use:   "remember <content>",
		Short: "Store a memory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, rt *runtime, e *engine.Engine) error {
				n, err := e.Store.StoreNode(ctx, store.NodeInput{
					Content:     strings.Join(args, " "),
					Category:    rememberCategory,
					Importance:  rememberImportance,
					Summary:     rememberSummary,
					SourceType:  "cli",
					SourceRef:   rememberSourceRef,
					SourceRange: rememberSourceRange,
					Tags:        rememberTags,
					RelatesTo:   rememberRelatesTo,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd, n)
			})
		},
	}
	remember.Flags().StringVarP(&rememberCategory, "category", "c", store.CategoryFact, "memory category")
	remember.Flags().Float64VarP(&rememberImportance, "importance", "i", 0.5, "importance in [0,1]")
	remember.Flags().StringVar(&rememberSummary, "summary", "", "short summary (derived when empty)")
	remember.Flags().StringSliceVarP(&rememberTags, "tag", "t", nil, "tag (repeatable)")
	remember.Flags().StringVar(&rememberRelatesTo, "relates-to", "", "link to the best keyword match")
	remember.Flags().StringVar(&rememberSourceRef, "source-ref", "", "source reference")
	remember.Flags().StringVar(&rememberSourceRange, "source-range", "", "source line range N or N-M")

	recall := &cobra.Command{
		Use:   "recall <query>",
		Short: "Recall memories ranked by relevance, importance and recency",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, rt *runtime, e *engine.Engine) error {
				limit := recallLimit
				if !cmd.Flags().Changed("limit") {
					limit = rt.cfg.Recall.Limit
				}
				results, err := e.Recall(ctx, engine.RecallQuery{
					Query:     strings.Join(args, " "),
					Category:  recallCategory,
					Tags:      recallTags,
					Limit:     limit,
					NoRelated: recallNoRelated,
				})
				if err != nil {
					return err
				}
				if results == nil {
					results = []engine.RecallResult{}
				}
				return printJSON(cmd, results)
			})
		},
	}
	recall.Flags().IntVarP(&recallLimit, "limit", "n", 10, "maximum direct results")
	recall.Flags().StringVarP(&recallCategory, "category", "c", "", "filter by category")
	recall.Flags().StringSliceVarP(&recallTags, "tag", "t", nil, "filter by tag (any)")
	recall.Flags().BoolVar(&recallNoRelated, "no-related", false, "skip related-node expansion")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a memory with its tags and relationships",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, rt *runtime, e *engine.Engine) error {
				n, err := e.Store.FindByID(ctx, args[0])
				if err != nil {
					return err
				}
				if n == nil {
					return apperr.NotFound("get", "memory "+args[0])
				}
				tags, err := e.Store.TagsFor(ctx, n.ID)
				if err != nil {
					return err
				}
				rels, err := e.Store.RelationshipsTouching(ctx, n.ID)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"memory": n, "tags": tags, "relationships": rels})
			})
		},
	}

	history := &cobra.Command{
		Use:   "history <id>",
		Short: "Show every version of a memory and its log entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, rt *runtime, e *engine.Engine) error {
				chain, err := e.Store.History(ctx, args[0])
				if err != nil {
					return err
				}
				if len(chain) == 0 {
					return apperr.NotFound("history", "memory "+args[0])
				}
				logs, err := e.Store.LogForNode(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"versions": chain, "log": logs})
			})
		},
	}

	update := &cobra.Command{
		Use:   "update <id> <content>",
		Short: "Replace a memory with a new version",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, rt *runtime, e *engine.Engine) error {
				n, err := e.Update(ctx, args[0], strings.Join(args[1:], " "), reasonFlag)
				if err != nil {
					return err
				}
				return printJSON(cmd, n)
			})
		},
	}
	update.Flags().StringVar(&reasonFlag, "reason", "", "reason recorded in the log")

	forget := &cobra.Command{
		Use:   "forget <id>",
		Short: "Deactivate a memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, rt *runtime, e *engine.Engine) error {
				ok, err := e.Forget(ctx, args[0], reasonFlag)
				if err != nil {
					return err
				}
				if !ok {
					return apperr.NotFound("forget", "memory "+args[0])
				}
				return printJSON(cmd, map[string]any{"forgotten": args[0]})
			})
		},
	}
	forget.Flags().StringVar(&reasonFlag, "reason", "", "reason recorded in the log")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Permanently delete a memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, rt *runtime, e *engine.Engine) error {
				deleted, err := e.Purge(ctx, args[0], deleteTree, reasonFlag)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"deleted": deleted})
			})
		},
	}
	del.Flags().BoolVar(&deleteTree, "children", false, "also delete every PART_OF descendant")
	del.Flags().StringVar(&reasonFlag, "reason", "", "reason recorded in the log")

	tag := &cobra.Command{
		Use:   "tag <id> <tag>",
		Short: "Attach or detach a tag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, rt *runtime, e *engine.Engine) error {
				if untagFlag {
					removed, err := e.Store.RemoveTag(ctx, args[0], args[1])
					if err != nil {
						return err
					}
					return printJSON(cmd, map[string]any{"removed": removed})
				}
				t, err := e.Store.AddTag(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd, t)
			})
		},
	}
	tag.Flags().BoolVar(&untagFlag, "remove", false, "detach instead of attach")

	link := &cobra.Command{
		Use:   "link <source-id> <target-id>",
		Short: "Create a directed relationship",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, rt *runtime, e *engine.Engine) error {
				if linkUnique {
					exists, err := e.Store.RelationshipExists(ctx, args[0], args[1], linkType)
					if err != nil {
						return err
					}
					if exists {
						return apperr.Conflict("link", "%s edge already exists", linkType)
					}
				}
				rel, err := e.Store.CreateRelationship(ctx, args[0], args[1], linkType, linkStrength, reasonFlag)
				if err != nil {
					return err
				}
				return printJSON(cmd, rel)
			})
		},
	}
	link.Flags().StringVar(&linkType, "type", store.RelRelatesTo, "relationship type")
	link.Flags().Float64Var(&linkStrength, "strength", 1.0, "edge strength")
	link.Flags().BoolVar(&linkUnique, "unique", false, "fail if the edge already exists")
	link.Flags().StringVar(&reasonFlag, "context", "", "free-form edge context")

	decay := &cobra.Command{
		Use:   "decay",
		Short: "Decay importance of memories not accessed recently",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, rt *runtime, e *engine.Engine) error {
				rate, minDays := rt.cfg.Consolidation.DecayRate, rt.cfg.Consolidation.DecayMinDays
				if cmd.Flags().Changed("rate") {
					rate = decayRate
				}
				if cmd.Flags().Changed("min-days") {
					minDays = decayMinDays
				}
				n, err := e.DecayImportance(ctx, rate, minDays)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"decayed": n})
			})
		},
	}
	decay.Flags().Float64Var(&decayRate, "rate", 0, "multiplier in (0,1]")
	decay.Flags().IntVar(&decayMinDays, "min-days", 0, "only memories not accessed for this many days")

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Deactivate old memories below an importance threshold",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, rt *runtime, e *engine.Engine) error {
				threshold, minAge := rt.cfg.Consolidation.PruneThreshold, rt.cfg.Consolidation.PruneMinAgeDays
				if cmd.Flags().Changed("threshold") {
					threshold = pruneThreshold
				}
				if cmd.Flags().Changed("min-age-days") {
					minAge = pruneMinAge
				}
				n, err := e.Prune(ctx, threshold, minAge)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"pruned": n})
			})
		},
	}
	prune.Flags().Float64Var(&pruneThreshold, "threshold", 0, "importance threshold in [0,1]")
	prune.Flags().IntVar(&pruneMinAge, "min-age-days", 0, "minimum age in days")

	maintain := &cobra.Command{
		Use:   "maintain",
		Short: "Run one decay and prune pass for every owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, rt *runtime, e *engine.Engine) error {
				m := engine.NewMaintainer(e.Store.DB(), rt.cfg.Consolidation, rt.log, rt.metrics)
				report, err := m.RunOnce(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			})
		},
	}

	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Show the consolidation log, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, rt *runtime, e *engine.Engine) error {
				entries, err := e.Store.ConsolidationLog(ctx, logLimit)
				if err != nil {
					return err
				}
				if entries == nil {
					entries = []store.LogEntry{}
				}
				return printJSON(cmd, entries)
			})
		},
	}
	logCmd.Flags().IntVarP(&logLimit, "limit", "n", 50, "maximum entries")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show graph counts for the owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, rt *runtime, e *engine.Engine) error {
				st, err := e.Store.Stats(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, st)
			})
		},
	}

	return []*cobra.Command{remember, recall, get, history, update, forget, del, tag, link, decay, prune, maintain, logCmd, stats}
}
