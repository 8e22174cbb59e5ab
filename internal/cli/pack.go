package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/memgraph/internal/apperr"
	"github.com/lazypower/memgraph/internal/engine"
	"github.com/lazypower/memgraph/internal/pack"
	"github.com/lazypower/memgraph/internal/store"
)

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Manage portable memory packs",
}

var (
	packName        string
	packDescription string
	packContact     string
	ingestTitle     string
	ingestCategory  string
	ingestTags      []string
	jobsStatus      string
	packRecallLimit int
)

var packCreateCmd = &cobra.Command{
	Use:   "create <path>",
	Short: "Create an empty pack",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if filepath.Ext(path) == "" {
			path += pack.Ext
		}
		p, err := pack.Create(cmd.Context(), path, pack.CreateOptions{Name: packName, Description: packDescription})
		if err != nil {
			return err
		}
		defer p.Close()
		meta, err := p.Metadata(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{"path": path, "id": p.ID(), "metadata": meta})
	},
}

var packInfoCmd = &cobra.Command{
	Use:   "info <path>",
	Short: "Show pack metadata and counts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var out map[string]any
		err := pack.With(ctx, args[0], true, func(p *pack.Pack) error {
			meta, err := p.Metadata(ctx)
			if err != nil {
				return err
			}
			st, err := p.Stats(ctx)
			if err != nil {
				return err
			}
			out = map[string]any{"id": p.ID(), "metadata": meta, "stats": st}
			return nil
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, out)
	},
}

var packSetInfoCmd = &cobra.Command{
	Use:   "rename <path> <name>",
	Short: "Change pack name and description",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return pack.With(ctx, args[0], false, func(p *pack.Pack) error {
			desc := packDescription
			if !cmd.Flags().Changed("description") {
				meta, err := p.Metadata(ctx)
				if err != nil {
					return err
				}
				desc = meta.Description
			}
			return p.SetInfo(ctx, args[1], desc)
		})
	},
}

var packSourceCmd = &cobra.Command{
	Use:   "source <path> [url]",
	Short: "Set or clear the remote a pack pulls from",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		url := ""
		if len(args) == 2 {
			url = args[1]
		}
		// A zero synced_at forces the next sync to fetch.
		return pack.With(ctx, args[0], false, func(p *pack.Pack) error {
			return p.SetSource(ctx, url, packContact, time.Time{})
		})
	},
}

var packSyncCmd = &cobra.Command{
	Use:   "sync <path>...",
	Short: "Pull newer versions of packs from their sources",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		report := rt.syncer().SyncAll(cmd.Context(), args)
		if err := printJSON(cmd, map[string]any{
			"updated": nonNil(report.Updated),
			"current": nonNil(report.Current),
			"failed":  report.Errors(),
		}); err != nil {
			return err
		}
		if len(report.Failed) > 0 {
			return apperr.Sync("pack sync", fmt.Errorf("%d pack(s) failed", len(report.Failed)))
		}
		return nil
	},
}

var packRememberCmd = &cobra.Command{
	Use:   "remember <path> <content>",
	Short: "Store a memory in a pack",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var n *store.Node
		err := pack.With(ctx, args[0], false, func(p *pack.Pack) error {
			return p.Mutate(ctx, func(s *store.Store) error {
				var err error
				n, err = s.StoreNode(ctx, store.NodeInput{
					Content:    strings.Join(args[1:], " "),
					Category:   rememberCategory,
					Importance: rememberImportance,
					SourceType: "cli",
					Tags:       rememberTags,
				})
				return err
			})
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, n)
	},
}

var packRecallCmd = &cobra.Command{
	Use:   "recall <path> <query>",
	Short: "Recall memories from a pack",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var results []engine.RecallResult
		// Recall bumps access counts, so the pack is opened writable.
		err := pack.With(ctx, args[0], false, func(p *pack.Pack) error {
			var err error
			results, err = engine.New(p.Store()).Recall(ctx, engine.RecallQuery{
				Query:     strings.Join(args[1:], " "),
				Limit:     packRecallLimit,
				NoRelated: true,
			})
			return err
		})
		if err != nil {
			return err
		}
		if results == nil {
			results = []engine.RecallResult{}
		}
		return printJSON(cmd, results)
	},
}

var packIngestCmd = &cobra.Command{
	Use:   "ingest <path> <file>",
	Short: "Split a document into PART_OF fragments inside a pack",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		content, err := os.ReadFile(args[1])
		if err != nil {
			return apperr.Validation("ingest", "read %s: %v", args[1], err)
		}
		title := ingestTitle
		if title == "" {
			title = strings.TrimSuffix(filepath.Base(args[1]), filepath.Ext(args[1]))
		}

		var job *store.Job
		err = pack.With(ctx, args[0], false, func(p *pack.Pack) error {
			var err error
			job, err = engine.New(p.Store()).Ingest(ctx, store.IngestPayload{
				Title:     title,
				Content:   string(content),
				Category:  ingestCategory,
				SourceRef: args[1],
				Tags:      ingestTags,
			})
			if err != nil {
				return err
			}
			// fragments are written outside Mutate; bump updated_at for peers
			return p.Mutate(ctx, func(*store.Store) error { return nil })
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, job)
	},
}

var packJobsCmd = &cobra.Command{
	Use:   "jobs <path>",
	Short: "List jobs recorded in a pack",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var jobs []store.Job
		err := pack.With(ctx, args[0], true, func(p *pack.Pack) error {
			var err error
			jobs, err = p.DB().ListJobs(ctx, jobsStatus)
			return err
		})
		if err != nil {
			return err
		}
		if jobs == nil {
			jobs = []store.Job{}
		}
		return printJSON(cmd, jobs)
	},
}

func init() {
	packCreateCmd.Flags().StringVar(&packName, "name", "", "pack name (defaults to the file name)")
	packCreateCmd.Flags().StringVar(&packDescription, "description", "", "pack description")
	packSetInfoCmd.Flags().StringVar(&packDescription, "description", "", "pack description")
	packSourceCmd.Flags().StringVar(&packContact, "contact", "", "contact id whose api key authenticates the pull")

	packRememberCmd.Flags().StringVarP(&rememberCategory, "category", "c", store.CategoryFact, "memory category")
	packRememberCmd.Flags().Float64VarP(&rememberImportance, "importance", "i", 0.5, "importance in [0,1]")
	packRememberCmd.Flags().StringSliceVarP(&rememberTags, "tag", "t", nil, "tag (repeatable)")
	packRecallCmd.Flags().IntVarP(&packRecallLimit, "limit", "n", 10, "maximum results")

	packIngestCmd.Flags().StringVar(&ingestTitle, "title", "", "document title (defaults to the file name)")
	packIngestCmd.Flags().StringVarP(&ingestCategory, "category", "c", "", "fragment category")
	packIngestCmd.Flags().StringSliceVarP(&ingestTags, "tag", "t", nil, "tag applied to every fragment (repeatable)")
	packJobsCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by status")

	packCmd.AddCommand(packCreateCmd, packInfoCmd, packSetInfoCmd, packSourceCmd, packSyncCmd,
		packRememberCmd, packRecallCmd, packIngestCmd, packJobsCmd)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
