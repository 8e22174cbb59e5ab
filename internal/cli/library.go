package cli

import (
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lazypower/memgraph/internal/apperr"
	"github.com/lazypower/memgraph/internal/library"
)

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "Aggregate packs into a library",
	Long:  "A library is a JSON manifest referencing pack files. Pass the manifest path or its directory.",
}

var (
	libName        string
	libDescription string
	libDisabled    bool
	libPriority    int
)

// withLibrary runs fn with an Aggregator that replicates through the
// configured sync settings.
func withLibrary(fn func(cmd *cobra.Command, args []string, rt *runtime, agg *library.Aggregator) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		defer rt.close()
		agg := library.New(library.Options{Replicator: rt.syncer(), Logger: rt.log.Named("library")})
		return fn(cmd, args, rt, agg)
	}
}

// libArgs resolves the manifest argument and an optional absolute pack path.
func libArgs(args []string) (lib, packPath string, err error) {
	lib = library.ManifestPath(args[0])
	if len(args) > 1 {
		packPath, err = absArg(args[1])
	}
	return lib, packPath, err
}

func libraryCommands() []*cobra.Command {
	create := &cobra.Command{
		Use:   "create <library>",
		Short: "Create an empty library manifest",
		Args:  cobra.ExactArgs(1),
	}
	create.RunE = withLibrary(func(cmd *cobra.Command, args []string, rt *runtime, agg *library.Aggregator) error {
		ctx := cmd.Context()
		lib, _, _ := libArgs(args)
		m, err := agg.Create(ctx, lib, library.CreateOptions{Name: libName, Description: libDescription})
		if err != nil {
			return err
		}
		return printJSON(cmd, m)
	})
	create.Flags().StringVar(&libName, "name", "", "library name (defaults to the directory name)")
	create.Flags().StringVar(&libDescription, "description", "", "library description")

	show := &cobra.Command{
		Use:   "show <library>",
		Short: "Print the manifest",
		Args:  cobra.ExactArgs(1),
	}
	show.RunE = withLibrary(func(cmd *cobra.Command, args []string, rt *runtime, agg *library.Aggregator) error {
		ctx := cmd.Context()
		lib, _, _ := libArgs(args)
		m, err := agg.Load(ctx, lib)
		if err != nil {
			return err
		}
		return printJSON(cmd, m)
	})

	add := &cobra.Command{
		Use:   "add <library> <pack>",
		Short: "Reference a pack from the library",
		Args:  cobra.ExactArgs(2),
	}
	add.RunE = withLibrary(func(cmd *cobra.Command, args []string, rt *runtime, agg *library.Aggregator) error {
		ctx := cmd.Context()
		lib, packPath, err := libArgs(args)
		if err != nil {
			return err
		}
		m, err := agg.AddPack(ctx, lib, packPath, library.AddOptions{Disabled: libDisabled, Priority: libPriority})
		if err != nil {
			return err
		}
		return printJSON(cmd, m)
	})
	add.Flags().BoolVar(&libDisabled, "disabled", false, "add the pack disabled")
	add.Flags().IntVar(&libPriority, "priority", 0, "pack priority")

	remove := &cobra.Command{
		Use:   "remove <library> <pack>",
		Short: "Drop a pack reference",
		Args:  cobra.ExactArgs(2),
	}
	remove.RunE = withLibrary(func(cmd *cobra.Command, args []string, rt *runtime, agg *library.Aggregator) error {
		ctx := cmd.Context()
		lib, packPath, err := libArgs(args)
		if err != nil {
			return err
		}
		m, err := agg.RemovePack(ctx, lib, packPath)
		if err != nil {
			return err
		}
		return printJSON(cmd, m)
	})

	toggle := func(use, short string, enabled bool) *cobra.Command {
		c := &cobra.Command{Use: use + " <library> <pack>", Short: short, Args: cobra.ExactArgs(2)}
		c.RunE = withLibrary(func(cmd *cobra.Command, args []string, rt *runtime, agg *library.Aggregator) error {
			ctx := cmd.Context()
			lib, packPath, err := libArgs(args)
			if err != nil {
				return err
			}
			m, err := agg.SetEnabled(ctx, lib, packPath, enabled)
			if err != nil {
				return err
			}
			return printJSON(cmd, m)
		})
		return c
	}

	priority := &cobra.Command{
		Use:   "priority <library> <pack> <n>",
		Short: "Set a pack's priority",
		Args:  cobra.ExactArgs(3),
	}
	priority.RunE = withLibrary(func(cmd *cobra.Command, args []string, rt *runtime, agg *library.Aggregator) error {
		ctx := cmd.Context()
		n, err := strconv.Atoi(args[2])
		if err != nil {
			return apperr.Validation("library priority", "priority must be an integer")
		}
		lib, packPath, err := libArgs(args[:2])
		if err != nil {
			return err
		}
		m, err := agg.SetPriority(ctx, lib, packPath, n)
		if err != nil {
			return err
		}
		return printJSON(cmd, m)
	})

	sync := &cobra.Command{
		Use:   "sync <library>",
		Short: "Pull every pack from its source, then refresh cached stats",
		Args:  cobra.ExactArgs(1),
	}
	sync.RunE = withLibrary(func(cmd *cobra.Command, args []string, rt *runtime, agg *library.Aggregator) error {
		ctx := cmd.Context()
		lib, _, _ := libArgs(args)
		m, report, err := agg.SyncPackStats(ctx, lib)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{
			"library": m,
			"sync": map[string]any{
				"updated": nonNil(report.Updated),
				"current": nonNil(report.Current),
				"failed":  report.Errors(),
			},
		})
	})

	refresh := &cobra.Command{
		Use:   "refresh <library>",
		Short: "Recompute cached stats without contacting peers",
		Args:  cobra.ExactArgs(1),
	}
	refresh.RunE = withLibrary(func(cmd *cobra.Command, args []string, rt *runtime, agg *library.Aggregator) error {
		ctx := cmd.Context()
		lib, _, _ := libArgs(args)
		m, err := agg.RefreshStats(ctx, lib)
		if err != nil {
			return err
		}
		return printJSON(cmd, m)
	})

	graph := &cobra.Command{
		Use:   "graph <library>",
		Short: "Print the merged graph of every enabled pack",
		Args:  cobra.ExactArgs(1),
	}
	graph.RunE = withLibrary(func(cmd *cobra.Command, args []string, rt *runtime, agg *library.Aggregator) error {
		ctx := cmd.Context()
		lib, _, _ := libArgs(args)
		g, err := agg.GraphData(ctx, lib)
		if err != nil {
			return err
		}
		return printJSON(cmd, g)
	})

	watch := &cobra.Command{
		Use:   "watch <library>",
		Short: "Refresh stats whenever a referenced pack changes",
		Args:  cobra.ExactArgs(1),
	}
	watch.RunE = withLibrary(func(cmd *cobra.Command, args []string, rt *runtime, agg *library.Aggregator) error {
		ctx := cmd.Context()
		lib, _, _ := libArgs(args)
		ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		w := library.NewWatcher(agg, lib, rt.log.Named("watcher"), library.OnRefresh(func(m *library.Manifest, err error) {
			if err != nil {
				rt.log.Warn("refresh failed", zap.Error(err))
				return
			}
			rt.log.Info("library refreshed",
				zap.Int("total_nodes", m.Metadata.TotalNodes),
				zap.Int("total_relationships", m.Metadata.TotalRelationships))
		}))
		return w.Watch(ctx)
	})

	return []*cobra.Command{create, show, add, remove,
		toggle("enable", "Include a pack in graph and totals", true),
		toggle("disable", "Exclude a pack from graph and totals", false),
		priority, sync, refresh, graph, watch}
}

func init() {
	libraryCmd.AddCommand(libraryCommands()...)
}
