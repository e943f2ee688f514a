package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cellxplore/internal/blob"
	"cellxplore/internal/server"
	"cellxplore/internal/store"
	"cellxplore/internal/zarr"
)

func newInspectCmd(a *app) *cobra.Command {
	var tree bool
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Describe the store and its interaction table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			files, err := blob.Open(ctx, server.BlobOptions(a.cfg))
			if err != nil {
				return fmt.Errorf("open blob backend: %w", err)
			}
			h, err := store.Open(ctx, files, server.StoreOptions(a.cfg))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if tree {
				nodes, err := h.Describe(ctx)
				if err != nil {
					return err
				}
				writeTree(out, nodes)
			}
			return writeInteractions(cmd, h)
		},
	}
	cmd.Flags().String("store.path", "", "Zarr store path inside the data directory")
	cmd.Flags().BoolVar(&tree, "tree", false, "print every group and array in the store")
	return cmd
}

func writeTree(w io.Writer, nodes []zarr.Node) {
	for _, n := range nodes {
		depth := 0
		name := n.Path
		if name == "" {
			name = "/"
		} else {
			depth = strings.Count(n.Path, "/") + 1
			name = n.Path[strings.LastIndex(n.Path, "/")+1:]
		}
		indent := strings.Repeat("  ", depth)
		if n.IsArray {
			fmt.Fprintf(w, "%s%s %v %s\n", indent, name, n.Shape, n.DType)
			continue
		}
		fmt.Fprintf(w, "%s%s/\n", indent, name)
	}
}

func writeInteractions(cmd *cobra.Command, h *store.Handle) error {
	out := cmd.OutOrStdout()
	t, found, err := h.Interactions(cmd.Context())
	if err != nil {
		return err
	}
	name := h.Options().InteractionTable
	if !found {
		fmt.Fprintf(out, "interaction table %s: not found\n", name)
		return nil
	}
	fmt.Fprintf(out, "interaction table %s: %d rows\n", name, t.Len())
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COLUMN\tTYPE\tCATEGORICAL")
	for _, c := range t.Columns {
		fmt.Fprintf(tw, "%s\t%s\t%t\n", c.Name, c.Kind, c.Categorical)
	}
	return tw.Flush()
}
