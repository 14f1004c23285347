package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"text/tabwriter"

	"github.com/disiqueira/gotree/v3"
	"github.com/vormadev/pagestree/pagestructure"
)

const (
	formatTree   = "tree"
	formatRoutes = "routes"
	formatJSON   = "json"
)

func validFormat(f string) error {
	switch f {
	case formatTree, formatRoutes, formatJSON:
		return nil
	}
	return fmt.Errorf("unknown format %q (want tree, routes or json)", f)
}

func render(w io.Writer, format string, snap *pagestructure.Snapshot) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	case formatRoutes:
		return renderRoutes(w, snap)
	default:
		_, err := io.WriteString(w, renderTree(snap))
		return err
	}
}

// renderTree draws the directory structure with each route next to its file.
func renderTree(snap *pagestructure.Snapshot) string {
	if snap == nil || snap.Root == nil {
		return "no pages directory\n"
	}
	t := gotree.New(nodeLabel(snap.Root))
	addNode(t, snap.Root)
	return t.Print()
}

func addNode(t gotree.Tree, n *pagestructure.Node) {
	for _, it := range n.Items {
		t.Add(itemLabel(it))
	}
	for _, ch := range n.Children {
		addNode(t.Add(nodeLabel(ch)), ch)
	}
}

func nodeLabel(n *pagestructure.Node) string {
	return fmt.Sprintf("%s/  %s", path.Base(n.ProjectPath), n.RouterPath)
}

func itemLabel(it pagestructure.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  ->  %s", path.Base(it.ProjectPath), it.RouterPath)
	if it.Kind == pagestructure.API {
		b.WriteString("  (api)")
	}
	if !it.Specificity.IsExact() {
		fmt.Fprintf(&b, "  [%s]", it.Specificity)
	}
	return b.String()
}

// renderRoutes prints one route per line, most specific first.
func renderRoutes(w io.Writer, snap *pagestructure.Snapshot) error {
	routes := snap.Routes()
	if len(routes) == 0 {
		_, err := io.WriteString(w, "no routes\n")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tROUTE\tFILE\tSPECIFICITY")
	for _, r := range routes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Kind, r.RouterPath, r.ProjectPath, r.Specificity)
	}
	return tw.Flush()
}
