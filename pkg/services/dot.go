package services

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/empiworks/empi-engine/pkg/models"
)

// WriteDOT renders a component as an undirected Graphviz graph. Edges at or
// above the threshold come out solid green, weaker ones dashed red, keeping
// the palette of the old image dumps.
func WriteDOT(w io.Writer, enterpriseID int64, triples []models.Edge, threshold float64) error {
	var b strings.Builder
	fmt.Fprintf(&b, "graph enterprise_%d {\n", enterpriseID)
	b.WriteString("\tlayout=neato;\n")
	b.WriteString("\tnode [shape=circle];\n")
	for _, e := range triples {
		style := `color=green`
		if e.Weight < threshold {
			style = `color=red, style=dashed`
		}
		fmt.Fprintf(&b, "\t%d -- %d [label=\"%.2f\", %s];\n",
			e.RecordIDLow, e.RecordIDHigh, e.Weight, style)
	}
	b.WriteString("}\n")

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("failed to write graph: %w", err)
	}
	return nil
}

// ExportDOT writes the component's rendering into dir as
// {enterprise_id}.dot, mirroring the old per-enterprise image naming.
func ExportDOT(dir string, enterpriseID int64, triples []models.Edge, threshold float64) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create export dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.dot", enterpriseID))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if err := WriteDOT(f, enterpriseID, triples, threshold); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	return nil
}
