package skills

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
)

// ExportDocumentation writes the catalog as a markdown document grouped by
// category. Categories and the skills inside them are sorted by name.
func (r *Registry) ExportDocumentation(w io.Writer) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "# Subagent Skills Documentation\n\n")
	fmt.Fprintf(bw, "Total Skills: %d\n\n", r.Len())

	groups := r.ByCategory()
	for _, category := range r.Categories() {
		fmt.Fprintf(bw, "## %s\n\n", strings.ToUpper(strings.ReplaceAll(category, "_", " ")))

		names := slices.Clone(groups[category])
		slices.Sort(names)
		for _, name := range names {
			s := r.skills[name]
			fmt.Fprintf(bw, "### %s\n\n", s.Name)
			fmt.Fprintf(bw, "**Level:** %s\n\n", s.SkillLevel)
			fmt.Fprintf(bw, "**Attachable to:** %s\n\n", strings.Join(s.AttachableTo, ", "))
			fmt.Fprintf(bw, "**Word Count:** %d\n\n", s.WordCount)
			fmt.Fprintf(bw, "**Description:**\n%s\n\n", strings.TrimSpace(s.Description))
			fmt.Fprintf(bw, "**Tools:** %s\n\n", strings.Join(s.Tools, ", "))
			fmt.Fprintf(bw, "**Outputs:** %s\n\n", strings.Join(s.Outputs, ", "))
			fmt.Fprintf(bw, "---\n\n")
		}
	}
	return bw.Flush()
}

// ExportDocumentationFile writes the markdown document to path.
func (r *Registry) ExportDocumentationFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create documentation file: %w", err)
	}
	if err := r.ExportDocumentation(f); err != nil {
		f.Close()
		return fmt.Errorf("write documentation: %w", err)
	}
	return f.Close()
}
