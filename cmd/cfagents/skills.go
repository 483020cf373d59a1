package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/glamour"
	"github.com/fentz26/cfagents/internal/config"
	"github.com/fentz26/cfagents/internal/models"
	"github.com/fentz26/cfagents/internal/skills"
	"github.com/spf13/cobra"
)

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "Browse the skills catalog",
	Long:  `Reads the skills catalog from the configured config directory. No daemon is required.`,
}

var skillsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List skills",
	RunE:  runSkillsList,
}

var skillsShowCmd = &cobra.Command{
	Use:   "show [skill]",
	Short: "Show one skill",
	Args:  cobra.ExactArgs(1),
	RunE:  runSkillsShow,
}

var skillsValidateCmd = &cobra.Command{
	Use:   "validate [skill...]",
	Short: "Check a skill combination against exclusive categories",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSkillsValidate,
}

var skillsDocsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Render the catalog documentation",
	RunE:  runSkillsDocs,
}

var (
	skillCategory string
	skillAgent    string
	skillQuery    string
	docsOut       string
	docsRaw       bool
)

func init() {
	skillsCmd.AddCommand(skillsListCmd, skillsShowCmd, skillsValidateCmd, skillsDocsCmd)

	skillsListCmd.Flags().StringVar(&skillCategory, "category", "", "Filter by category")
	skillsListCmd.Flags().StringVar(&skillAgent, "agent", "", "Filter by agents the skill lists")
	skillsListCmd.Flags().StringVar(&skillQuery, "query", "", "Search names and descriptions")

	skillsDocsCmd.Flags().StringVar(&docsOut, "out", "", "Write markdown to a file instead of rendering")
	skillsDocsCmd.Flags().BoolVar(&docsRaw, "raw", false, "Print markdown without terminal styling")
}

func loadRegistry() (*skills.Registry, error) {
	cat, err := config.Load(settings.ConfigDir)
	if err != nil {
		return nil, err
	}
	return cat.Skills, nil
}

func runSkillsList(cmd *cobra.Command, args []string) error {
	reg, err := loadRegistry()
	if err != nil {
		return err
	}

	var list []models.Skill
	if skillQuery != "" {
		list = reg.Search(skillQuery)
	} else {
		list = reg.List(skillCategory, skillAgent)
	}
	if len(list) == 0 {
		fmt.Println("No skills found")
		return nil
	}
	printSkills(list)
	return nil
}

func runSkillsShow(cmd *cobra.Command, args []string) error {
	reg, err := loadRegistry()
	if err != nil {
		return err
	}
	s, ok := reg.Get(args[0])
	if !ok {
		return fmt.Errorf("skill %q not found", args[0])
	}

	fmt.Printf("Name:          %s\n", s.Name)
	fmt.Printf("Category:      %s\n", s.Category)
	fmt.Printf("Level:         %s\n", s.SkillLevel)
	fmt.Printf("Description:   %s\n", s.Description)
	fmt.Printf("Attachable to: %s\n", strings.Join(s.AttachableTo, ", "))
	fmt.Printf("Capabilities:  %s\n", strings.Join(skills.Capabilities(s), ", "))
	return nil
}

func runSkillsValidate(cmd *cobra.Command, args []string) error {
	reg, err := loadRegistry()
	if err != nil {
		return err
	}
	if err := reg.CheckCombination(args); err != nil {
		return err
	}
	fmt.Println("Combination is valid")
	return nil
}

func runSkillsDocs(cmd *cobra.Command, args []string) error {
	reg, err := loadRegistry()
	if err != nil {
		return err
	}
	if docsOut != "" {
		if err := reg.ExportDocumentationFile(docsOut); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", docsOut)
		return nil
	}

	var buf bytes.Buffer
	if err := reg.ExportDocumentation(&buf); err != nil {
		return err
	}
	if docsRaw {
		_, err := os.Stdout.Write(buf.Bytes())
		return err
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return err
	}
	out, err := r.Render(buf.String())
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func printSkills(list []models.Skill) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCATEGORY\tLEVEL\tDESCRIPTION")
	for _, s := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, s.Category, s.SkillLevel, truncate(s.Description, 60))
	}
	w.Flush()
}
