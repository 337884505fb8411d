package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/scribblesense/scribblesense/internal/catalog"
	"github.com/scribblesense/scribblesense/internal/language"
)

var (
	resourcesFilter catalog.Filter
	resourcesJSON   bool
)

var resourcesCmd = &cobra.Command{
	Use:   "resources",
	Short: "List learning resources",
	Long: `Lists the learning resources matching every given filter, grouped by
language. "all" or an empty value matches everything.`,
	Args: cobra.NoArgs,
	RunE: runResources,
}

func init() {
	resourcesCmd.Flags().StringVarP(&resourcesFilter.Search, "search", "s", "", "Match title, description or tags")
	resourcesCmd.Flags().StringVarP(&resourcesFilter.Language, "language", "l", "all", "english, hindi, punjabi or all")
	resourcesCmd.Flags().StringVarP(&resourcesFilter.Type, "type", "t", "all", "video, article or all")
	resourcesCmd.Flags().BoolVar(&resourcesJSON, "json", false, "Print JSON")
}

func runResources(cmd *cobra.Command, args []string) error {
	filter, err := resourcesFilter.Normalize()
	if err != nil {
		return err
	}

	c, err := loadCatalog()
	if err != nil {
		return err
	}
	found := c.Filter(filter)

	out := cmd.OutOrStdout()
	if resourcesJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(found)
	}

	if len(found) == 0 {
		fmt.Fprintln(out, "No resources found.")
		return nil
	}

	groups := catalog.GroupByLanguage(found)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, lang := range language.All() {
		resources := groups[lang]
		if len(resources) == 0 {
			continue
		}
		fmt.Fprintf(tw, "%s (%d)\n", lang.Label(), len(resources))
		for _, r := range resources {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n", r.ID, r.Title, r.Duration, r.Difficulty, r.Category)
		}
	}
	return tw.Flush()
}
