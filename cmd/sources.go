package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chatlift/funnel-cli/internal/source"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the declared sources and their contracts",
	RunE: func(cmd *cobra.Command, args []string) error {
		specs, err := source.LoadSpecs(cfg.Files.Sources)
		if err != nil {
			return err
		}
		reg, err := source.NewRegistry(specs)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tKIND\tKEY\tIDENTITY\tDATED\tCOMPLETE")
		for _, s := range reg.All() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\t%v\n",
				s.Name, specKind(s), s.Key, identityDesc(s), s.Dated(), s.Complete)
		}
		return w.Flush()
	},
}

func specKind(s *source.Spec) string {
	switch {
	case s.Base:
		return "base"
	case s.Mapping:
		return "mapping"
	case s.Activity:
		return "activity"
	default:
		return "snapshot"
	}
}

func identityDesc(s *source.Spec) string {
	if s.Direct() {
		return s.Identity
	}
	hops := make([]string, 0, len(s.Chain)+1)
	hops = append(hops, s.NativeKey)
	for _, h := range s.Chain {
		hops = append(hops, h.Source)
	}
	return strings.Join(hops, " -> ")
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}
