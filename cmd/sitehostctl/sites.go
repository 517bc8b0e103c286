package main

import (
	"fmt"
	"text/tabwriter"

	"sitehost/backend/internal/models"

	"github.com/spf13/cobra"
)

func newSitesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sites",
		Short: "Inspect published sites",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all sites",
		RunE: withRuntime(func(cmd *cobra.Command, rt *runtime, args []string) error {
			reg, err := rt.store.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			svc := rt.sites()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSLUG\tOWNER\tPUBLISHED\tVISITS\tDOMAIN\tURL")
			for _, m := range reg.Sites() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\t%s\t%s\n",
					m.Site.ID, m.Site.Slug, m.User.Username, m.Site.Published, m.Site.Visits,
					domainColumn(m.Site), svc.SiteURL(m.User, m.Site))
			}
			return w.Flush()
		}),
	})
	return cmd
}

func domainColumn(site models.Site) string {
	switch {
	case site.CustomDomain == "":
		return "-"
	case site.Domain.Verified:
		return site.CustomDomain
	default:
		return site.CustomDomain + " (unverified)"
	}
}
