package main

import (
	"fmt"
	"strings"

	"sitehost/backend/internal/routing"

	"github.com/spf13/cobra"
)

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [host]",
		Short: "Show how a Host header is routed",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(cmd *cobra.Command, rt *runtime, args []string) error {
			router := routing.New(rt.domains, rt.store, rt.cfg.MainSiteURL, nil)
			d, err := router.Decide(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "action:     %s\n", d.Action)
			if d.Host.Domain != "" {
				fmt.Fprintf(out, "subdomain:  %s\n", d.Host.Subdomain)
				fmt.Fprintf(out, "domain:     %s\n", d.Host.Domain)
				fmt.Fprintf(out, "alias:      %t\n", d.Host.IsAlias)
			}
			if len(d.Aliases) > 0 {
				fmt.Fprintf(out, "canonical:  %s\n", d.Aliases[0])
				fmt.Fprintf(out, "hostnames:  %s\n", strings.Join(d.Aliases, ", "))
			}
			switch d.Action {
			case routing.ActionServe:
				fmt.Fprintf(out, "site:       %s (%s)\n", d.Match.Site.Slug, d.Match.Site.ID)
				fmt.Fprintf(out, "owner:      %s\n", d.Match.User.Username)
				if d.CustomDomain {
					fmt.Fprintln(out, "via:        custom domain")
				}
			case routing.ActionRedirect:
				fmt.Fprintf(out, "location:   %s\n", d.RedirectURL)
			}
			return nil
		}),
	}
}

func newExpandCmd() *cobra.Command {
	var extension string
	cmd := &cobra.Command{
		Use:   "expand [subdomain]",
		Short: "List every hostname a subdomain answers on",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(cmd *cobra.Command, rt *runtime, args []string) error {
			base := rt.domains.Primary()
			if extension != "" {
				ext := rt.domains.NormalizeExtension(extension)
				if !rt.domains.IsAllowedExtension(ext) {
					return fmt.Errorf("extension %s is not configured", ext)
				}
				base = rt.domains.BaseDomain(ext)
			}
			for _, host := range rt.domains.ExpandSubdomain(strings.ToLower(args[0]), base) {
				fmt.Fprintln(cmd.OutOrStdout(), host)
			}
			return nil
		}),
	}
	cmd.Flags().StringVarP(&extension, "extension", "e", "", "Extension whose base domain to expand under")
	return cmd
}
