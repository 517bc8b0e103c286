package main

import (
	"fmt"
	"strings"

	"sitehost/backend/internal/namegen"

	"github.com/spf13/cobra"
)

func newNamesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "names",
		Short: "Generate and check subdomain, slug and username names",
	}
	cmd.AddCommand(newNamesGenerateCmd(), newNamesCheckCmd())
	return cmd
}

func newNamesGenerateCmd() *cobra.Command {
	var (
		scope     string
		extension string
		count     int
		free      bool
	)
	cmd := &cobra.Command{
		Use:   "generate [seed]",
		Short: "Print random name candidates",
		Args:  cobra.MaximumNArgs(1),
		RunE: withRuntime(func(cmd *cobra.Command, rt *runtime, args []string) error {
			sc, err := namegen.ParseScope(scope)
			if err != nil {
				return err
			}
			seed := ""
			if len(args) == 1 {
				seed = args[0]
			}
			if extension == "" {
				extension = rt.domains.DefaultExtension()
			}
			gen := namegen.New(namegen.WithMaxAttempts(rt.cfg.NameMaxAttempts))
			reg, err := rt.store.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			available := func(name string) bool {
				switch sc {
				case namegen.ScopeSlug:
					return reg.IsSlugAvailable("", name)
				case namegen.ScopeUsername:
					_, taken := reg.UserByLogin(name)
					return !taken
				default:
					return reg.IsSubdomainAvailable(name)
				}
			}
			for i := 0; i < count; i++ {
				if !free {
					fmt.Fprintln(cmd.OutOrStdout(), gen.Candidate(seed, sc, extension))
					continue
				}
				name, attempts, err := gen.Pick(seed, sc, extension, available)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t(%d attempts)\n", name, attempts)
			}
			return nil
		}),
	}
	cmd.Flags().StringVarP(&scope, "scope", "s", string(namegen.ScopeSubdomain), "subdomain, slug or username")
	cmd.Flags().StringVarP(&extension, "extension", "e", "", "Extension fragment for subdomains")
	cmd.Flags().IntVarP(&count, "count", "n", 5, "Number of names")
	cmd.Flags().BoolVar(&free, "free", false, "Only print names not taken in the registry")
	return cmd
}

func newNamesCheckCmd() *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "check [name]",
		Short: "Validate a name and report whether it is free",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(cmd *cobra.Command, rt *runtime, args []string) error {
			sc, err := namegen.ParseScope(scope)
			if err != nil {
				return err
			}
			name := strings.TrimSpace(args[0])
			if sc != namegen.ScopeUsername {
				name = strings.ToLower(name)
			}
			out := cmd.OutOrStdout()
			if err := namegen.Validate(name, sc); err != nil {
				fmt.Fprintf(out, "%s: invalid: %v\n", name, err)
				return nil
			}
			ok, err := rt.store.IsAvailable(cmd.Context(), name, sc, "")
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintf(out, "%s: available\n", name)
			} else {
				fmt.Fprintf(out, "%s: taken\n", name)
			}
			return nil
		}),
	}
	cmd.Flags().StringVarP(&scope, "scope", "s", string(namegen.ScopeSubdomain), "subdomain, slug or username")
	return cmd
}
