package main

import (
	"fmt"
	"text/tabwriter"

	"sitehost/backend/internal/models"
	"sitehost/backend/internal/sites"

	"github.com/spf13/cobra"
)

func newUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "List and create accounts",
	}
	cmd.AddCommand(newUsersListCmd(), newUsersCreateCmd())
	return cmd
}

func newUsersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all users",
		RunE: withRuntime(func(cmd *cobra.Command, rt *runtime, args []string) error {
			users, err := rt.store.GetUsers(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUSERNAME\tEMAIL\tROLE\tSUBDOMAIN\tSITES\tCREATED")
			for _, u := range users {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					u.ID, u.Username, u.Email, u.Role, u.Subdomain, len(u.Sites), u.CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		}),
	}
}

func newUsersCreateCmd() *cobra.Command {
	var (
		in    sites.RegisterInput
		admin bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account",
		RunE: withRuntime(func(cmd *cobra.Command, rt *runtime, args []string) error {
			svc := rt.sites()
			sess, err := svc.Register(cmd.Context(), in)
			if err != nil {
				return err
			}
			user := sess.User
			if admin && user.Role != models.RoleAdmin {
				role := models.RoleAdmin
				if user, err = svc.UpdateAccount(cmd.Context(), user.ID, &role, nil); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s) role=%s subdomain=%s\n", user.Username, user.ID, user.Role, user.Subdomain)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&in.Username, "username", "u", "", "Username (required)")
	cmd.Flags().StringVarP(&in.Email, "email", "e", "", "Email (required)")
	cmd.Flags().StringVarP(&in.Password, "password", "p", "", "Password (required)")
	cmd.Flags().StringVar(&in.DomainExtension, "extension", "", "Domain extension, default extension when empty")
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant the admin role")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
