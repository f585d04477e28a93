package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dpm-admin/dpm-api/internal/auth"
)

func newUsersCommand(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage staff identities",
	}
	cmd.AddCommand(newUsersCreateCommand(open))
	cmd.AddCommand(newUsersCheckCommand(open))
	cmd.AddCommand(newUsersSetRoleCommand(open))
	cmd.AddCommand(newUsersActiveCommand(open, "disable", false))
	cmd.AddCommand(newUsersActiveCommand(open, "enable", true))
	return cmd
}

func newUsersCreateCommand(open Opener) *cobra.Command {
	var subject, name, roleName, password string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := auth.ParseRole(roleName)
			if err != nil {
				return err
			}
			secret, err := passwordFrom(password)
			if err != nil {
				return err
			}
			return withEnv(cmd, open, true, func(env *Env) error {
				identity, err := env.Auth.Register(cmd.Context(), auth.RegisterInput{
					Subject:     subject,
					DisplayName: name,
					Password:    secret,
					Role:        role,
				})
				if err != nil {
					return fmt.Errorf("create %s: %w", subject, err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", identity.Subject, identity.Role)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "national ID, e.g. 12345678-5")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&roleName, "role", "support", "support, manager or admin")
	cmd.Flags().StringVar(&password, "password", "", "initial password (or "+passwordEnv+")")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newUsersCheckCommand(open Opener) *cobra.Command {
	var subject, password string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify a password the way the login endpoint does",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := passwordFrom(password)
			if err != nil {
				return err
			}
			return withEnv(cmd, open, true, func(env *Env) error {
				result, err := env.Auth.Login(cmd.Context(), subject, secret)
				if err != nil {
					return fmt.Errorf("check %s: %w", subject, err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ok %s role=%s expires=%s\n",
					result.Identity.Subject, result.Identity.Role, result.Token.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z"))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "national ID")
	cmd.Flags().StringVar(&password, "password", "", "password to check (or "+passwordEnv+")")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func newUsersSetRoleCommand(open Opener) *cobra.Command {
	var subject, roleName string
	cmd := &cobra.Command{
		Use:   "set-role",
		Short: "Change the tier of an identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := auth.ParseRole(roleName)
			if err != nil {
				return err
			}
			return withEnv(cmd, open, true, func(env *Env) error {
				if err := env.Auth.SetRole(cmd.Context(), auth.SystemPrincipal, subject, role); err != nil {
					return fmt.Errorf("set-role %s: %w", subject, err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s; existing sessions keep their role until they expire\n", subject, role)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "national ID")
	cmd.Flags().StringVar(&roleName, "role", "", "support, manager or admin")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func newUsersActiveCommand(open Opener, use string, active bool) *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   use,
		Short: use + " an identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if subject == "" {
				return errors.New("--subject is required")
			}
			return withEnv(cmd, open, true, func(env *Env) error {
				if err := env.Auth.SetActive(cmd.Context(), auth.SystemPrincipal, subject, active); err != nil {
					return fmt.Errorf("%s %s: %w", use, subject, err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%sd %s\n", use, subject)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "national ID")
	return cmd
}
