package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dpm-admin/dpm-api/internal/auth"
)

// TokenReport is the JSON shape printed by token inspect.
type TokenReport struct {
	Status    string     `json:"status"`
	Subject   string     `json:"subject,omitempty"`
	Role      string     `json:"role,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func newTokenCommand(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Inspect session tokens",
	}
	var jsonOutput bool
	inspect := &cobra.Command{
		Use:   "inspect TOKEN",
		Short: "Validate a token with the configured secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, open, false, func(env *Env) error {
				raw := strings.TrimPrefix(strings.TrimSpace(args[0]), "Bearer ")
				v := env.Tokens.Validate(raw)
				report := TokenReport{Status: v.Status.String()}
				if v.Status == auth.TokenValid {
					report.Subject = v.Subject
					report.Role = v.Role.String()
					report.ExpiresAt = &v.ExpiresAt
				}
				out := cmd.OutOrStdout()
				if jsonOutput {
					if err := json.NewEncoder(out).Encode(report); err != nil {
						return err
					}
				} else {
					_, _ = fmt.Fprintf(out, "status: %s\n", report.Status)
					if report.Subject != "" {
						_, _ = fmt.Fprintf(out, "subject: %s\nrole: %s\nexpires: %s\n",
							report.Subject, report.Role, report.ExpiresAt.UTC().Format(time.RFC3339))
					}
				}
				if v.Status != auth.TokenValid {
					return fmt.Errorf("token is %s", report.Status)
				}
				return nil
			})
		},
	}
	inspect.Flags().BoolVar(&jsonOutput, "json", false, "print JSON")
	cmd.AddCommand(inspect)
	return cmd
}

func newHashPasswordCommand(open Opener) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash for manual provisioning",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := passwordFrom(password)
			if err != nil {
				return err
			}
			if err := auth.CheckPasswordStrength(secret); err != nil {
				return err
			}
			return withEnv(cmd, open, false, func(env *Env) error {
				hash, err := env.Hasher.Hash(secret)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), hash)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password to hash (or "+passwordEnv+")")
	return cmd
}
