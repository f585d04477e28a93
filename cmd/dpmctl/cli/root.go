package cli

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/dpm-admin/dpm-api/internal/auth"
)

// Env is what the operator commands act on.
type Env struct {
	Auth   *auth.Service
	Tokens *auth.TokenService
	Hasher *auth.PasswordVerifier
	Close  func()
}

// Opener builds an Env for one command invocation. Auth is set only when withStore is true.
type Opener func(ctx context.Context, withStore bool) (*Env, error)

// passwordEnv lets scripts avoid passing secrets as arguments.
const passwordEnv = "DPM_PASSWORD"

// NewRootCommand assembles dpmctl. open is called lazily by the commands that need stores.
func NewRootCommand(open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:   "dpmctl",
		Short: "Operator tooling for the DPM records API",
		Long: `dpmctl manages staff identities and inspects session tokens
against the same store and secret the API server uses.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newUsersCommand(open))
	root.AddCommand(newTokenCommand(open))
	root.AddCommand(newHashPasswordCommand(open))
	return root
}

func withEnv(cmd *cobra.Command, open Opener, withStore bool, fn func(*Env) error) error {
	env, err := open(cmd.Context(), withStore)
	if err != nil {
		return err
	}
	if env.Close != nil {
		defer env.Close()
	}
	return fn(env)
}

func passwordFrom(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if v := os.Getenv(passwordEnv); v != "" {
		return v, nil
	}
	return "", errors.New("--password or " + passwordEnv + " is required")
}
