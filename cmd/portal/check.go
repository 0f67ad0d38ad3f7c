package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quota-bridge/portal/internal/config"
	"github.com/quota-bridge/portal/internal/errors"
	"github.com/quota-bridge/portal/internal/logging"
	"github.com/quota-bridge/portal/pkg/auth"
	"github.com/quota-bridge/portal/pkg/guard"
	"github.com/quota-bridge/portal/pkg/kv"
	"github.com/quota-bridge/portal/pkg/routepath"
	"github.com/quota-bridge/portal/pkg/session"
	"github.com/quota-bridge/portal/pkg/validator"
)

func checkCmd(load func() (*config.Config, error)) *cobra.Command {
	var (
		as     string
		bound  bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "check <path>",
		Short: "Show how the guard decides a navigation",
		Long: `Evaluate one navigation offline, as an anonymous visitor, a user or an
administrator. No backend is contacted: visitors without a session are
never validated.

Examples:
  portal check /admin/keys
  portal check /user/claim --as user
  portal check / --as user --bound
  portal check /admin --as admin --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			resolver, err := cfg.Resolver()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			logger := logging.Discard()
			store := session.NewStore(kv.NewMemoryStore(), logger)
			if err := signInAs(ctx, store, as, bound); err != nil {
				return err
			}

			offline := validator.CheckerFunc(func(context.Context, auth.Realm) (validator.Result, error) {
				return validator.Result{}, nil
			})
			g := guard.New(store, validator.New(offline, logger), resolver, logger)
			d := g.Evaluate(ctx, args[0])

			if err := printDecision(cmd, d, asJSON); err != nil {
				return err
			}
			if _, err := routepath.Parse(args[0]); err != nil {
				return errors.New("P161").WithDetail(fmt.Sprintf("%q: %v", args[0], err))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&as, "as", "anon", "Visitor kind: anon, user or admin")
	cmd.Flags().BoolVar(&bound, "bound", false, "The user has linked a downstream account")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the decision as JSON")

	return cmd
}

// signInAs places the identity named by as into store.
func signInAs(ctx context.Context, store *session.Store, as string, bound bool) error {
	var id auth.Identity
	switch as {
	case "anon", "":
		return nil
	case "user":
		id = auth.Identity{SubjectID: "cli-user", DisplayName: "cli-user", Role: auth.RoleUser}
		if bound {
			id.BoundExternalAccount = "cli-account"
		}
	case "admin":
		id = auth.Identity{SubjectID: "admin", DisplayName: "admin", Role: auth.RoleAdmin}
	default:
		return errors.New("P181").WithDetail(fmt.Sprintf("--as %q must be anon, user or admin", as))
	}
	return store.SetIdentity(ctx, id, auth.NewSession(id, "cli-token", time.Now()))
}

func printDecision(cmd *cobra.Command, d guard.Decision, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}

	fmt.Fprintf(out, "Outcome:  %s (rule %d)\n", d.Outcome, d.Rule)
	fmt.Fprintf(out, "Location: %s\n", d.URL())
	if d.Title != "" {
		fmt.Fprintf(out, "Title:    %s\n", d.Title)
	}
	if !d.Known {
		fmt.Fprintln(out, "Known:    no")
	}
	if d.Notice != nil {
		fmt.Fprintf(out, "Notice:   %s\n", d.Notice.Message)
	}
	return nil
}
