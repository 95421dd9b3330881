// Package console implements the agency command line: sign in, sign up,
// sign out, and the guarded admin area check.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/utils/clock"

	"github.com/northwind-digital/agency/internal/authstate"
	"github.com/northwind-digital/agency/internal/datastore"
	"github.com/northwind-digital/agency/internal/guard"
	"github.com/northwind-digital/agency/internal/identity"
)

// Routes reported after sign in and by the guard.
const (
	RouteHome   = "/"
	RouteAdmin  = "/admin"
	RouteSignIn = "/auth"
)

// ErrAccessDenied is returned by the admin command when the guard did not
// authorize.
var ErrAccessDenied = errors.New("access denied")

// Deps wires the console to its collaborators.
type Deps struct {
	Provider    identity.Provider
	Store       datastore.Store
	Jobs        func() (JobsOps, error)
	In          io.Reader
	Out         io.Writer
	RoleTimeout time.Duration
	WaitTimeout time.Duration
	Clock       clock.Clock
	Logger      *slog.Logger
}

// App holds the console state shared by every command.
type App struct {
	deps   Deps
	prompt *prompter
	logger *slog.Logger
}

// NewApp constructs an App.
func NewApp(deps Deps) *App {
	if deps.RoleTimeout <= 0 {
		deps.RoleTimeout = guard.DefaultRoleTimeout
	}
	if deps.WaitTimeout <= 0 {
		deps.WaitTimeout = 10 * time.Second
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &App{deps: deps, prompt: newPrompter(deps.In, deps.Out), logger: deps.Logger}
}

// RootCommand assembles the command tree.
func (a *App) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "agency",
		Short:         "Agency site account and admin tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.deps.Out)
	root.AddCommand(a.loginCommand(), a.signupCommand(), a.logoutCommand(), a.whoamiCommand(), a.adminCommand(), a.watchCommand(), a.jobsCommand())
	return root
}

// Execute runs the command line and returns the process exit code. Errors
// are printed as user facing messages.
func Execute(ctx context.Context, a *App, args []string, stderr io.Writer) int {
	root := a.RootCommand()
	root.SetArgs(args)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, ErrAccessDenied) {
			fmt.Fprintln(stderr, identity.UserMessage(err))
		}
		return 1
	}
	return 0
}

// bootstrap starts a session bootstrapper for one command.
func (a *App) bootstrap(ctx context.Context) *authstate.Bootstrapper {
	b := a.newBootstrapper()
	b.Start(ctx)
	return b
}

func (a *App) newBootstrapper() *authstate.Bootstrapper {
	return authstate.New(a.deps.Provider, authstate.NewRoleResolver(a.deps.Store, a.logger), a.logger)
}

func (a *App) awaitSettled(ctx context.Context, b *authstate.Bootstrapper) (authstate.State, error) {
	ctx, cancel := context.WithTimeout(ctx, a.deps.WaitTimeout)
	defer cancel()
	return b.Await(ctx, func(s authstate.State) bool { return s.Settled() })
}

func (a *App) loginCommand() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			var err error
			if email == "" {
				if email, err = a.prompt.line("Email"); err != nil {
					return err
				}
			}
			password, err := a.prompt.password("Password")
			if err != nil {
				return err
			}

			b := a.bootstrap(ctx)
			defer b.Close()
			sess, err := a.deps.Provider.SignInWithPassword(ctx, email, password)
			if err != nil {
				return err
			}
			waitCtx, cancel := context.WithTimeout(ctx, a.deps.WaitTimeout)
			defer cancel()
			st, err := b.Await(waitCtx, func(s authstate.State) bool {
				return s.Settled() && s.UserID() == sess.User.ID
			})
			switch {
			case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
				// Role unknown: route as a member.
				fmt.Fprintf(a.deps.Out, "Signed in as %s.\nRole check timed out.\nContinue at %s\n", displayName(sess.User), RouteHome)
				return nil
			case err != nil:
				return err
			}
			route := RouteHome
			if st.IsAdmin {
				route = RouteAdmin
			}
			fmt.Fprintf(a.deps.Out, "Signed in as %s.\nContinue at %s\n", displayName(sess.User), route)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	return cmd
}

func (a *App) signupCommand() *cobra.Command {
	var email, username string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if email == "" {
				if email, err = a.prompt.line("Email"); err != nil {
					return err
				}
			}
			if username == "" {
				if username, err = a.prompt.line("Username"); err != nil {
					return err
				}
			}
			password, err := a.prompt.password("Password")
			if err != nil {
				return err
			}
			res, err := a.deps.Provider.SignUp(cmd.Context(), email, password, identity.Profile{Username: username})
			if err != nil {
				return err
			}
			if res.PendingVerification {
				fmt.Fprintln(a.deps.Out, "Account created. Check your email to verify your account before signing in.")
				return nil
			}
			fmt.Fprintln(a.deps.Out, "Account created. You can sign in now.")
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&username, "username", "", "display name")
	return cmd
}

func (a *App) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b := a.bootstrap(cmd.Context())
			defer b.Close()
			err := b.SignOut(cmd.Context())
			fmt.Fprintln(a.deps.Out, "Signed out.")
			if err != nil {
				a.logger.Warn("sign out", slog.Any("error", err))
			}
			return nil
		},
	}
}

func (a *App) whoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b := a.bootstrap(cmd.Context())
			defer b.Close()
			st, err := a.awaitSettled(cmd.Context(), b)
			if err != nil {
				return err
			}
			user := st.User()
			if user == nil {
				fmt.Fprintln(a.deps.Out, "Not signed in.")
				return nil
			}
			role := "member"
			if st.IsAdmin {
				role = "administrator"
			}
			fmt.Fprintf(a.deps.Out, "%s <%s> (%s)\n", displayName(*user), user.Email, role)
			return nil
		},
	}
}

func (a *App) adminCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "admin",
		Short: "Open the admin area",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			b := a.bootstrap(ctx)
			defer b.Close()

			var redirect string
			g := guard.New(b, guard.Options{
				RoleTimeout: a.deps.RoleTimeout,
				SignInRoute: RouteSignIn,
				Clock:       a.deps.Clock,
				Logger:      a.logger,
				Navigator:   guard.NavigatorFunc(func(route string) { redirect = route }),
			})
			printed := make(chan struct{})
			go func() {
				defer close(printed)
				for st := range g.Changes() {
					if st == guard.StatusChecking {
						fmt.Fprintln(a.deps.Out, "Checking access...")
					}
				}
			}()
			st, err := g.Run(ctx)
			<-printed
			if err != nil {
				return err
			}

			switch st {
			case guard.StatusAuthorized:
				fmt.Fprintln(a.deps.Out, "Access granted: admin dashboard.")
				return a.printContentCounts(ctx)
			case guard.StatusForbidden:
				fmt.Fprintln(a.deps.Out, "Access denied. Your account does not have administrator privileges.")
				fmt.Fprintln(a.deps.Out, "Sign out and try another account (agency logout), or retry (agency admin).")
			case guard.StatusUnauthenticated:
				fmt.Fprintf(a.deps.Out, "Sign in required. Continue at %s\n", redirect)
			}
			return ErrAccessDenied
		},
	}
}

// printContentCounts lists the size of every table managed from the admin area.
func (a *App) printContentCounts(ctx context.Context) error {
	tables := []string{datastore.TableProjects, datastore.TableServices, datastore.TableIndustries, datastore.TableContactSubmissions}
	for _, table := range tables {
		rows, err := a.deps.Store.Select(ctx, table, datastore.Query{Limit: 1000})
		if err != nil {
			return fmt.Errorf("console: count %s: %w", table, err)
		}
		fmt.Fprintf(a.deps.Out, "  %-20s %d\n", table, len(rows))
	}
	return nil
}

func (a *App) watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print session state changes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b := a.newBootstrapper()
			defer b.Close()
			stop := b.Watch(func(s authstate.State) {
				fmt.Fprintln(a.deps.Out, describeState(s))
			})
			defer stop()
			b.Start(cmd.Context())
			<-cmd.Context().Done()
			return nil
		},
	}
}

func (a *App) jobsCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "jobs", Short: "Inspect and trigger background jobs"}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show queue counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ops, err := a.jobsOps()
			if err != nil {
				return err
			}
			defer ops.Close()
			all, err := ops.InspectQueues(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range all {
				fmt.Fprintf(a.deps.Out, "queue=%s pending=%d active=%d scheduled=%d retry=%d failed=%d\n",
					s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Failed)
			}
			return nil
		},
	}

	var olderThan time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Remove accounts that never verified their email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan < time.Hour {
				return fmt.Errorf("--older-than must be at least 1h, got %s", olderThan)
			}
			ops, err := a.jobsOps()
			if err != nil {
				return err
			}
			defer ops.Close()
			id, err := ops.TriggerPrune(cmd.Context(), int(olderThan/time.Hour))
			if err != nil {
				return err
			}
			fmt.Fprintf(a.deps.Out, "Enqueued prune task %s\n", id)
			return nil
		},
	}
	prune.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "minimum account age")

	cmd.AddCommand(stats, prune)
	return cmd
}

func (a *App) jobsOps() (JobsOps, error) {
	if a.deps.Jobs == nil {
		return nil, errors.New("jobs: queue not configured")
	}
	return a.deps.Jobs()
}

func displayName(u identity.User) string {
	if u.Username != "" {
		return u.Username
	}
	return u.Email
}

func describeState(s authstate.State) string {
	switch s.Phase {
	case authstate.PhaseSignedIn:
		line := fmt.Sprintf("v%d signed in as %s, role %s", s.Version, s.UserID(), s.Role)
		if s.Role == authstate.RoleResolved {
			line += fmt.Sprintf(" (admin=%t)", s.IsAdmin)
		}
		return line
	default:
		return fmt.Sprintf("v%d %s", s.Version, s.Phase)
	}
}
