// Package admin implements pmdash-admin, the operator tool that edits
// credentials directly in the configured store.
package admin

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/dmitrijs2005/pmdash/internal/flagx"
	"github.com/dmitrijs2005/pmdash/internal/server/models"
	"github.com/dmitrijs2005/pmdash/internal/server/services"
)

var ErrUsage = errors.New("usage")

const usage = `Usage: pmdash-admin <command> [flags] [-c config.json]

Commands:
  set-password -u <user>                          set a new password (prompted)
  reset-2fa    -u <user>                          turn off two-factor authentication
  create-user  -u <user> -e <email> [-r <role>]   create an account (password prompted)
`

type Accounts interface {
	CreateUser(ctx context.Context, nu services.NewUser) (*models.Profile, error)
	AdminSetPassword(ctx context.Context, username, newPassword string) error
	AdminResetTwoFactor(ctx context.Context, username string) error
}

type App struct {
	accounts Accounts
	out      io.Writer
}

func NewApp(accounts Accounts, out io.Writer) *App {
	return &App{accounts: accounts, out: out}
}

type commandFlags struct {
	username string
	email    string
	role     string
}

// parseCommandFlags picks -u, -e and -r out of args; config flags are left
// for the config loader.
func parseCommandFlags(name string, args []string) (*commandFlags, error) {
	f := &commandFlags{role: string(models.RoleClient)}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&f.username, "u", "", "username")
	fs.StringVar(&f.email, "e", "", "email")
	fs.StringVar(&f.role, "r", f.role, "role (admin or client)")

	if err := fs.Parse(flagx.FilterArgs(args, []string{"-u", "-e", "-r"})); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if f.username == "" {
		return nil, fmt.Errorf("%w: %s requires -u <user>", ErrUsage, name)
	}
	return f, nil
}

// Run executes the command named by args[0].
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(a.out, usage)
		return fmt.Errorf("%w: no command given", ErrUsage)
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "set-password":
		return a.setPassword(ctx, rest)
	case "reset-2fa":
		return a.resetTwoFactor(ctx, rest)
	case "create-user":
		return a.createUser(ctx, rest)
	case "help", "-h", "--help":
		fmt.Fprint(a.out, usage)
		return nil
	default:
		fmt.Fprint(a.out, usage)
		return fmt.Errorf("%w: unknown command %q", ErrUsage, cmd)
	}
}

func (a *App) setPassword(ctx context.Context, args []string) error {
	f, err := parseCommandFlags("set-password", args)
	if err != nil {
		return err
	}
	pw, err := ReadNewPassword(a.out)
	if err != nil {
		return err
	}
	if err := a.accounts.AdminSetPassword(ctx, f.username, pw); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Password updated for %s\n", f.username)
	return nil
}

func (a *App) resetTwoFactor(ctx context.Context, args []string) error {
	f, err := parseCommandFlags("reset-2fa", args)
	if err != nil {
		return err
	}
	if err := a.accounts.AdminResetTwoFactor(ctx, f.username); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Two-factor authentication reset for %s\n", f.username)
	return nil
}

func (a *App) createUser(ctx context.Context, args []string) error {
	f, err := parseCommandFlags("create-user", args)
	if err != nil {
		return err
	}
	if f.email == "" {
		return fmt.Errorf("%w: create-user requires -e <email>", ErrUsage)
	}
	pw, err := ReadNewPassword(a.out)
	if err != nil {
		return err
	}

	p, err := a.accounts.CreateUser(ctx, services.NewUser{
		Username: f.username,
		Email:    f.email,
		Role:     models.Role(f.role),
		Password: pw,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Created %s %s <%s>\n", p.Role, p.Username, p.Email)
	return nil
}
