// ABOUTME: Authentication commands: login, logout, signup, whoami, profile, password.
// ABOUTME: Renders snapshot state and classified signup errors for the terminal.

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/verity-ai/verity/internal/signup"
)

// promptLine reads one line of visible input.
func promptLine(label string) (string, error) {
	fmt.Printf("%s: ", label)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// promptPassword reads a password without echoing it.
func promptPassword(label string) (string, error) {
	fmt.Printf("%s: ", label)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(raw), nil
}

func (a *app) cmdLogin(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "Account email")
	password := fs.String("password", "", "Account password (prompted if omitted)")
	oauth := fs.String("oauth", "", "OAuth provider name (prints the browser URL)")
	redirect := fs.String("redirect", "", "OAuth redirect target")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *oauth != "" {
		url := a.sessions.OAuthAuthorizeURL(*oauth, *redirect)
		fmt.Println("Open this URL in a browser to continue signing in:")
		fmt.Println()
		fmt.Println("  " + url)
		return nil
	}

	var err error
	if *email == "" {
		if *email, err = promptLine("Email"); err != nil {
			return err
		}
	}
	if *password == "" {
		if *password, err = promptPassword("Password"); err != nil {
			return err
		}
	}

	sess, err := a.sessions.SignInWithPassword(ctx, *email, *password)
	if err != nil {
		return err
	}

	color.Green("Signed in as %s", sess.User.Email)
	fmt.Println("Run 'verity whoami' to see your profile once it has loaded.")
	return nil
}

func (a *app) cmdLogout(ctx context.Context) error {
	if err := a.sessions.SignOut(ctx); err != nil {
		// Local state is already cleared; the revocation failure is
		// informational
		color.Yellow("Signed out locally; server-side revocation failed: %v", err)
		return nil
	}
	color.Green("Signed out")
	return nil
}

func (a *app) cmdSignup(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("signup", flag.ContinueOnError)
	email := fs.String("email", "", "Account email")
	password := fs.String("password", "", "Account password (prompted if omitted)")
	name := fs.String("name", "", "Display name stored in the account metadata")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var err error
	if *email == "" {
		if *email, err = promptLine("Email"); err != nil {
			return err
		}
	}
	if *password == "" {
		if *password, err = promptPassword("Password"); err != nil {
			return err
		}
	}

	var metadata map[string]any
	if *name != "" {
		metadata = map[string]any{"display_name": *name}
	}

	result, err := a.machine.SignUp(ctx, *email, *password, metadata)
	switch {
	case errors.Is(err, signup.ErrEmailExists):
		return fmt.Errorf("an account with %s already exists; try 'verity login' or 'verity password reset'", *email)
	case errors.Is(err, signup.ErrSignupInProgress):
		return fmt.Errorf("another signup attempt is already in progress")
	case err != nil:
		return err
	}

	if result.Session == nil {
		color.Green("Account created for %s", *email)
		fmt.Println("Check your email to confirm the account, then run 'verity login'.")
		return nil
	}

	color.Green("Account created and signed in as %s", result.Session.User.Email)
	return nil
}

func (a *app) cmdWhoami(ctx context.Context) error {
	snap := a.machine.Snapshot()
	if !snap.IsAuthenticated() {
		fmt.Println("Not signed in. Run 'verity login'.")
		return nil
	}

	// Give an in-flight initial profile load a moment to land
	deadline := time.After(2 * time.Second)
wait:
	for !snap.HasProfile() && snap.Err == nil {
		changed := a.machine.Changed()
		snap = a.machine.Snapshot()
		if snap.HasProfile() || snap.Err != nil {
			break
		}
		select {
		case <-changed:
		case <-deadline:
			break wait
		}
	}

	bold := color.New(color.Bold)
	bold.Println("Identity")
	fmt.Printf("  ID:     %s\n", snap.Principal.ID)
	fmt.Printf("  Email:  %s\n", snap.Principal.Email)

	profile, org := snap.Profile, snap.Organization
	if profile == nil && a.cache != nil {
		// Offline fallback: show the last cached profile
		if cached, cachedOrg, err := a.cache.GetProfile(ctx, snap.Principal.ID); err == nil {
			profile, org = cached, cachedOrg
			color.Yellow("  (profile from local cache)")
		}
	}

	if profile == nil {
		if snap.Err != nil {
			color.Yellow("Profile could not be loaded: %v", snap.Err)
			fmt.Println("Run 'verity profile refresh' to retry.")
			return nil
		}
		color.Yellow("Account created, profile not provisioned yet.")
		fmt.Println("Run 'verity profile refresh' once onboarding has completed.")
		return nil
	}

	bold.Println("Profile")
	fmt.Printf("  Role tier: %s\n", profile.AppRole)
	if profile.BusinessRole != nil {
		fmt.Printf("  Business role: %s\n", *profile.BusinessRole)
	} else {
		fmt.Println("  Business role: (onboarding not completed)")
	}
	if profile.Bio != "" {
		fmt.Printf("  Bio: %s\n", profile.Bio)
	}

	if org != nil {
		bold.Println("Organization")
		fmt.Printf("  Name:     %s\n", org.Name)
		fmt.Printf("  Vertical: %s\n", org.VerticalID)
	}
	return nil
}

func (a *app) cmdProfile(ctx context.Context, args []string) error {
	if len(args) < 1 || args[0] != "refresh" {
		return fmt.Errorf("usage: verity profile refresh")
	}

	if err := a.machine.RefreshProfile(ctx); err != nil {
		return err
	}

	snap := a.machine.Snapshot()
	if snap.Err != nil {
		return snap.Err
	}
	if !snap.HasProfile() {
		color.Yellow("Profile still not provisioned.")
		return nil
	}
	color.Green("Profile refreshed")
	return nil
}

func (a *app) cmdPassword(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: verity password <reset|update>")
	}

	switch args[0] {
	case "reset":
		fs := flag.NewFlagSet("password reset", flag.ContinueOnError)
		email := fs.String("email", "", "Account email")
		redirect := fs.String("redirect", "", "Redirect target for the recovery link")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		var err error
		if *email == "" {
			if *email, err = promptLine("Email"); err != nil {
				return err
			}
		}
		if err := a.sessions.RequestPasswordReset(ctx, *email, *redirect); err != nil {
			return err
		}
		color.Green("Recovery email sent to %s", *email)
		return nil

	case "update":
		newPassword, err := promptPassword("New password")
		if err != nil {
			return err
		}
		if err := a.sessions.UpdatePassword(ctx, newPassword); err != nil {
			return err
		}
		color.Green("Password updated")
		return nil

	default:
		return fmt.Errorf("unknown password subcommand: %s", args[0])
	}
}
