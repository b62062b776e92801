package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/tendant/simple-platform-auth/pkg/browser"
	"github.com/tendant/simple-platform-auth/pkg/challenge"
	"github.com/tendant/simple-platform-auth/pkg/config"
	"github.com/tendant/simple-platform-auth/pkg/loginflow"
	"github.com/tendant/simple-platform-auth/pkg/platform"
	"github.com/tendant/simple-platform-auth/pkg/platformauth"
)

// authcheck runs one login against a live platform and prints the outcome.
func main() {
	platformName := flag.String("platform", "", "Platform to log into: apple-music or distrokid (required)")
	email := flag.String("email", "", "Account email (required)")
	phone := flag.String("phone", "", "Phone number that receives SMS codes")
	headful := flag.Bool("headful", false, "Show the browser window")
	showToken := flag.Bool("show-token", false, "Print the session cookies on success")
	flag.Parse()

	config.LoadEnvFile()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg.SetupLogger()

	p, err := platform.Parse(*platformName)
	if err != nil || *email == "" {
		fmt.Fprintln(os.Stderr, "Error: -platform and -email are required")
		flag.Usage()
		os.Exit(2)
	}
	password := os.Getenv("AUTHCHECK_PASSWORD")
	if password == "" {
		fmt.Fprintln(os.Stderr, "Error: set AUTHCHECK_PASSWORD to the account password")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	launcher := browser.NewChromeLauncher(cfg.Browser.ExecPath)
	launcher.Headless = cfg.Browser.Headless && !*headful
	launcher.LaunchTimeout = cfg.Browser.LaunchTimeout

	registry := challenge.NewRegistry(challenge.Options{TTL: cfg.Challenge.TTL, MaxPending: 1})
	defer registry.Close()

	opts := loginflow.DefaultOptions()
	opts.NavigationTimeout = cfg.Flow.NavigationTimeout
	opts.ElementTimeout = cfg.Flow.ElementTimeout
	opts.OutcomeTimeout = cfg.Flow.OutcomeTimeout
	flow, err := loginflow.ForPlatform(p, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	auth := platformauth.New(flow, launcher, registry)
	defer auth.Cleanup()

	fmt.Printf("Logging into %s as %s...\n", p.DisplayName(), *email)
	res := auth.Authenticate(ctx, platform.Credentials{Identifier: *email, Secret: password, Contact: *phone})

	if pending, ok := res.(platformauth.PendingTwoFactor); ok {
		fmt.Printf("Verification code sent to %s.\n", pending.Hint)
		fmt.Printf("Enter the code before %s: ", pending.ExpiresAt.Local().Format("15:04:05"))
		code, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			slog.Error("Failed to read verification code", "error", err)
			registry.Evict(pending.ChallengeID)
			os.Exit(1)
		}
		res = auth.Resume(ctx, pending.ChallengeID, strings.TrimSpace(code))
	}

	switch v := res.(type) {
	case platformauth.Success:
		fmt.Printf("Authenticated at %s\n", v.AuthenticatedAt.Format("2006-01-02 15:04:05"))
		if v.ExternalAccountID != "" {
			fmt.Printf("External account id: %s\n", v.ExternalAccountID)
		}
		if *showToken {
			fmt.Printf("Session: %s\n", v.SessionToken)
		} else {
			fmt.Printf("Session: %d cookies (use -show-token to print)\n", strings.Count(v.SessionToken, "="))
		}
	case platformauth.Failure:
		fmt.Printf("Failed (%s): %s\n", v.Reason, v.Message)
		os.Exit(1)
	default:
		fmt.Printf("Unexpected result: %#v\n", res)
		os.Exit(1)
	}
}
