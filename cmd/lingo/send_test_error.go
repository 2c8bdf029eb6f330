package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/dannyseiner/web-tools-sub000/pkg/capture"
)

// commandSendTestError reports a synthetic error through the capture client
// so a project token and endpoint can be checked end to end.
func commandSendTestError(args []string) error {
	fs := flag.NewFlagSet("send-test-error", flag.ExitOnError)
	projectToken := fs.String("token", os.Getenv("LINGO_PROJECT_TOKEN"), "Project token")
	message := fs.String("message", "lingo test error", "Error message")
	env := fs.String("env", "development", "Environment tag")
	apiBase := fs.String("api", "", "API base URL (defaults to the logged-in API)")
	fs.Parse(args)
	if strings.TrimSpace(*projectToken) == "" {
		return errors.New("--token or LINGO_PROJECT_TOKEN is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	base := cfg.APIBaseURL
	if strings.TrimSpace(*apiBase) != "" {
		base = *apiBase
	}

	debugLog := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client := capture.New(capture.Config{
		EndpointURL:  strings.TrimRight(base, "/") + "/errors",
		ProjectToken: *projectToken,
		App:          "lingo-cli",
		Env:          *env,
		Release:      buildVersion,
	}, capture.WithLogger(debugLog))

	client.Capture(context.Background(), pkgerrors.New(*message),
		capture.WithTags(map[string]string{"source": "send-test-error"}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Flush(ctx); err != nil {
		return fmt.Errorf("delivery did not finish: %w", err)
	}
	fmt.Println("test error sent")
	return nil
}
