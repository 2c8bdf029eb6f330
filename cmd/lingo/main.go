package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	apiclient "github.com/dannyseiner/web-tools-sub000/pkg/api/client"
)

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "login":
		err = commandLogin(args)
	case "org":
		err = commandOrg(args)
	case "project":
		err = commandProject(args)
	case "errors":
		err = commandErrors(args)
	case "tokens":
		err = commandTokens(args)
	case "translations":
		err = commandTranslations(args)
	case "send-test-error":
		err = commandSendTestError(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "Email address")
	password := fs.String("password", "", "Password (supply to avoid prompt)")
	name := fs.String("name", "", "Display name; creates the account when set")
	apiBase := fs.String("api", "", "API base URL (default http://localhost:4000)")
	fs.Parse(args)

	if strings.TrimSpace(*email) == "" {
		return errors.New("--email is required")
	}

	secret := strings.TrimSpace(*password)
	if secret == "" {
		fmt.Print("Password: ")
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Print("\n")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		secret = string(bytes)
	}

	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = *apiBase
	}

	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var resp apiclient.AuthResponse
	if strings.TrimSpace(*name) != "" {
		resp, err = client.Signup(ctx, *email, *name, secret)
	} else {
		resp, err = client.Login(ctx, *email, secret)
	}
	if err != nil {
		return err
	}
	cfg.APIBaseURL = client.BaseURL()
	cfg.AccessToken = resp.Tokens.AccessToken
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Printf("logged in as %s\n", resp.User.Email)
	return nil
}

// session returns a client and the stored access token.
func session() (*apiclient.Client, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, "", errors.New("please login first using 'lingo login'")
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return nil, "", err
	}
	return client, token, nil
}

func commandOrg(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: lingo org [list|create]")
	}
	switch args[0] {
	case "list":
		client, token, err := session()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		orgs, err := client.ListOrganizations(ctx, token)
		if err != nil {
			return err
		}
		for _, org := range orgs {
			fmt.Printf("%s\t%s\n", org.ID, org.Name)
		}
		return nil
	case "create":
		fs := flag.NewFlagSet("org create", flag.ExitOnError)
		name := fs.String("name", "", "Organization name")
		fs.Parse(args[1:])
		if strings.TrimSpace(*name) == "" {
			return errors.New("--name is required")
		}
		client, token, err := session()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		org, err := client.CreateOrganization(ctx, token, *name)
		if err != nil {
			return err
		}
		fmt.Printf("organization created: %s (%s)\n", org.ID, org.Name)
		return nil
	default:
		return fmt.Errorf("unknown org command: %s", args[0])
	}
}

func commandProject(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: lingo project [list|create]")
	}
	fs := flag.NewFlagSet("project "+args[0], flag.ExitOnError)
	orgID := fs.String("org", "", "Organization identifier")
	name := fs.String("name", "", "Project name")
	limit := fs.Int("limit", 0, "Maximum number of projects to display")
	fs.Parse(args[1:])
	if strings.TrimSpace(*orgID) == "" {
		return errors.New("--org is required")
	}

	client, token, err := session()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch args[0] {
	case "list":
		projects, err := client.ListProjects(ctx, token, *orgID)
		if err != nil {
			return err
		}
		count := len(projects)
		if *limit > 0 && *limit < count {
			count = *limit
		}
		for _, p := range projects[:count] {
			fmt.Printf("%s\t%s\t%s\n", p.ID, p.Name, p.CreatedAt)
		}
		return nil
	case "create":
		if strings.TrimSpace(*name) == "" {
			return errors.New("--name is required")
		}
		project, err := client.CreateProject(ctx, token, *orgID, *name)
		if err != nil {
			return err
		}
		fmt.Printf("project created: %s (%s)\n", project.ID, project.Name)
		return nil
	default:
		return fmt.Errorf("unknown project command: %s", args[0])
	}
}

func commandErrors(args []string) error {
	fs := flag.NewFlagSet("errors", flag.ExitOnError)
	projectID := fs.String("project", "", "Project identifier")
	app := fs.String("app", "", "Filter by app")
	env := fs.String("env", "", "Filter by environment")
	release := fs.String("release", "", "Filter by release")
	limit := fs.Int("limit", 20, "Maximum number of reports")
	fs.Parse(args)
	if strings.TrimSpace(*projectID) == "" {
		return errors.New("--project is required")
	}

	client, token, err := session()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	reports, err := client.ListErrors(ctx, token, *projectID, apiclient.ErrorFilter{
		App:     *app,
		Env:     *env,
		Release: *release,
		Limit:   *limit,
	})
	if err != nil {
		return err
	}
	for _, r := range reports {
		fmt.Printf("%s\t%s\t%s: %s\n", r.ReceivedAt.Format(time.RFC3339), deref(r.Env), r.Name, r.Message)
	}
	return nil
}

func commandTokens(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: lingo tokens [list|issue|revoke]")
	}
	fs := flag.NewFlagSet("tokens "+args[0], flag.ExitOnError)
	projectID := fs.String("project", "", "Project identifier")
	label := fs.String("label", "", "Token label")
	ttl := fs.Duration("ttl", 0, "Token lifetime (0 never expires)")
	tokenID := fs.String("token", "", "Token identifier to revoke")
	fs.Parse(args[1:])
	if strings.TrimSpace(*projectID) == "" {
		return errors.New("--project is required")
	}

	client, token, err := session()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch args[0] {
	case "list":
		list, err := client.ListTokens(ctx, token, *projectID)
		if err != nil {
			return err
		}
		for _, t := range list {
			state := "active"
			switch {
			case t.RevokedAt != nil:
				state = "revoked"
			case t.ExpiresAt != nil && t.ExpiresAt.Before(time.Now()):
				state = "expired"
			}
			fmt.Printf("%s\t%s\t%s\t%s\n", t.ID, t.Label, state, t.CreatedAt.Format(time.RFC3339))
		}
		return nil
	case "issue":
		issued, err := client.IssueToken(ctx, token, *projectID, *label, *ttl)
		if err != nil {
			return err
		}
		fmt.Printf("token issued: %s\n%s\n", issued.ID, issued.Token)
		fmt.Println("store it now; it is not shown again")
		return nil
	case "revoke":
		if strings.TrimSpace(*tokenID) == "" {
			return errors.New("--token is required")
		}
		if err := client.RevokeToken(ctx, token, *projectID, *tokenID); err != nil {
			return err
		}
		fmt.Println("token revoked")
		return nil
	default:
		return fmt.Errorf("unknown tokens command: %s", args[0])
	}
}

func commandTranslations(args []string) error {
	fs := flag.NewFlagSet("translations", flag.ExitOnError)
	projectToken := fs.String("token", os.Getenv("LINGO_PROJECT_TOKEN"), "Project token")
	language := fs.String("lang", "", "Only print this language")
	fs.Parse(args)
	if strings.TrimSpace(*projectToken) == "" {
		return errors.New("--token or LINGO_PROJECT_TOKEN is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	translations, err := client.Translations(ctx, *projectToken)
	if err != nil {
		return err
	}
	for code, entries := range translations {
		if *language != "" && code != *language {
			continue
		}
		for key, value := range entries {
			fmt.Printf("%s\t%s\t%s\n", code, key, value)
		}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func printUsage() {
	fmt.Printf("lingo CLI %s\n\n", buildVersion)
	fmt.Print(`Usage:
	lingo login --email user@example.com [--password secret] [--name Name] [--api http://localhost:4000]
	lingo org list
	lingo org create --name <name>
	lingo project list --org <org-id> [--limit N]
	lingo project create --org <org-id> --name <name>
	lingo errors --project <project-id> [--app a] [--env e] [--release r] [--limit N]
	lingo tokens list --project <project-id>
	lingo tokens issue --project <project-id> [--label l] [--ttl 720h]
	lingo tokens revoke --project <project-id> --token <token-id>
	lingo translations --token <project-token> [--lang en]
	lingo send-test-error --token <project-token> [--message text]
	lingo version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
