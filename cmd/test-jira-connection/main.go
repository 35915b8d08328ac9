package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/garyjia/access-approval/internal/infrastructure/external/jirax"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
)

func main() {
	baseURL := flag.String("url", "", "Jira base URL (or set JIRA_BASE_URL env var)")
	email := flag.String("email", "", "Jira account email (or set JIRA_EMAIL env var)")
	apiToken := flag.String("token", "", "Jira API token (or set JIRA_API_TOKEN env var)")
	project := flag.String("project", "", "Jira project key")
	issue := flag.String("issue", "", "Existing issue key to inspect (optional)")
	timeout := flag.Duration("timeout", 30*time.Second, "API call timeout")
	verbose := flag.Bool("verbose", false, "Verbose output")
	flag.Parse()

	_ = gotenv.Load()

	var logger *zap.Logger
	var err error
	if *verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *baseURL == "" {
		*baseURL = os.Getenv("JIRA_BASE_URL")
	}
	if *email == "" {
		*email = os.Getenv("JIRA_EMAIL")
	}
	if *apiToken == "" {
		*apiToken = os.Getenv("JIRA_API_TOKEN")
	}

	if *baseURL == "" || *email == "" || *apiToken == "" {
		fmt.Fprintf(os.Stderr, "ERROR: Jira credentials not set\n")
		fmt.Fprintf(os.Stderr, "Usage: test-jira-connection --url https://x.atlassian.net --email you@x.com --token ... [--issue IT-1]\n")
		os.Exit(1)
	}

	fmt.Println("=== Jira Connection Test ===")
	fmt.Println("Configuration:")
	fmt.Printf("  Base URL: %s\n", *baseURL)
	fmt.Printf("  Email: %s\n", *email)
	fmt.Printf("  API token length: %d chars\n", len(*apiToken))
	fmt.Printf("  Timeout: %v\n", *timeout)
	fmt.Println()

	client, err := jirax.NewClient(jirax.Config{
		BaseURL:    *baseURL,
		Email:      *email,
		APIToken:   *apiToken,
		ProjectKey: *project,
		IssueType:  "Task",
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to create Jira client: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ Jira client initialized")

	if *issue == "" {
		fmt.Println("\nNo --issue given; nothing else to check.")
		fmt.Println("\n✅ Jira Connection Test PASSED!")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	status, err := client.GetStatus(ctx, *issue)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ ERROR: Failed to read issue %s\n", *issue)
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		fmt.Fprintf(os.Stderr, "Possible causes:\n")
		fmt.Fprintf(os.Stderr, "  1. Invalid or expired API token\n")
		fmt.Fprintf(os.Stderr, "  2. Issue key does not exist or is not visible to this account\n")
		fmt.Fprintf(os.Stderr, "  3. Network connectivity issue\n")
		os.Exit(1)
	}
	fmt.Printf("✓ Issue %s status: %s (%v)\n", *issue, status, time.Since(start))

	transitions, err := client.ListAvailableTransitions(ctx, *issue)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ ERROR: Failed to list transitions: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Available transitions:")
	for i, t := range transitions {
		fmt.Printf("  %d. %s\n", i+1, t)
	}

	comments, err := client.GetComments(ctx, *issue)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ ERROR: Failed to list comments: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Comments: %d\n", len(comments))

	fmt.Println("\n✅ Jira Connection Test PASSED!")
}
