// Package jirax adapts the Jira REST API to the engine's ticketing contract.
package jirax

import (
	"context"
	"fmt"
	"net/http"
	"time"

	jira "github.com/andygrunwald/go-jira"
	"github.com/garyjia/access-approval/internal/application/port"
	"go.uber.org/zap"
)

// Config holds Jira connection and project settings.
type Config struct {
	BaseURL    string
	Email      string
	APIToken   string
	ProjectKey string
	IssueType  string
}

// Client implements port.Ticketer against a Jira instance.
type Client struct {
	jira   *jira.Client
	cfg    Config
	logger *zap.Logger
}

// NewClient creates a Jira client with basic auth.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	transport := jira.BasicAuthTransport{
		Username: cfg.Email,
		Password: cfg.APIToken,
	}

	client, err := jira.NewClient(transport.Client(), cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create jira client: %w", err)
	}

	return &Client{jira: client, cfg: cfg, logger: logger}, nil
}

// CreateIssue creates the tracking ticket and returns its key.
func (c *Client) CreateIssue(ctx context.Context, details port.IssueDetails) (string, error) {
	issue := &jira.Issue{
		Fields: &jira.IssueFields{
			Project:     jira.Project{Key: c.cfg.ProjectKey},
			Type:        jira.IssueType{Name: c.cfg.IssueType},
			Summary:     details.Summary,
			Description: details.Description,
			Labels:      details.Labels,
		},
	}

	created, resp, err := c.jira.Issue.CreateWithContext(ctx, issue)
	if err != nil {
		return "", c.classify("create issue", resp, err)
	}

	c.logger.Info("Jira issue created",
		zap.String("key", created.Key),
		zap.String("project", c.cfg.ProjectKey))
	return created.Key, nil
}

// GetComments returns the issue's comments in creation order.
func (c *Client) GetComments(ctx context.Context, ticketRef string) ([]port.Comment, error) {
	issue, resp, err := c.jira.Issue.GetWithContext(ctx, ticketRef, nil)
	if err != nil {
		return nil, c.classify("get comments", resp, err)
	}

	if issue.Fields == nil || issue.Fields.Comments == nil {
		return nil, nil
	}

	comments := make([]port.Comment, 0, len(issue.Fields.Comments.Comments))
	for _, cm := range issue.Fields.Comments.Comments {
		comments = append(comments, port.Comment{
			Author:    commentAuthor(cm),
			Text:      cm.Body,
			CreatedAt: parseJiraTime(cm.Created),
		})
	}
	return comments, nil
}

// AddComment posts a comment on the issue.
func (c *Client) AddComment(ctx context.Context, ticketRef, body string) error {
	_, resp, err := c.jira.Issue.AddCommentWithContext(ctx, ticketRef, &jira.Comment{Body: body})
	if err != nil {
		return c.classify("add comment", resp, err)
	}
	return nil
}

// GetStatus returns the issue's current status name.
func (c *Client) GetStatus(ctx context.Context, ticketRef string) (string, error) {
	issue, resp, err := c.jira.Issue.GetWithContext(ctx, ticketRef, nil)
	if err != nil {
		return "", c.classify("get status", resp, err)
	}
	if issue.Fields == nil || issue.Fields.Status == nil {
		return "", nil
	}
	return issue.Fields.Status.Name, nil
}

// GetDescription returns the issue's description body.
func (c *Client) GetDescription(ctx context.Context, ticketRef string) (string, error) {
	issue, resp, err := c.jira.Issue.GetWithContext(ctx, ticketRef, nil)
	if err != nil {
		return "", c.classify("get description", resp, err)
	}
	if issue.Fields == nil {
		return "", nil
	}
	return issue.Fields.Description, nil
}

// UpdateDescription replaces the issue's description body.
func (c *Client) UpdateDescription(ctx context.Context, ticketRef, description string) error {
	data := map[string]interface{}{
		"fields": map[string]interface{}{
			"description": description,
		},
	}
	resp, err := c.jira.Issue.UpdateIssueWithContext(ctx, ticketRef, data)
	if err != nil {
		return c.classify("update description", resp, err)
	}
	return nil
}

// ListAvailableTransitions returns the transition names the issue currently offers.
func (c *Client) ListAvailableTransitions(ctx context.Context, ticketRef string) ([]string, error) {
	transitions, resp, err := c.jira.Issue.GetTransitionsWithContext(ctx, ticketRef)
	if err != nil {
		return nil, c.classify("list transitions", resp, err)
	}

	names := make([]string, 0, len(transitions))
	for _, t := range transitions {
		names = append(names, t.Name)
	}
	return names, nil
}

// ApplyTransition moves the issue through the named transition.
func (c *Client) ApplyTransition(ctx context.Context, ticketRef, transitionName string) error {
	transitions, resp, err := c.jira.Issue.GetTransitionsWithContext(ctx, ticketRef)
	if err != nil {
		return c.classify("resolve transition", resp, err)
	}

	for _, t := range transitions {
		if t.Name == transitionName {
			resp, err := c.jira.Issue.DoTransitionWithContext(ctx, ticketRef, t.ID)
			if err != nil {
				return c.classify("apply transition", resp, err)
			}
			return nil
		}
	}
	return fmt.Errorf("transition %q no longer available on %s", transitionName, ticketRef)
}

// classify separates transient transport failures (retried by the dispatcher)
// from permanent API rejections.
func (c *Client) classify(op string, resp *jira.Response, err error) error {
	if resp == nil {
		return port.Transient(op, err)
	}
	switch {
	case resp.StatusCode >= http.StatusInternalServerError,
		resp.StatusCode == http.StatusTooManyRequests:
		return port.Transient(op, err)
	default:
		return fmt.Errorf("jira %s failed with status %d: %w", op, resp.StatusCode, err)
	}
}

func commentAuthor(cm *jira.Comment) string {
	if cm.Author.EmailAddress != "" {
		return cm.Author.EmailAddress
	}
	return cm.Author.DisplayName
}

// jiraTimeFormat is Jira's REST timestamp layout.
const jiraTimeFormat = "2006-01-02T15:04:05.000-0700"

func parseJiraTime(s string) time.Time {
	t, err := time.Parse(jiraTimeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

var _ port.Ticketer = (*Client)(nil)
