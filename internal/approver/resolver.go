// Package approver resolves the required approver set for a request from a
// hierarchy file: a managers map (manager -> direct reports) plus a fallback
// approver list for unmapped requesters. Resolution is deterministic, so a
// resumed workflow always recomputes the same set.
package approver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/garyjia/access-approval/internal/application/port"
	"github.com/garyjia/access-approval/internal/domain/entity"
	"go.uber.org/zap"
)

// Hierarchy mirrors the approval_hierarchy.json structure.
type Hierarchy struct {
	Managers          map[string][]string `json:"managers"`
	FallbackApprovers []string            `json:"fallback_approvers"`
}

// Resolver implements port.ApproverResolver from a static hierarchy.
type Resolver struct {
	hierarchy Hierarchy
	logger    *zap.Logger
}

// Load reads the hierarchy file and builds a resolver.
func Load(path string, logger *zap.Logger) (*Resolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read approval hierarchy: %w", err)
	}

	var h Hierarchy
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("failed to parse approval hierarchy: %w", err)
	}

	logger.Info("Loaded approval hierarchy",
		zap.String("path", path),
		zap.Int("managers", len(h.Managers)),
		zap.Int("fallback_approvers", len(h.FallbackApprovers)))
	return &Resolver{hierarchy: h, logger: logger}, nil
}

// NewStatic builds a resolver from an in-memory hierarchy. Used in tests.
func NewStatic(h Hierarchy, logger *zap.Logger) *Resolver {
	return &Resolver{hierarchy: h, logger: logger}
}

// Resolve returns the managers responsible for the requester, sorted for
// determinism, or the fallback approvers when no manager maps the requester.
func (r *Resolver) Resolve(ctx context.Context, request entity.RequestDetails) ([]string, error) {
	requester := strings.ToLower(strings.TrimSpace(request.RequesterEmail))
	if requester == "" {
		return nil, fmt.Errorf("request has no requester email")
	}

	var managers []string
	for manager, reports := range r.hierarchy.Managers {
		for _, report := range reports {
			if strings.ToLower(report) == requester {
				managers = append(managers, manager)
				break
			}
		}
	}
	sort.Strings(managers)

	if len(managers) > 0 {
		return managers, nil
	}

	if len(r.hierarchy.FallbackApprovers) == 0 {
		return nil, fmt.Errorf("no approvers mapped for %s and no fallback approvers configured", requester)
	}
	r.logger.Debug("Using fallback approvers",
		zap.String("requester", requester))
	return append([]string(nil), r.hierarchy.FallbackApprovers...), nil
}

var _ port.ApproverResolver = (*Resolver)(nil)
