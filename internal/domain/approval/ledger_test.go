package approval

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/garyjia/access-approval/internal/domain/entity"
	"go.uber.org/zap"
)

func newInstance(approvers ...string) *entity.WorkflowInstance {
	inst := entity.NewWorkflowInstance("slack-C1#123.456", entity.RequestDetails{
		RequesterEmail:  "dev@example.com",
		AccessRequested: "prod-db",
	})
	inst.SetRequiredApprovers(approvers)
	return inst
}

func TestLedger_RecordIdempotent(t *testing.T) {
	ledger := NewLedger(Unanimous, zap.NewNop())
	inst := newInstance("alice@example.com", "bob@example.com")

	if !ledger.Record(inst, "alice@example.com", "evt-1") {
		t.Fatal("first Record() should change the ledger")
	}
	inst.AppendHistory("evt-1", "webhook", "alice approved")

	// Same approver via a different event: no change
	if ledger.Record(inst, "alice@example.com", "evt-2") {
		t.Error("repeat approval should not change the ledger")
	}

	// Replayed event ID: no change
	if ledger.Record(inst, "bob@example.com", "evt-1") {
		t.Error("replayed event ID should not change the ledger")
	}

	if len(inst.ApprovalLedger) != 1 {
		t.Errorf("ledger size = %d, want 1", len(inst.ApprovalLedger))
	}
}

func TestLedger_UnsolicitedApprover(t *testing.T) {
	ledger := NewLedger(Unanimous, zap.NewNop())
	inst := newInstance("alice@example.com")

	if ledger.Record(inst, "mallory@example.com", "evt-1") {
		t.Error("unsolicited approver must not be counted")
	}
	if len(inst.ApprovalLedger) != 0 {
		t.Errorf("ledger size = %d, want 0", len(inst.ApprovalLedger))
	}
	if ledger.QuorumMet(inst) {
		t.Error("quorum must not be met by unsolicited approvals")
	}
}

func TestLedger_QuorumUnanimous(t *testing.T) {
	ledger := NewLedger(Unanimous, zap.NewNop())
	inst := newInstance("alice@example.com", "bob@example.com")

	ledger.Record(inst, "alice@example.com", "evt-1")
	if ledger.QuorumMet(inst) {
		t.Error("quorum met with one of two approvals")
	}

	ledger.Record(inst, "bob@example.com", "evt-2")
	if !ledger.QuorumMet(inst) {
		t.Error("quorum not met with all approvals recorded")
	}

	pending := ledger.Pending(inst)
	if len(pending) != 0 {
		t.Errorf("Pending() = %v, want empty", pending)
	}
}

func TestLedger_QuorumAnyN(t *testing.T) {
	ledger := NewLedger(AnyN(2), zap.NewNop())
	inst := newInstance("a@x.com", "b@x.com", "c@x.com")

	ledger.Record(inst, "a@x.com", "evt-1")
	if ledger.QuorumMet(inst) {
		t.Error("AnyN(2) met with one approval")
	}
	ledger.Record(inst, "c@x.com", "evt-2")
	if !ledger.QuorumMet(inst) {
		t.Error("AnyN(2) not met with two approvals")
	}
}

// Arbitrary ordering and duplication of approval events must never change the
// final ledger: it always equals the set of distinct solicited approvers that
// signaled approval.
func TestLedger_OrderAndDuplicationInvariant(t *testing.T) {
	approvers := []string{"a@x.com", "b@x.com", "c@x.com"}
	signals := make([][2]string, 0)
	for i, a := range approvers {
		signals = append(signals, [2]string{a, fmt.Sprintf("evt-%d", i)})
	}
	// Noise: duplicates and an unsolicited identity
	signals = append(signals, signals[0], signals[1])
	signals = append(signals, [2]string{"mallory@x.com", "evt-x"})

	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 20; run++ {
		rng.Shuffle(len(signals), func(i, j int) { signals[i], signals[j] = signals[j], signals[i] })

		ledger := NewLedger(Unanimous, zap.NewNop())
		inst := newInstance(approvers...)
		for _, s := range signals {
			if ledger.Record(inst, s[0], s[1]) {
				inst.AppendHistory(s[1], "webhook", s[0]+" approved")
			}
		}

		if len(inst.ApprovalLedger) != len(approvers) {
			t.Fatalf("run %d: ledger size = %d, want %d", run, len(inst.ApprovalLedger), len(approvers))
		}
		if !ledger.QuorumMet(inst) {
			t.Fatalf("run %d: quorum not met", run)
		}
	}
}

func TestContainsApproved(t *testing.T) {
	tests := []struct {
		text     string
		expected bool
	}{
		{"Approved", true},
		{"approved!!", true},
		{"LGTM, APPROVED by me", true},
		{"looks good", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := ContainsApproved(tt.text); got != tt.expected {
			t.Errorf("ContainsApproved(%q) = %v, want %v", tt.text, got, tt.expected)
		}
	}
}
