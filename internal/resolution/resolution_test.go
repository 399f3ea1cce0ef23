package resolution

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/enerdesk/calls-api/internal/database"
	"github.com/enerdesk/calls-api/internal/locks"
	"github.com/enerdesk/calls-api/internal/types"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func newTestService(t *testing.T) (*Service, *fakeClock, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	clk := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewService(db, locks.NewRegistry(), clk), clk, db
}

func seedCall(t *testing.T, db *gorm.DB, clk *fakeClock, status string) *types.Call {
	t.Helper()
	call := &types.Call{
		CallID:         "CALL_" + uuid.New().String(),
		Type:           types.CallTypeBuy,
		EnergyCategory: types.EnergyConventional,
		Title:          "Base load block",
		Quantity:       1200,
		SupplyStart:    clk.now.AddDate(0, 1, 0),
		SupplyEnd:      clk.now.AddDate(0, 7, 0),
		Deadline:       clk.now.Add(48 * time.Hour),
		Status:         status,
		CreatedBy:      "desk-1",
		CreatedAt:      clk.now,
		UpdatedAt:      clk.now,
	}
	if err := db.Create(call).Error; err != nil {
		t.Fatalf("failed to seed call: %v", err)
	}
	return call
}

func seedProposal(t *testing.T, db *gorm.DB, callID, counterpartyID, status string, receivedAt time.Time) *types.Proposal {
	t.Helper()
	proposal := &types.Proposal{
		ProposalID:     "PROP_" + uuid.New().String(),
		CallID:         callID,
		CounterpartyID: counterpartyID,
		Price:          150,
		Quantity:       1200,
		ReceivedAt:     receivedAt,
		Status:         status,
		CreatedAt:      receivedAt,
		UpdatedAt:      receivedAt,
	}
	if err := db.Create(proposal).Error; err != nil {
		t.Fatalf("failed to seed proposal: %v", err)
	}
	return proposal
}

func getProposal(t *testing.T, db *gorm.DB, proposalID string) *types.Proposal {
	t.Helper()
	var proposal types.Proposal
	if err := db.Where("proposal_id = ?", proposalID).First(&proposal).Error; err != nil {
		t.Fatalf("failed to load proposal %s: %v", proposalID, err)
	}
	return &proposal
}

func getCall(t *testing.T, db *gorm.DB, callID string) *types.Call {
	t.Helper()
	var call types.Call
	if err := db.Where("call_id = ?", callID).First(&call).Error; err != nil {
		t.Fatalf("failed to load call %s: %v", callID, err)
	}
	return &call
}

func TestCloseCallWithWinner(t *testing.T) {
	svc, clk, db := newTestService(t)
	call := seedCall(t, db, clk, types.CallStatusOpen)

	first := seedProposal(t, db, call.CallID, "cp-1", types.ProposalStatusPending, clk.now.Add(time.Minute))
	winner := seedProposal(t, db, call.CallID, "cp-2", types.ProposalStatusPending, clk.now.Add(2*time.Minute))
	third := seedProposal(t, db, call.CallID, "cp-3", types.ProposalStatusPending, clk.now.Add(3*time.Minute))

	closed, err := svc.CloseCall(call.CallID, &CloseCallCommand{WinningProposalID: &winner.ProposalID}, "desk-9")
	if err != nil {
		t.Fatalf("CloseCall failed: %v", err)
	}

	if closed.Status != types.CallStatusClosed {
		t.Errorf("expected status CLOSED, got %s", closed.Status)
	}
	if closed.WinningProposalID == nil || *closed.WinningProposalID != winner.ProposalID {
		t.Errorf("expected winning proposal %s recorded, got %v", winner.ProposalID, closed.WinningProposalID)
	}
	if closed.ClosedBy != "desk-9" || closed.ClosedAt == nil || !closed.ClosedAt.Equal(clk.now) {
		t.Errorf("closer/timestamp not recorded: %+v", closed)
	}

	accepted := getProposal(t, db, winner.ProposalID)
	if accepted.Status != types.ProposalStatusAccepted {
		t.Errorf("expected winner ACCEPTED, got %s", accepted.Status)
	}
	if accepted.RespondedBy != "desk-9" || accepted.RespondedAt == nil {
		t.Errorf("winner response fields not recorded: %+v", accepted)
	}
	if strings.Contains(accepted.Comments, autoRejectComment) {
		t.Error("winner must not carry the rejection comment")
	}

	for _, losing := range []*types.Proposal{first, third} {
		got := getProposal(t, db, losing.ProposalID)
		if got.Status != types.ProposalStatusRejected {
			t.Errorf("expected %s REJECTED, got %s", losing.ProposalID, got.Status)
		}
		if !strings.Contains(got.Comments, autoRejectComment) {
			t.Errorf("expected rejection comment on %s, got %q", losing.ProposalID, got.Comments)
		}
		if got.RespondedBy != "desk-9" || got.RespondedAt == nil {
			t.Errorf("loser response fields not recorded: %+v", got)
		}
	}
}

func TestCloseCallLeavesResolvedProposalsUntouched(t *testing.T) {
	svc, clk, db := newTestService(t)
	call := seedCall(t, db, clk, types.CallStatusOpen)

	winner := seedProposal(t, db, call.CallID, "cp-1", types.ProposalStatusPending, clk.now.Add(time.Minute))

	expired := seedProposal(t, db, call.CallID, "cp-2", types.ProposalStatusExpired, clk.now.Add(2*time.Minute))

	rejected := seedProposal(t, db, call.CallID, "cp-3", types.ProposalStatusRejected, clk.now.Add(3*time.Minute))
	rejected.Comments = "withdrawn by counterparty"
	if err := db.Save(rejected).Error; err != nil {
		t.Fatalf("failed to update seeded proposal: %v", err)
	}

	if _, err := svc.CloseCall(call.CallID, &CloseCallCommand{WinningProposalID: &winner.ProposalID}, "desk-1"); err != nil {
		t.Fatalf("CloseCall failed: %v", err)
	}

	got := getProposal(t, db, expired.ProposalID)
	if got.Status != types.ProposalStatusExpired {
		t.Errorf("expired proposal must stay EXPIRED, got %s", got.Status)
	}
	if strings.Contains(got.Comments, autoRejectComment) {
		t.Error("expired proposal must not receive the rejection comment")
	}

	got = getProposal(t, db, rejected.ProposalID)
	if got.Status != types.ProposalStatusRejected {
		t.Errorf("rejected proposal must stay REJECTED, got %s", got.Status)
	}
	if got.Comments != "withdrawn by counterparty" {
		t.Errorf("existing comments must be preserved untouched, got %q", got.Comments)
	}
}

func TestCloseCallWithoutWinner(t *testing.T) {
	svc, clk, db := newTestService(t)
	call := seedCall(t, db, clk, types.CallStatusOpen)

	pending := seedProposal(t, db, call.CallID, "cp-1", types.ProposalStatusPending, clk.now.Add(time.Minute))

	closed, err := svc.CloseCall(call.CallID, &CloseCallCommand{}, "desk-1")
	if err != nil {
		t.Fatalf("CloseCall failed: %v", err)
	}

	if closed.Status != types.CallStatusClosed {
		t.Errorf("expected status CLOSED, got %s", closed.Status)
	}
	if closed.WinningProposalID != nil {
		t.Errorf("expected no winning proposal, got %v", *closed.WinningProposalID)
	}

	// Closing without a winner leaves every proposal exactly as it stands.
	got := getProposal(t, db, pending.ProposalID)
	if got.Status != types.ProposalStatusPending {
		t.Errorf("expected proposal left PENDING, got %s", got.Status)
	}
	if got.Comments != "" {
		t.Errorf("expected no comment appended, got %q", got.Comments)
	}
}

func TestCloseCallUnknownWinner(t *testing.T) {
	svc, clk, db := newTestService(t)
	call := seedCall(t, db, clk, types.CallStatusOpen)

	pending := seedProposal(t, db, call.CallID, "cp-1", types.ProposalStatusPending, clk.now.Add(time.Minute))

	bogus := "PROP_" + uuid.New().String()
	if _, err := svc.CloseCall(call.CallID, &CloseCallCommand{WinningProposalID: &bogus}, "desk-1"); !errors.Is(err, types.ErrUnknownProposal) {
		t.Fatalf("expected ErrUnknownProposal, got %v", err)
	}

	// Nothing may have changed: call still open, proposal still pending.
	if got := getCall(t, db, call.CallID); got.Status != types.CallStatusOpen {
		t.Errorf("call must remain OPEN after failed close, got %s", got.Status)
	}
	if got := getProposal(t, db, pending.ProposalID); got.Status != types.ProposalStatusPending {
		t.Errorf("proposal must remain PENDING after failed close, got %s", got.Status)
	}
}

func TestCloseCallWinnerFromAnotherCall(t *testing.T) {
	svc, clk, db := newTestService(t)
	call := seedCall(t, db, clk, types.CallStatusOpen)
	other := seedCall(t, db, clk, types.CallStatusOpen)

	foreign := seedProposal(t, db, other.CallID, "cp-1", types.ProposalStatusPending, clk.now.Add(time.Minute))

	// A proposal id that exists but belongs to a different call is unknown
	// from this call's point of view.
	if _, err := svc.CloseCall(call.CallID, &CloseCallCommand{WinningProposalID: &foreign.ProposalID}, "desk-1"); !errors.Is(err, types.ErrUnknownProposal) {
		t.Errorf("expected ErrUnknownProposal, got %v", err)
	}
}

func TestCloseCallNonPendingWinner(t *testing.T) {
	for _, status := range []string{types.ProposalStatusRejected, types.ProposalStatusExpired} {
		t.Run(status, func(t *testing.T) {
			svc, clk, db := newTestService(t)
			call := seedCall(t, db, clk, types.CallStatusOpen)

			dead := seedProposal(t, db, call.CallID, "cp-1", status, clk.now.Add(time.Minute))
			pending := seedProposal(t, db, call.CallID, "cp-2", types.ProposalStatusPending, clk.now.Add(2*time.Minute))

			if _, err := svc.CloseCall(call.CallID, &CloseCallCommand{WinningProposalID: &dead.ProposalID}, "desk-1"); !errors.Is(err, types.ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition selecting a %s winner, got %v", status, err)
			}

			if got := getCall(t, db, call.CallID); got.Status != types.CallStatusOpen {
				t.Errorf("call must remain OPEN after failed close, got %s", got.Status)
			}
			if got := getProposal(t, db, pending.ProposalID); got.Status != types.ProposalStatusPending {
				t.Errorf("other proposals must remain PENDING after failed close, got %s", got.Status)
			}
		})
	}
}

func TestCloseCallFromNonOpenStatuses(t *testing.T) {
	statuses := []string{
		types.CallStatusDraft,
		types.CallStatusClosed,
		types.CallStatusCanceled,
		types.CallStatusCompleted,
	}

	for _, status := range statuses {
		t.Run(status, func(t *testing.T) {
			svc, clk, db := newTestService(t)
			call := seedCall(t, db, clk, status)

			if _, err := svc.CloseCall(call.CallID, &CloseCallCommand{}, "desk-1"); !errors.Is(err, types.ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition closing %s call, got %v", status, err)
			}
		})
	}
}

func TestCloseCallTwice(t *testing.T) {
	svc, clk, db := newTestService(t)
	call := seedCall(t, db, clk, types.CallStatusOpen)
	winner := seedProposal(t, db, call.CallID, "cp-1", types.ProposalStatusPending, clk.now.Add(time.Minute))

	if _, err := svc.CloseCall(call.CallID, &CloseCallCommand{WinningProposalID: &winner.ProposalID}, "desk-1"); err != nil {
		t.Fatalf("first CloseCall failed: %v", err)
	}
	if _, err := svc.CloseCall(call.CallID, &CloseCallCommand{WinningProposalID: &winner.ProposalID}, "desk-1"); !errors.Is(err, types.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on second close, got %v", err)
	}
}

func TestCloseCallUnknownCall(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := svc.CloseCall("CALL_missing", &CloseCallCommand{}, "desk-1"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
