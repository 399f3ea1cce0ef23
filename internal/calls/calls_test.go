package calls

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

func validCreateCommand(clk *fakeClock) *CreateCallCommand {
	return &CreateCallCommand{
		Type:           types.CallTypeBuy,
		EnergyCategory: types.EnergyConventional,
		Title:          "Q3 base load",
		Description:    "Quarterly base load procurement",
		Quantity:       1000,
		SupplyStart:    clk.now.AddDate(0, 1, 0),
		SupplyEnd:      clk.now.AddDate(0, 7, 0),
		Deadline:       clk.now.Add(7 * 24 * time.Hour),
	}
}

func TestCreateCall(t *testing.T) {
	svc, clk, _ := newTestService(t)

	call, err := svc.CreateCall(validCreateCommand(clk), "desk-1")
	if err != nil {
		t.Fatalf("CreateCall failed: %v", err)
	}

	if call.Status != types.CallStatusDraft {
		t.Errorf("expected status DRAFT, got %s", call.Status)
	}
	if call.CreatedBy != "desk-1" {
		t.Errorf("expected creator desk-1, got %s", call.CreatedBy)
	}
	if !strings.HasPrefix(call.CallID, "CALL_") {
		t.Errorf("unexpected call id %s", call.CallID)
	}
}

func TestCreateCommandValidation(t *testing.T) {
	clk := &fakeClock{now: time.Now()}

	tests := []struct {
		name   string
		mutate func(*CreateCallCommand)
	}{
		{"missing type", func(c *CreateCallCommand) { c.Type = "" }},
		{"bad type", func(c *CreateCallCommand) { c.Type = "SWAP" }},
		{"bad category", func(c *CreateCallCommand) { c.EnergyCategory = "NUCLEAR" }},
		{"zero quantity", func(c *CreateCallCommand) { c.Quantity = 0 }},
		{"negative quantity", func(c *CreateCallCommand) { c.Quantity = -5 }},
		{"supply end before start", func(c *CreateCallCommand) { c.SupplyEnd = c.SupplyStart.Add(-time.Hour) }},
		{"missing title", func(c *CreateCallCommand) { c.Title = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := validCreateCommand(clk)
			tt.mutate(cmd)
			if err := cmd.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestPublishCall(t *testing.T) {
	svc, clk, _ := newTestService(t)

	call, err := svc.CreateCall(validCreateCommand(clk), "desk-1")
	if err != nil {
		t.Fatalf("CreateCall failed: %v", err)
	}

	published, err := svc.PublishCall(call.CallID, "desk-1")
	if err != nil {
		t.Fatalf("PublishCall failed: %v", err)
	}
	if published.Status != types.CallStatusOpen {
		t.Errorf("expected status OPEN, got %s", published.Status)
	}

	// Publishing twice fails deterministically instead of silently succeeding.
	if _, err := svc.PublishCall(call.CallID, "desk-1"); !errors.Is(err, types.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on second publish, got %v", err)
	}
}

func TestPublishFromNonDraftStatuses(t *testing.T) {
	statuses := []string{
		types.CallStatusClosed,
		types.CallStatusCanceled,
		types.CallStatusCompleted,
	}

	for _, status := range statuses {
		t.Run(status, func(t *testing.T) {
			svc, clk, db := newTestService(t)

			call := &types.Call{
				CallID:      "CALL_" + uuid.New().String(),
				Type:        types.CallTypeSell,
				Status:      status,
				Quantity:    500,
				SupplyStart: clk.now,
				SupplyEnd:   clk.now.AddDate(0, 6, 0),
				Deadline:    clk.now.Add(time.Hour),
			}
			if err := db.Create(call).Error; err != nil {
				t.Fatalf("failed to seed call: %v", err)
			}

			if _, err := svc.PublishCall(call.CallID, "desk-1"); !errors.Is(err, types.ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition publishing from %s, got %v", status, err)
			}
		})
	}
}

func TestPublishUnknownCall(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := svc.PublishCall("CALL_missing", "desk-1"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCancelCall(t *testing.T) {
	svc, clk, _ := newTestService(t)

	call, _ := svc.CreateCall(validCreateCommand(clk), "desk-1")
	if _, err := svc.PublishCall(call.CallID, "desk-1"); err != nil {
		t.Fatalf("PublishCall failed: %v", err)
	}

	canceled, err := svc.CancelCall(call.CallID, &CancelCallCommand{Reason: "demand revised"}, "desk-2")
	if err != nil {
		t.Fatalf("CancelCall failed: %v", err)
	}

	if canceled.Status != types.CallStatusCanceled {
		t.Errorf("expected status CANCELED, got %s", canceled.Status)
	}
	if canceled.ClosedAt == nil || !canceled.ClosedAt.Equal(clk.now) {
		t.Errorf("expected closedAt %v, got %v", clk.now, canceled.ClosedAt)
	}
	if canceled.ClosedBy != "desk-2" {
		t.Errorf("expected closer desk-2, got %s", canceled.ClosedBy)
	}
	if canceled.WinningProposalID != nil {
		t.Error("canceled call must not carry a winning proposal")
	}
	if !strings.Contains(canceled.Notes, "demand revised") {
		t.Errorf("expected cancel reason in notes, got %q", canceled.Notes)
	}

	// A canceled call is terminal: publish, cancel and edit all fail.
	if _, err := svc.PublishCall(call.CallID, "desk-1"); !errors.Is(err, types.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on publish after cancel, got %v", err)
	}
	if _, err := svc.CancelCall(call.CallID, &CancelCallCommand{Reason: "again"}, "desk-1"); !errors.Is(err, types.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on second cancel, got %v", err)
	}
	title := "new title"
	if _, err := svc.EditCall(call.CallID, &EditCallCommand{Title: &title}, "desk-1"); !errors.Is(err, types.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on edit after cancel, got %v", err)
	}
}

func TestCancelDraftCall(t *testing.T) {
	svc, clk, _ := newTestService(t)

	call, _ := svc.CreateCall(validCreateCommand(clk), "desk-1")

	canceled, err := svc.CancelCall(call.CallID, &CancelCallCommand{Reason: "never published"}, "desk-1")
	if err != nil {
		t.Fatalf("CancelCall on draft failed: %v", err)
	}
	if canceled.Status != types.CallStatusCanceled {
		t.Errorf("expected status CANCELED, got %s", canceled.Status)
	}
}

func TestEditCall(t *testing.T) {
	svc, clk, _ := newTestService(t)

	call, _ := svc.CreateCall(validCreateCommand(clk), "desk-1")

	title := "Revised title"
	quantity := 1500.0
	extraordinary := true
	edited, err := svc.EditCall(call.CallID, &EditCallCommand{
		Title:         &title,
		Quantity:      &quantity,
		Extraordinary: &extraordinary,
	}, "desk-1")
	if err != nil {
		t.Fatalf("EditCall failed: %v", err)
	}

	if edited.Title != title || edited.Quantity != quantity || !edited.Extraordinary {
		t.Errorf("edit not applied: %+v", edited)
	}
	if edited.Status != types.CallStatusDraft {
		t.Errorf("edit must not change status, got %s", edited.Status)
	}

	// Editing stays legal while the call is open.
	if _, err := svc.PublishCall(call.CallID, "desk-1"); err != nil {
		t.Fatalf("PublishCall failed: %v", err)
	}
	desc := "still editable"
	edited, err = svc.EditCall(call.CallID, &EditCallCommand{Description: &desc}, "desk-1")
	if err != nil {
		t.Fatalf("EditCall on open call failed: %v", err)
	}
	if edited.Status != types.CallStatusOpen {
		t.Errorf("edit must not change status, got %s", edited.Status)
	}
}

func TestEditCallRejectsInvertedSupplyWindow(t *testing.T) {
	svc, clk, _ := newTestService(t)

	call, _ := svc.CreateCall(validCreateCommand(clk), "desk-1")

	badEnd := clk.now.AddDate(0, 1, 0).Add(-time.Hour)
	if _, err := svc.EditCall(call.CallID, &EditCallCommand{SupplyEnd: &badEnd}, "desk-1"); !errors.Is(err, types.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for inverted supply window, got %v", err)
	}
}

func TestListCalls(t *testing.T) {
	svc, clk, _ := newTestService(t)

	first, _ := svc.CreateCall(validCreateCommand(clk), "desk-1")
	second, _ := svc.CreateCall(validCreateCommand(clk), "desk-1")
	if _, err := svc.PublishCall(second.CallID, "desk-1"); err != nil {
		t.Fatalf("PublishCall failed: %v", err)
	}

	all, err := svc.ListCalls("")
	if err != nil {
		t.Fatalf("ListCalls failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(all))
	}

	drafts, err := svc.ListCalls(types.CallStatusDraft)
	if err != nil {
		t.Fatalf("ListCalls by status failed: %v", err)
	}
	if len(drafts) != 1 || drafts[0].CallID != first.CallID {
		t.Errorf("expected only the draft call, got %+v", drafts)
	}
}
