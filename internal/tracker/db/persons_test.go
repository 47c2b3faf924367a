package db

import (
	"context"
	"errors"
	"testing"

	"github.com/miniclick/calltrack/internal/tracker/schema"
)

func TestFindPersonRobust(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.UpsertPersons(ctx, []*schema.PersonRecord{{PhoneNumber: "+15551234567"}}); err != nil {
		t.Fatalf("UpsertPersons() failed: %v", err)
	}

	for _, lookup := range []string{"+15551234567", "15551234567", "5551234567", "+1 (555) 123-4567"} {
		p, err := db.FindPersonRobust(ctx, lookup)
		if err != nil {
			t.Errorf("FindPersonRobust(%q) failed: %v", lookup, err)
			continue
		}
		if p.PhoneNumber != "+15551234567" {
			t.Errorf("FindPersonRobust(%q) = %q", lookup, p.PhoneNumber)
		}
	}

	if _, err := db.FindPersonRobust(ctx, "+15551234568"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := db.FindPersonRobust(ctx, "4567"); !errors.Is(err, ErrNotFound) {
		t.Errorf("short numbers must not suffix-match, got %v", err)
	}
}

func TestUpsertPersons_Update(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	p := &schema.PersonRecord{PhoneNumber: "111", TotalCalls: 1, TotalIncoming: 1, ContactName: "Ana"}
	if err := db.UpsertPersons(ctx, []*schema.PersonRecord{p}); err != nil {
		t.Fatalf("UpsertPersons() failed: %v", err)
	}
	created := p.CreatedAt

	p.TotalCalls = 2
	p.TotalOutgoing = 1
	if err := db.UpsertPersons(ctx, []*schema.PersonRecord{p}); err != nil {
		t.Fatalf("UpsertPersons() failed: %v", err)
	}

	got, err := db.GetPerson(ctx, "111")
	if err != nil {
		t.Fatalf("GetPerson() failed: %v", err)
	}
	if got.TotalCalls != 2 || got.TotalOutgoing != 1 || got.ContactName != "Ana" {
		t.Errorf("unexpected person: %+v", got)
	}
	if got.CreatedAt.UnixMilli() != created.UnixMilli() {
		t.Errorf("created_at changed on update")
	}
}

func TestPersonEdits_SetNeedsSync(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.UpsertPersons(ctx, []*schema.PersonRecord{{PhoneNumber: "+15551234567"}}); err != nil {
		t.Fatalf("UpsertPersons() failed: %v", err)
	}
	if err := db.UpdatePersonNote(ctx, "5551234567", "call back"); err != nil {
		t.Fatalf("UpdatePersonNote() failed: %v", err)
	}
	if err := db.UpdatePersonLabel(ctx, "+15551234567", "lead"); err != nil {
		t.Fatalf("UpdatePersonLabel() failed: %v", err)
	}
	if err := db.UpdatePersonExclusion(ctx, "+15551234567", schema.ListOnlyExcluded); err != nil {
		t.Fatalf("UpdatePersonExclusion() failed: %v", err)
	}

	pending, err := db.ListPersons(ctx, PersonFilter{IncludeHidden: true, NeedsSync: true})
	if err != nil {
		t.Fatalf("ListPersons() failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending person, got %d", len(pending))
	}
	p := pending[0]
	if p.PersonNote != "call back" || p.Label != "lead" || p.Exclusion != schema.ListOnlyExcluded {
		t.Errorf("unexpected person: %+v", p)
	}

	visible, err := db.ListPersons(ctx, PersonFilter{})
	if err != nil {
		t.Fatalf("ListPersons() failed: %v", err)
	}
	if len(visible) != 0 {
		t.Errorf("list-excluded person should be hidden, got %d", len(visible))
	}

	if err := db.MarkPersonsSynced(ctx, []string{"+15551234567"}, 500); err != nil {
		t.Fatalf("MarkPersonsSynced() failed: %v", err)
	}
	got, _ := db.GetPerson(ctx, "+15551234567")
	if got.NeedsSync {
		t.Error("needs_sync should be cleared")
	}
	if got.ServerUpdatedAt == nil || *got.ServerUpdatedAt != 500 {
		t.Errorf("server_updated_at = %v", got.ServerUpdatedAt)
	}

	if err := db.UpdatePersonNote(ctx, "999", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyRemote_NewerWins(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	c := newCall("1", "111", schema.CallIncoming, 1000, 30)
	if _, err := db.InsertCalls(ctx, []*schema.CallRecord{c}); err != nil {
		t.Fatalf("InsertCalls() failed: %v", err)
	}
	if err := db.UpsertPersons(ctx, []*schema.PersonRecord{{PhoneNumber: "111"}}); err != nil {
		t.Fatalf("UpsertPersons() failed: %v", err)
	}

	note := "from server"
	reviewed := true
	label := "vip"
	out, err := db.ApplyRemote(ctx,
		[]CallPatch{{CompositeID: c.CompositeID, ServerUpdatedAt: 200, Note: &note, Reviewed: &reviewed}},
		[]PersonPatch{
			{Number: "111", ServerUpdatedAt: 200, Label: &label},
			{Number: "222", Create: true, ServerUpdatedAt: 200, Note: &note},
		})
	if err != nil {
		t.Fatalf("ApplyRemote() failed: %v", err)
	}
	if out.CallsApplied != 1 || out.PersonsApplied != 1 || out.PersonsCreated != 1 {
		t.Errorf("unexpected outcome: %+v", out)
	}

	older := "stale"
	out, err = db.ApplyRemote(ctx,
		[]CallPatch{{CompositeID: c.CompositeID, ServerUpdatedAt: 100, Note: &older}},
		[]PersonPatch{{Number: "111", ServerUpdatedAt: 200, Label: &older}})
	if err != nil {
		t.Fatalf("ApplyRemote() failed: %v", err)
	}
	if out.CallsStale != 1 || out.PersonsStale != 1 {
		t.Errorf("older and equal timestamps should be stale: %+v", out)
	}

	got, _ := db.GetCall(ctx, c.CompositeID)
	if got.Note != "from server" || !got.Reviewed || !got.MetadataReceived {
		t.Errorf("unexpected call after remote apply: %+v", got)
	}
	if got.MetadataSyncStatus != schema.MetadataPending {
		t.Errorf("remote apply must not touch metadata status, got %s", got.MetadataSyncStatus)
	}
	p, _ := db.GetPerson(ctx, "111")
	if p.Label != "vip" {
		t.Errorf("label = %q", p.Label)
	}
	created, err := db.GetPerson(ctx, "222")
	if err != nil {
		t.Fatalf("created person missing: %v", err)
	}
	if created.PersonNote != "from server" || created.NeedsSync {
		t.Errorf("unexpected created person: %+v", created)
	}
}
