package consistency

import (
	"errors"
	"testing"
	"time"

	"demoforge/internal/domain"
)

func strPtr(s string) *string   { return &s }
func f64Ptr(f float64) *float64 { return &f }

func TestUpsertSubjectLastWriteWins(t *testing.T) {
	store := NewStore("s-1")
	store.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	first, err := store.UpsertSubject(domain.SubjectUpdate{
		Name:        "Avery",
		Description: strPtr("red jacket, short black hair"),
		Confidence:  f64Ptr(0.9),
	})
	if err != nil {
		t.Fatalf("UpsertSubject: %v", err)
	}
	if first.ID == "" {
		t.Fatalf("expected assigned id")
	}

	// Case-insensitive name match, partial update.
	second, err := store.UpsertSubject(domain.SubjectUpdate{
		Name:        "avery",
		Description: strPtr("blue coat"),
	})
	if err != nil {
		t.Fatalf("UpsertSubject: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("id changed across upserts: %q vs %q", second.ID, first.ID)
	}
	if second.Description != "blue coat" {
		t.Fatalf("Description = %q, want last write", second.Description)
	}
	if second.Confidence != 0.9 {
		t.Fatalf("Confidence = %v, fields absent from the update must survive", second.Confidence)
	}

	state := store.Snapshot()
	if len(state.Subjects) != 1 {
		t.Fatalf("Subjects = %d, want 1", len(state.Subjects))
	}
	if state.Version != 2 {
		t.Fatalf("Version = %d, want 2", state.Version)
	}
}

func TestUpsertSubjectDistinctNamesStaySeparate(t *testing.T) {
	store := NewStore("s-2")

	if _, err := store.UpsertSubject(domain.SubjectUpdate{Name: "Avery"}); err != nil {
		t.Fatalf("UpsertSubject: %v", err)
	}
	if _, err := store.UpsertSubject(domain.SubjectUpdate{Name: "Avery Jr"}); err != nil {
		t.Fatalf("UpsertSubject: %v", err)
	}

	state := store.Snapshot()
	if len(state.Subjects) != 2 {
		t.Fatalf("Subjects = %d, want two separate sheets", len(state.Subjects))
	}
}

func TestSetEnvironmentOverwritesKeepingID(t *testing.T) {
	store := NewStore("s-3")

	env := store.SetEnvironment("rooftop at dusk")
	again := store.SetEnvironment("neon alley at night")

	if again.ID != env.ID {
		t.Fatalf("environment id changed on overwrite")
	}
	if again.Description != "neon alley at night" {
		t.Fatalf("Description = %q, want full overwrite", again.Description)
	}
}

func TestSetReferenceURL(t *testing.T) {
	store := NewStore("s-4")
	sheet, err := store.UpsertSubject(domain.SubjectUpdate{Name: "Avery"})
	if err != nil {
		t.Fatalf("UpsertSubject: %v", err)
	}

	if err := store.SetReferenceURL("nope", "https://cdn.example.com/ref.png"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown subject: err = %v, want ErrNotFound", err)
	}
	if err := store.SetReferenceURL(sheet.ID, ""); err == nil {
		t.Fatalf("empty url must be rejected")
	}
	if err := store.SetReferenceURL(sheet.ID, "https://cdn.example.com/ref.png"); err != nil {
		t.Fatalf("SetReferenceURL: %v", err)
	}

	got, err := store.Subject(sheet.ID)
	if err != nil {
		t.Fatalf("Subject: %v", err)
	}
	if got.ReferenceImageURL != "https://cdn.example.com/ref.png" {
		t.Fatalf("ReferenceImageURL = %q", got.ReferenceImageURL)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	store := NewStore("s-5")
	if _, err := store.UpsertSubject(domain.SubjectUpdate{Name: "Avery", Description: strPtr("red jacket")}); err != nil {
		t.Fatalf("UpsertSubject: %v", err)
	}

	snap := store.Snapshot()
	snap.Subjects[0].Description = "mutated"

	if store.Snapshot().Subjects[0].Description != "red jacket" {
		t.Fatalf("snapshot mutation leaked into the store")
	}
}

func TestApplyRoutesTaggedUpdates(t *testing.T) {
	store := NewStore("s-6")

	if err := store.Apply(domain.Update{Subject: &domain.SubjectUpdate{Name: "Avery"}}); err != nil {
		t.Fatalf("Apply subject: %v", err)
	}
	if err := store.Apply(domain.Update{Style: &domain.StyleUpdate{Description: "film noir"}}); err != nil {
		t.Fatalf("Apply style: %v", err)
	}
	if err := store.Apply(domain.Update{}); err == nil {
		t.Fatalf("empty update must fail validation")
	}

	state := store.Snapshot()
	if state.Style == nil || state.Style.Description != "film noir" {
		t.Fatalf("style not applied: %+v", state.Style)
	}
}
