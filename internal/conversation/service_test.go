package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"liveconnect/internal/apperr"
	"liveconnect/internal/events"
)

func TestService_FindOrCreateDirectIsOrderIndependent(t *testing.T) {
	svc := NewService(NewMemoryRepo(), nil, nil)
	ctx := context.Background()

	a, err := svc.FindOrCreateDirect(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b, err := svc.FindOrCreateDirect(ctx, "u2", "u1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if a.ID != b.ID {
		t.Fatalf("expected same conversation, got %s and %s", a.ID, b.ID)
	}
	if other, ok := a.Other("u2"); !ok || other != "u1" {
		t.Fatalf("unexpected counterpart %q", other)
	}
}

func TestMemoryRepo_FindOrCreateDirectReturnsDetachedCopies(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	created, err := repo.FindOrCreateDirect(ctx, "u1", "u2", now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	created.ParticipantIDs[0] = "mallory"

	found, _ := repo.FindOrCreateDirect(ctx, "u2", "u1", now)
	found.ParticipantIDs[1] = "mallory"

	stored, err := repo.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.ParticipantIDs[0] != "u1" || stored.ParticipantIDs[1] != "u2" {
		t.Fatalf("stored participants mutated through a returned value: %v", stored.ParticipantIDs)
	}
}

func TestService_FindOrCreateDirectRejectsSelf(t *testing.T) {
	svc := NewService(NewMemoryRepo(), nil, nil)
	_, err := svc.FindOrCreateDirect(context.Background(), "u1", "u1")
	if !errors.Is(err, apperr.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestService_GetMissingIsNotFound(t *testing.T) {
	svc := NewService(NewMemoryRepo(), nil, nil)
	if _, err := svc.Get(context.Background(), "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestService_AppendNoticeAnnouncesToBothParticipants(t *testing.T) {
	repo := NewMemoryRepo()
	rec := &events.Recorder{}
	svc := NewService(repo, rec, nil)
	svc.clock = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }

	conv := Conversation{ID: "conv1", Kind: KindDirect, ParticipantIDs: []string{"u1", "u2"}}
	repo.Put(conv)

	n, err := svc.AppendNotice(context.Background(), conv, NoticeCall, "c1", CallEndedText(192*time.Second))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if n.Text != "Call ended · 3m 12s" {
		t.Fatalf("unexpected text %q", n.Text)
	}
	if len(repo.Notices()) != 1 {
		t.Fatalf("expected notice stored")
	}

	got := rec.OfType(events.TypeNewMessage)
	if len(got) != 2 {
		t.Fatalf("expected 2 NEW_MESSAGE events, got %d", len(got))
	}
	if got[0].Topic != "user:u1" || got[1].Topic != "user:u2" {
		t.Fatalf("unexpected topics %s %s", got[0].Topic, got[1].Topic)
	}
}

func TestService_AppendNoticeSurvivesPublishFailure(t *testing.T) {
	rec := &events.Recorder{Err: errors.New("bus down")}
	svc := NewService(NewMemoryRepo(), rec, nil)
	conv := Conversation{ID: "conv1", Kind: KindDirect, ParticipantIDs: []string{"u1", "u2"}}

	if _, err := svc.AppendNotice(context.Background(), conv, NoticeCall, "c1", MissedCallText("video")); err != nil {
		t.Fatalf("publish failure must not fail the notice: %v", err)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[time.Duration]string{
		0:                         "0s",
		42 * time.Second:          "42s",
		192 * time.Second:         "3m 12s",
		time.Hour + 5*time.Minute: "1h 5m",
	}
	for d, want := range cases {
		if got := FormatDuration(d); got != want {
			t.Fatalf("FormatDuration(%s) = %q, want %q", d, got, want)
		}
	}
}
