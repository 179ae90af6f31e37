package memory

import (
	"context"
	"testing"
	"time"

	"spacecast/internal/core/domain"
)

func testRoom(name domain.RoomName) *domain.Room {
	return &domain.Room{
		Name:       name,
		SID:        "RM_test",
		HostWallet: "0x1234567890abcdef1234567890abcdef12345678",
		Title:      "Test Room",
		Visibility: domain.VisibilityPublic,
		InviteMode: domain.InviteOpen,
		CreatedAt:  time.Now(),
	}
}

func TestRoomRepository_CreateAndGet(t *testing.T) {
	repo := NewMemoryRoomRepository()
	ctx := context.Background()

	if err := repo.Create(ctx, testRoom("demo")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := repo.GetByName(ctx, "demo")
	if err != nil {
		t.Fatalf("GetByName failed: %v", err)
	}
	if got.Title != "Test Room" {
		t.Errorf("Title = %q, want %q", got.Title, "Test Room")
	}
}

func TestRoomRepository_CreateDuplicate(t *testing.T) {
	repo := NewMemoryRoomRepository()
	ctx := context.Background()

	if err := repo.Create(ctx, testRoom("demo")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := repo.Create(ctx, testRoom("demo")); err != domain.ErrRoomExists {
		t.Errorf("duplicate Create error = %v, want ErrRoomExists", err)
	}
}

func TestRoomRepository_GetMissing(t *testing.T) {
	repo := NewMemoryRoomRepository()

	if _, err := repo.GetByName(context.Background(), "missing"); err != domain.ErrRoomNotFound {
		t.Errorf("GetByName error = %v, want ErrRoomNotFound", err)
	}
}

func TestRoomRepository_Update(t *testing.T) {
	repo := NewMemoryRoomRepository()
	ctx := context.Background()

	room := testRoom("demo")
	if err := repo.Create(ctx, room); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	room.IsLive = true
	if err := repo.Update(ctx, room); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := repo.GetByName(ctx, "demo")
	if err != nil {
		t.Fatalf("GetByName failed: %v", err)
	}
	if !got.IsLive {
		t.Error("IsLive not persisted by Update")
	}
}

func TestRoomRepository_UpdateMissing(t *testing.T) {
	repo := NewMemoryRoomRepository()

	if err := repo.Update(context.Background(), testRoom("missing")); err != domain.ErrRoomNotFound {
		t.Errorf("Update error = %v, want ErrRoomNotFound", err)
	}
}

func TestRoomRepository_ListLive(t *testing.T) {
	repo := NewMemoryRoomRepository()
	ctx := context.Background()

	live := testRoom("live-room")
	live.IsLive = true
	if err := repo.Create(ctx, live); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := repo.Create(ctx, testRoom("idle-room")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	now := time.Now()
	ended := testRoom("ended-room")
	ended.IsLive = true
	ended.EndedAt = &now
	if err := repo.Create(ctx, ended); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	rooms, err := repo.ListLive(ctx)
	if err != nil {
		t.Fatalf("ListLive failed: %v", err)
	}
	if len(rooms) != 1 {
		t.Fatalf("ListLive returned %d rooms, want 1", len(rooms))
	}
	if rooms[0].Name != "live-room" {
		t.Errorf("ListLive returned %q, want %q", rooms[0].Name, "live-room")
	}
}

func TestRoomRepository_CopySemantics(t *testing.T) {
	repo := NewMemoryRoomRepository()
	ctx := context.Background()

	room := testRoom("demo")
	if err := repo.Create(ctx, room); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Mutating the caller's struct must not leak into the store.
	room.Title = "mutated"

	got, err := repo.GetByName(ctx, "demo")
	if err != nil {
		t.Fatalf("GetByName failed: %v", err)
	}
	if got.Title != "Test Room" {
		t.Errorf("stored room mutated through caller pointer: Title = %q", got.Title)
	}

	// Mutating a returned struct must not leak either.
	got.Title = "also mutated"
	again, _ := repo.GetByName(ctx, "demo")
	if again.Title != "Test Room" {
		t.Errorf("stored room mutated through returned pointer: Title = %q", again.Title)
	}
}
