package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func sequentialCodes() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("room%d", n)
	}
}

func TestRegistryCreateBroadcastsRoom(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	r := NewRegistry(WithCodeGenerator(sequentialCodes()), WithClock(func() time.Time { return created }))

	var last []RoomInfo
	r.OnChange(func(rooms []RoomInfo) { last = rooms })

	id := r.Create("conn-a", "Alice")
	if id != "room1" {
		t.Fatalf("room id = %q, want room1", id)
	}
	if len(last) != 1 {
		t.Fatalf("broadcast %d rooms, want 1", len(last))
	}
	got := last[0]
	if got.HostName != "Alice" || got.GuestCount != 0 || got.MaxGuests != 1 || !got.CreatedAt.Equal(created) {
		t.Errorf("room = %+v", got)
	}
	if roomID, role, ok := r.RoomOf("conn-a"); !ok || roomID != id || role != RoleHost {
		t.Errorf("RoomOf = %q %q %v", roomID, role, ok)
	}
}

func TestRegistryJoinCapacity(t *testing.T) {
	r := NewRegistry(WithCodeGenerator(sequentialCodes()))
	id := r.Create("host", "Alice")

	if err := r.Join("missing", "guest"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("join missing room: %v", err)
	}
	if err := r.Join(id, "guest"); err != nil {
		t.Fatalf("first join: %v", err)
	}
	if got := r.List()[0].GuestCount; got != 1 {
		t.Fatalf("guest count = %d, want 1", got)
	}
	if err := r.Join(id, "second"); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("second join: %v, want room full", err)
	}
	if err := r.Join(id, "second"); err == nil || err.Error() != "room full" {
		t.Errorf("error text = %v", err)
	}
	if got := r.List()[0].GuestCount; got != 1 {
		t.Errorf("guest count after rejected join = %d, want 1", got)
	}
}

func TestRegistryGuestLeaveFreesSlot(t *testing.T) {
	r := NewRegistry(WithCodeGenerator(sequentialCodes()))
	id := r.Create("host", "Alice")
	if err := r.Join(id, "guest"); err != nil {
		t.Fatal(err)
	}

	r.Leave(id, "guest")
	r.UpdateGuestCount(id)
	if got := r.List()[0].GuestCount; got != 0 {
		t.Fatalf("guest count = %d, want 0", got)
	}
	if _, _, ok := r.RoomOf("guest"); ok {
		t.Error("guest still mapped to room")
	}
	if err := r.Join(id, "other"); err != nil {
		t.Errorf("join after leave: %v", err)
	}
}

func TestRegistryGuestMovesBetweenRooms(t *testing.T) {
	r := NewRegistry(WithCodeGenerator(sequentialCodes()))
	a := r.Create("host-a", "Alice")
	b := r.Create("host-b", "Bob")
	if err := r.Join(a, "guest"); err != nil {
		t.Fatal(err)
	}
	if err := r.Join(b, "guest"); err != nil {
		t.Fatalf("move to %s: %v", b, err)
	}

	if got := r.Members(a); len(got) != 1 || got[0] != "host-a" {
		t.Fatalf("members(%s) = %v, want [host-a]", a, got)
	}
	if roomID, role, ok := r.RoomOf("guest"); !ok || roomID != b || role != RoleGuest {
		t.Errorf("RoomOf(guest) = %q %q %v", roomID, role, ok)
	}
	counts := map[string]int{}
	for _, info := range r.List() {
		counts[info.RoomID] = info.GuestCount
	}
	if counts[a] != 0 || counts[b] != 1 {
		t.Errorf("guest counts = %v, want %s:0 %s:1", counts, a, b)
	}

	// the guest disconnecting from b leaves a with a free slot
	r.Leave(b, "guest")
	r.UpdateGuestCount(b)
	if err := r.Join(a, "other"); err != nil {
		t.Errorf("join %s after guest moved away: %v", a, err)
	}
}

func TestRegistryRejectsJoinByMember(t *testing.T) {
	r := NewRegistry(WithCodeGenerator(sequentialCodes()))
	a := r.Create("host-a", "Alice")
	b := r.Create("host-b", "Bob")

	if err := r.Join(a, "host-a"); !errors.Is(err, ErrAlreadyMember) {
		t.Fatalf("host joining own room: %v, want %v", err, ErrAlreadyMember)
	}
	if _, role, _ := r.RoomOf("host-a"); role != RoleHost {
		t.Errorf("host role after own join = %q", role)
	}
	if err := r.Join(b, "host-a"); !errors.Is(err, ErrAlreadyHosting) {
		t.Fatalf("host joining another room: %v, want %v", err, ErrAlreadyHosting)
	}
	for _, info := range r.List() {
		if info.GuestCount != 0 {
			t.Errorf("room %s guest count = %d, want 0", info.RoomID, info.GuestCount)
		}
	}

	if err := r.Join(a, "guest"); err != nil {
		t.Fatal(err)
	}
	if err := r.Join(a, "guest"); !errors.Is(err, ErrAlreadyMember) {
		t.Errorf("second join of same guest: %v", err)
	}
}

func TestRegistryCreateLeavesPreviousRoom(t *testing.T) {
	r := NewRegistry(WithCodeGenerator(sequentialCodes()))
	first := r.Create("host", "Alice")
	r.Join(first, "guest")

	second := r.Create("host", "Alice")
	if len(r.List()) != 1 || r.List()[0].RoomID != second {
		t.Fatalf("rooms = %+v, want only %s", r.List(), second)
	}
	if _, _, ok := r.RoomOf("guest"); ok {
		t.Error("guest still mapped to the abandoned room")
	}
}

func TestRoomListOmitsConnectionIDs(t *testing.T) {
	r := NewRegistry(WithCodeGenerator(sequentialCodes()))
	r.Create("conn-secret", "Alice")

	data, err := json.Marshal(RoomListPayload{Rooms: r.List()})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "conn-secret") {
		t.Errorf("room list exposes the host connection: %s", data)
	}
}

func TestRegistryDelete(t *testing.T) {
	r := NewRegistry(WithCodeGenerator(sequentialCodes()))
	id := r.Create("host", "Alice")
	r.Join(id, "guest")

	changes := 0
	r.OnChange(func([]RoomInfo) { changes++ })
	r.Delete(id)
	if len(r.List()) != 0 {
		t.Fatal("room still listed")
	}
	if changes != 1 {
		t.Errorf("changes = %d, want 1", changes)
	}
	if _, _, ok := r.RoomOf("guest"); ok {
		t.Error("guest still mapped after delete")
	}
	r.Delete(id)
	if changes != 1 {
		t.Error("deleting a missing room broadcast a change")
	}
}

func TestRegistryListOrder(t *testing.T) {
	base := time.Now()
	tick := 0
	r := NewRegistry(WithCodeGenerator(sequentialCodes()), WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}))
	r.Create("a", "A")
	r.Create("b", "B")
	r.Create("c", "C")
	rooms := r.List()
	for i, want := range []string{"A", "B", "C"} {
		if rooms[i].HostName != want {
			t.Fatalf("rooms = %+v", rooms)
		}
	}
}

func TestRandomRoomCode(t *testing.T) {
	code := randomRoomCode()
	if len(code) != roomCodeLength {
		t.Fatalf("code %q has length %d", code, len(code))
	}
	for _, c := range code {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'z') {
			t.Fatalf("code %q is not base36", code)
		}
	}
}
