package signaling

import (
	"crypto/rand"
	"errors"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// MaxGuests is the number of guests a room admits besides its host.
	MaxGuests = 1

	roomCodeLength = 6
	roomCodeChars  = "0123456789abcdefghijklmnopqrstuvwxyz"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room full")

	ErrAlreadyMember  = errors.New("already in room")
	ErrAlreadyHosting = errors.New("already hosting a room")
)

// Role is a connection's part in a room.
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

type room struct {
	info    RoomInfo
	hostID  string
	members map[string]Role
}

// Registry tracks rooms and their members. onChange receives the full
// room list after every mutation.
type Registry struct {
	mu       sync.Mutex
	rooms    map[string]*room
	byConn   map[string]string
	newCode  func() string
	now      func() time.Time
	onChange func([]RoomInfo)
}

type RegistryOption func(*Registry)

// WithCodeGenerator replaces the random room code source.
func WithCodeGenerator(gen func() string) RegistryOption {
	return func(r *Registry) { r.newCode = gen }
}

func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		rooms:   make(map[string]*room),
		byConn:  make(map[string]string),
		newCode: randomRoomCode,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnChange sets the room list listener.
func (r *Registry) OnChange(fn func([]RoomInfo)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// randomRoomCode returns a short base36 code. Codes are not checked for
// uniqueness, a collision replaces the older room.
func randomRoomCode() string {
	b := make([]byte, roomCodeLength)
	base := big.NewInt(int64(len(roomCodeChars)))
	for i := range b {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			log.Panic().Err(err).Msg("Failed to generate room code")
		}
		b[i] = roomCodeChars[n.Int64()]
	}
	return string(b)
}

// Create opens a room owned by hostID and returns its code. hostID first
// leaves any room it is in.
func (r *Registry) Create(hostID, hostName string) string {
	r.mu.Lock()
	r.detachLocked(hostID)
	code := r.newCode()
	if old, ok := r.rooms[code]; ok {
		log.Warn().Str("room", code).Str("host", old.hostID).Msg("Room code collision, replacing room")
		for member := range old.members {
			delete(r.byConn, member)
		}
	}
	r.rooms[code] = &room{
		info: RoomInfo{
			RoomID:    code,
			HostName:  hostName,
			MaxGuests: MaxGuests,
			CreatedAt: r.now(),
		},
		hostID:  hostID,
		members: map[string]Role{hostID: RoleHost},
	}
	r.byConn[hostID] = code
	r.mu.Unlock()

	log.Info().Str("room", code).Str("host_name", hostName).Msg("Room created")
	r.changed()
	return code
}

// Join admits guestID to roomID. A room holding its host and one guest is full.
// A guest of another room moves; a host must not join any room.
func (r *Registry) Join(roomID, guestID string) error {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return ErrRoomNotFound
	}
	if prev, ok := r.byConn[guestID]; ok {
		if prev == roomID {
			r.mu.Unlock()
			return ErrAlreadyMember
		}
		if other, ok := r.rooms[prev]; ok && other.members[guestID] == RoleHost {
			r.mu.Unlock()
			return ErrAlreadyHosting
		}
	}
	if len(rm.members) >= MaxGuests+1 {
		r.mu.Unlock()
		return ErrRoomFull
	}
	r.detachLocked(guestID)
	rm.members[guestID] = RoleGuest
	r.byConn[guestID] = roomID
	r.updateGuestCountLocked(rm)
	r.mu.Unlock()

	log.Info().Str("room", roomID).Str("conn", guestID).Msg("Guest joined room")
	r.changed()
	return nil
}

// detachLocked takes connID out of its current room. A host leaving deletes
// the room.
func (r *Registry) detachLocked(connID string) {
	prev, ok := r.byConn[connID]
	if !ok {
		return
	}
	delete(r.byConn, connID)
	rm, ok := r.rooms[prev]
	if !ok {
		return
	}
	if rm.members[connID] == RoleHost {
		for member := range rm.members {
			if r.byConn[member] == prev {
				delete(r.byConn, member)
			}
		}
		delete(r.rooms, prev)
		log.Info().Str("room", prev).Str("conn", connID).Msg("Host moved away, room deleted")
		return
	}
	delete(rm.members, connID)
	r.updateGuestCountLocked(rm)
	log.Info().Str("room", prev).Str("conn", connID).Msg("Guest moved to another room")
}

// Leave removes connID from its room membership without touching the guest count.
func (r *Registry) Leave(roomID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[roomID]; ok {
		delete(rm.members, connID)
	}
	if r.byConn[connID] == roomID {
		delete(r.byConn, connID)
	}
}

// UpdateGuestCount recomputes the guest count from the membership.
func (r *Registry) UpdateGuestCount(roomID string) {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if ok {
		r.updateGuestCountLocked(rm)
	}
	r.mu.Unlock()
	if ok {
		r.changed()
	}
}

func (r *Registry) updateGuestCountLocked(rm *room) {
	guests := 0
	for _, role := range rm.members {
		if role == RoleGuest {
			guests++
		}
	}
	rm.info.GuestCount = guests
}

// Delete drops the room and forgets its members.
func (r *Registry) Delete(roomID string) {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if ok {
		for member := range rm.members {
			if r.byConn[member] == roomID {
				delete(r.byConn, member)
			}
		}
		delete(r.rooms, roomID)
	}
	r.mu.Unlock()
	if ok {
		log.Info().Str("room", roomID).Msg("Room deleted")
		r.changed()
	}
}

// RoomOf returns the room and role of connID.
func (r *Registry) RoomOf(connID string) (string, Role, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	roomID, ok := r.byConn[connID]
	if !ok {
		return "", "", false
	}
	rm, ok := r.rooms[roomID]
	if !ok {
		return "", "", false
	}
	return roomID, rm.members[connID], true
}

// Members returns the connections in roomID.
func (r *Registry) Members(roomID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(rm.members))
	for id := range rm.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns all rooms, oldest first.
func (r *Registry) List() []RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked()
}

func (r *Registry) listLocked() []RoomInfo {
	rooms := make([]RoomInfo, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm.info)
	}
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].RoomID < rooms[j].RoomID
		}
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})
	return rooms
}

func (r *Registry) changed() {
	r.mu.Lock()
	fn := r.onChange
	rooms := r.listLocked()
	r.mu.Unlock()
	if fn != nil {
		fn(rooms)
	}
}
