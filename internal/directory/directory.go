// Package directory tracks which participant is connected to which room.
//
// A Directory is not safe for concurrent use. The relay hub owns one and
// touches it only from its event loop.
package directory

import "sort"

// Participant is a live connection that joined a room under a display name.
type Participant struct {
	ConnectionID string
	DisplayName  string
	RoomCode     string
}

// Room is an ordered member list keyed by its code.
type Room struct {
	Code    string
	Members []Participant
}

// Summary describes a room without exposing its members.
type Summary struct {
	Code    string
	Members int
}

// Directory maps room codes to members and connections to rooms.
type Directory struct {
	rooms map[string]*Room

	// byConn maps a connection id to the code of the room it is in.
	byConn map[string]string
}

// New creates an empty Directory.
func New() *Directory {
	return &Directory{
		rooms:  make(map[string]*Room),
		byConn: make(map[string]string),
	}
}

// Join places connectionID in roomCode under displayName and returns the
// room's members in join order.
//
// A connection already in another room leaves it first. If displayName is
// already present in the room, that entry keeps its position and takes the
// new connection id (last join wins).
func (d *Directory) Join(roomCode, displayName, connectionID string) []Participant {
	if current, ok := d.byConn[connectionID]; ok {
		if p, _ := d.Lookup(connectionID); current == roomCode && p.DisplayName == displayName {
			return d.Members(roomCode)
		}
		d.removeConn(connectionID)
	}

	room, ok := d.rooms[roomCode]
	if !ok {
		room = &Room{Code: roomCode}
		d.rooms[roomCode] = room
	}

	p := Participant{ConnectionID: connectionID, DisplayName: displayName, RoomCode: roomCode}

	replaced := false
	for i := range room.Members {
		if room.Members[i].DisplayName == displayName {
			delete(d.byConn, room.Members[i].ConnectionID)
			room.Members[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		room.Members = append(room.Members, p)
	}
	d.byConn[connectionID] = roomCode

	return d.Members(roomCode)
}

// Leave removes connectionID from its room. It reports the room code and the
// members left behind, or ok=false when the connection was in no room. A room
// left empty is deleted.
func (d *Directory) Leave(connectionID string) (roomCode string, remaining []Participant, ok bool) {
	roomCode, ok = d.byConn[connectionID]
	if !ok {
		return "", nil, false
	}
	d.removeConn(connectionID)
	return roomCode, d.Members(roomCode), true
}

// removeConn drops the connection's entry from its room and deletes the room
// once it is empty.
func (d *Directory) removeConn(connectionID string) {
	roomCode := d.byConn[connectionID]
	delete(d.byConn, connectionID)

	room, ok := d.rooms[roomCode]
	if !ok {
		return
	}
	for i := range room.Members {
		if room.Members[i].ConnectionID == connectionID {
			room.Members = append(room.Members[:i], room.Members[i+1:]...)
			break
		}
	}
	if len(room.Members) == 0 {
		delete(d.rooms, roomCode)
	}
}

// FindByName returns the first member of roomCode, in join order, whose
// display name matches. Join keeps names unique per room, so the first match
// is the only one.
func (d *Directory) FindByName(roomCode, displayName string) (Participant, bool) {
	room, ok := d.rooms[roomCode]
	if !ok {
		return Participant{}, false
	}
	for _, p := range room.Members {
		if p.DisplayName == displayName {
			return p, true
		}
	}
	return Participant{}, false
}

// Lookup returns the participant registered for connectionID.
func (d *Directory) Lookup(connectionID string) (Participant, bool) {
	roomCode, ok := d.byConn[connectionID]
	if !ok {
		return Participant{}, false
	}
	for _, p := range d.rooms[roomCode].Members {
		if p.ConnectionID == connectionID {
			return p, true
		}
	}
	return Participant{}, false
}

// ListNames returns the display names in roomCode in join order.
func (d *Directory) ListNames(roomCode string) []string {
	room, ok := d.rooms[roomCode]
	if !ok {
		return []string{}
	}
	names := make([]string, len(room.Members))
	for i, p := range room.Members {
		names[i] = p.DisplayName
	}
	return names
}

// Members returns a copy of roomCode's member list.
func (d *Directory) Members(roomCode string) []Participant {
	room, ok := d.rooms[roomCode]
	if !ok {
		return nil
	}
	out := make([]Participant, len(room.Members))
	copy(out, room.Members)
	return out
}

// Rooms summarises every room, sorted by code.
func (d *Directory) Rooms() []Summary {
	out := make([]Summary, 0, len(d.rooms))
	for code, room := range d.rooms {
		out = append(out, Summary{Code: code, Members: len(room.Members)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Len reports the number of rooms.
func (d *Directory) Len() int {
	return len(d.rooms)
}
