package server

import (
	"sync"
	"time"
)

// SessionInfo tracks which room (if any) a live connection belongs to, so a
// disconnect can be turned into a leave without scanning every room.
type SessionInfo struct {
	ConnectionID string
	Address      string
	RoomID       string
	ConnectedAt  time.Time
}

type SessionTracker struct {
	sessions map[string]SessionInfo // connectionID -> SessionInfo
	mu       sync.RWMutex
}

func NewSessionTracker() *SessionTracker {
	return &SessionTracker{
		sessions: make(map[string]SessionInfo),
	}
}

func (st *SessionTracker) Open(connectionID, address string, now time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[connectionID] = SessionInfo{
		ConnectionID: connectionID,
		Address:      address,
		ConnectedAt:  now,
	}
}

func (st *SessionTracker) Get(connectionID string) (SessionInfo, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	info, ok := st.sessions[connectionID]
	return info, ok
}

// SetRoom records roomID as the connection's current room.
func (st *SessionTracker) SetRoom(connectionID, roomID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	info, ok := st.sessions[connectionID]
	if !ok {
		return
	}
	info.RoomID = roomID
	st.sessions[connectionID] = info
}

// ClearRoom forgets the association only if it still points at roomID.
func (st *SessionTracker) ClearRoom(connectionID, roomID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	info, ok := st.sessions[connectionID]
	if !ok || info.RoomID != roomID {
		return
	}
	info.RoomID = ""
	st.sessions[connectionID] = info
}

// Close removes the session and returns what it held.
func (st *SessionTracker) Close(connectionID string) (SessionInfo, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	info, ok := st.sessions[connectionID]
	delete(st.sessions, connectionID)
	return info, ok
}

func (st *SessionTracker) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
