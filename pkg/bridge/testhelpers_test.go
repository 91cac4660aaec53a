// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
	_ "modernc.org/sqlite"

	"github.com/geluk/matrix-webhook-gateway/pkg/database"
)

const (
	testBot    = id.UserID("@webhook:example.com")
	testDomain = "example.com"
	testURL    = "https://hooks.example.com"
)

type sentMessage struct {
	Sender  id.UserID
	RoomID  id.RoomID
	Content *event.MessageEventContent
}

type mockHomeserver struct {
	mu         sync.Mutex
	sent       []sentMessage
	joined     map[id.RoomID][]id.UserID
	names      map[id.UserID]string
	avatars    map[id.UserID]id.ContentURI
	invites    []id.UserID
	created    []*mautrix.ReqCreateRoom
	botJoins   []id.RoomID
	uploads    int
	nameCalls  int
	failJoin   bool
	failName   bool
	failSend   bool
	roomSerial int
}

func newMockHomeserver() *mockHomeserver {
	return &mockHomeserver{
		joined:  make(map[id.RoomID][]id.UserID),
		names:   make(map[id.UserID]string),
		avatars: make(map[id.UserID]id.ContentURI),
	}
}

func (m *mockHomeserver) BotMXID() id.UserID { return testBot }

func (m *mockHomeserver) EnsureJoined(_ context.Context, userID id.UserID, roomID id.RoomID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failJoin {
		return errors.New("M_FORBIDDEN: not invited")
	}
	if !slices.Contains(m.joined[roomID], userID) {
		m.joined[roomID] = append(m.joined[roomID], userID)
	}
	return nil
}

func (m *mockHomeserver) SendMessage(_ context.Context, sender id.UserID, roomID id.RoomID, content *event.MessageEventContent) (id.EventID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSend {
		return "", errors.New("M_LIMIT_EXCEEDED")
	}
	m.sent = append(m.sent, sentMessage{sender, roomID, content})
	return id.EventID(fmt.Sprintf("$event%d", len(m.sent))), nil
}

func (m *mockHomeserver) SetDisplayName(_ context.Context, userID id.UserID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nameCalls++
	if m.failName {
		return errors.New("M_UNKNOWN")
	}
	m.names[userID] = name
	return nil
}

func (m *mockHomeserver) SetAvatarURL(_ context.Context, userID id.UserID, uri id.ContentURI) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.avatars[userID] = uri
	return nil
}

func (m *mockHomeserver) UploadMedia(_ context.Context, _ []byte, _, _ string) (id.ContentURI, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads++
	return id.ContentURI{Homeserver: testDomain, FileID: fmt.Sprintf("upload%d", m.uploads)}, nil
}

func (m *mockHomeserver) JoinedMembers(_ context.Context, roomID id.RoomID) ([]id.UserID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, ok := m.joined[roomID]
	if !ok || !slices.Contains(members, testBot) {
		return nil, errors.New("M_FORBIDDEN: not in room")
	}
	return slices.Clone(members), nil
}

func (m *mockHomeserver) Invite(_ context.Context, _ id.RoomID, userID id.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invites = append(m.invites, userID)
	return nil
}

func (m *mockHomeserver) CreateRoom(_ context.Context, req *mautrix.ReqCreateRoom) (id.RoomID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roomSerial++
	roomID := id.RoomID(fmt.Sprintf("!private%d:example.com", m.roomSerial))
	m.created = append(m.created, req)
	m.joined[roomID] = []id.UserID{testBot}
	return roomID, nil
}

func (m *mockHomeserver) JoinRoom(_ context.Context, roomID id.RoomID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botJoins = append(m.botJoins, roomID)
	return nil
}

func (m *mockHomeserver) Sent() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.sent)
}

func (m *mockHomeserver) lastSent(t *testing.T) sentMessage {
	t.Helper()
	sent := m.Sent()
	if len(sent) == 0 {
		t.Fatal("no messages were sent")
	}
	return sent[len(sent)-1]
}

type mockImages struct {
	mu    sync.Mutex
	refs  map[string]string
	calls int
}

func (m *mockImages) Resolve(_ context.Context, url string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	ref, ok := m.refs[url]
	if !ok {
		return "", errors.New("image could not be resolved: HTTP 404")
	}
	return ref, nil
}

func newTestDB(t *testing.T) *database.Database {
	t.Helper()
	raw, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	raw.SetMaxOpenConns(1)
	t.Cleanup(func() { raw.Close() })
	wrapped, err := dbutil.NewWithDB(raw, "sqlite")
	if err != nil {
		t.Fatalf("NewWithDB: %v", err)
	}
	db := database.New(wrapped, zerolog.Nop())
	if err = db.Upgrade(context.Background()); err != nil {
		t.Fatalf("Upgrade: %v", err)
	}
	return db
}

func newTestBridge(t *testing.T, images Images) (*Bridge, *mockHomeserver) {
	t.Helper()
	hs := newMockHomeserver()
	b := New(hs, newTestDB(t), images, Options{Domain: testDomain, PublicURL: testURL}, zerolog.Nop())
	return b, hs
}
