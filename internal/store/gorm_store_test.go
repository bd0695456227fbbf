package store

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/cpu-jia/chatroom/internal/apperr"
	"github.com/cpu-jia/chatroom/internal/model"
)

var testStoreCounter int64

// newTestStore opens a uniquely-named shared-cache in-memory sqlite
// database, so the pooled connections GormStore normally expects against
// Postgres all see the same data, and runs the same AutoMigrate the real
// Open does. TranslateError matches Open too, so duplicate keys surface as
// gorm.ErrDuplicatedKey and map to Conflict. Each test gets its own database name so cleanup ordering
// between tests can never leak state.
func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	id := atomic.AddInt64(&testStoreCounter, 1)
	dsn := fmt.Sprintf("file:storetest%d?mode=memory&cache=shared", id)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	s := &GormStore{db: db, roomLocks: make(map[uuid.UUID]*sync.Mutex)}
	if err := s.autoMigrate(); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateUserDuplicateUsernameOrEmail(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.CreateUser("alice", "alice@example.com", "hash"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := s.CreateUser("alice", "other@example.com", "hash"); !apperr.Is(err, apperr.Conflict) {
		t.Errorf("duplicate username should be Conflict, got %v", err)
	}
	if _, err := s.CreateUser("bob", "alice@example.com", "hash"); !apperr.Is(err, apperr.Conflict) {
		t.Errorf("duplicate email should be Conflict, got %v", err)
	}
}

func TestFindUserNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.FindUserByID(uuid.New()); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("missing user should be NotFound, got %v", err)
	}
}

func TestCreateRoomAlsoAddsOwnerAsMember(t *testing.T) {
	s := newTestStore(t)
	owner, err := s.CreateUser("owner", "owner@example.com", "hash")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	room, err := s.CreateRoom(owner.ID, "general", false, "")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	member, err := s.FindMember(room.ID, owner.ID)
	if err != nil {
		t.Fatalf("FindMember: %v", err)
	}
	if member.Role != model.RoleOwner {
		t.Errorf("room creator role = %s, want owner", member.Role)
	}
}

func TestCreateRoomDuplicateName(t *testing.T) {
	s := newTestStore(t)
	owner, _ := s.CreateUser("owner", "owner@example.com", "hash")

	if _, err := s.CreateRoom(owner.ID, "general", false, ""); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := s.CreateRoom(owner.ID, "general", false, ""); !apperr.Is(err, apperr.Conflict) {
		t.Errorf("duplicate room name should be Conflict, got %v", err)
	}
}

func TestCreateRoomPrivateRequiresPassword(t *testing.T) {
	s := newTestStore(t)
	owner, _ := s.CreateUser("owner", "owner@example.com", "hash")

	if _, err := s.CreateRoom(owner.ID, "secret", true, ""); !apperr.Is(err, apperr.Validation) {
		t.Errorf("private room without a hash should be Validation, got %v", err)
	}
}

func TestAddMemberDuplicateIsConflict(t *testing.T) {
	s := newTestStore(t)
	owner, _ := s.CreateUser("owner", "owner@example.com", "hash")
	member, _ := s.CreateUser("member", "member@example.com", "hash")
	room, _ := s.CreateRoom(owner.ID, "general", false, "")

	if err := s.AddMember(room.ID, member.ID, model.RoleMember); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if err := s.AddMember(room.ID, member.ID, model.RoleMember); !apperr.Is(err, apperr.Conflict) {
		t.Errorf("re-adding the same member should be Conflict, got %v", err)
	}
}

func TestAppendMessageRejectsClosedRoom(t *testing.T) {
	s := newTestStore(t)
	owner, _ := s.CreateUser("owner", "owner@example.com", "hash")
	room, _ := s.CreateRoom(owner.ID, "general", false, "")

	if err := s.CloseRoom(room.ID); err != nil {
		t.Fatalf("CloseRoom: %v", err)
	}
	if _, err := s.AppendMessage(room.ID, owner.ID, "hi", model.MessageText, nil, ""); !apperr.Is(err, apperr.Validation) {
		t.Errorf("append to closed room should be Validation, got %v", err)
	}
}

func TestAppendMessageRejectsNonMember(t *testing.T) {
	s := newTestStore(t)
	owner, _ := s.CreateUser("owner", "owner@example.com", "hash")
	outsider, _ := s.CreateUser("outsider", "outsider@example.com", "hash")
	room, _ := s.CreateRoom(owner.ID, "general", false, "")

	if _, err := s.AppendMessage(room.ID, outsider.ID, "hi", model.MessageText, nil, ""); !apperr.Is(err, apperr.Authorization) {
		t.Errorf("append by non-member should be Authorization, got %v", err)
	}
}

func TestAppendMessageIdempotencyKeyDedups(t *testing.T) {
	s := newTestStore(t)
	owner, _ := s.CreateUser("owner", "owner@example.com", "hash")
	room, _ := s.CreateRoom(owner.ID, "general", false, "")

	first, err := s.AppendMessage(room.ID, owner.ID, "hi", model.MessageText, nil, "key-1")
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	second, err := s.AppendMessage(room.ID, owner.ID, "hi again", model.MessageText, nil, "key-1")
	if err != nil {
		t.Fatalf("AppendMessage (replay): %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("replayed idempotency key returned a new message: %s != %s", second.ID, first.ID)
	}
	if second.Content != first.Content {
		t.Errorf("replayed message should return the original content, got %q", second.Content)
	}
}

func TestAppendMessageReplyToMustBeSameRoom(t *testing.T) {
	s := newTestStore(t)
	owner, _ := s.CreateUser("owner", "owner@example.com", "hash")
	roomA, _ := s.CreateRoom(owner.ID, "room-a", false, "")
	roomB, _ := s.CreateRoom(owner.ID, "room-b", false, "")

	msgA, err := s.AppendMessage(roomA.ID, owner.ID, "in room a", model.MessageText, nil, "")
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if _, err := s.AppendMessage(roomB.ID, owner.ID, "reply", model.MessageText, &msgA.ID, ""); !apperr.Is(err, apperr.Validation) {
		t.Errorf("cross-room reply_to should be Validation, got %v", err)
	}
}

func TestFetchHistoryOrderingAndCursor(t *testing.T) {
	s := newTestStore(t)
	owner, _ := s.CreateUser("owner", "owner@example.com", "hash")
	room, _ := s.CreateRoom(owner.ID, "general", false, "")

	var sent []model.Message
	for i := 0; i < 5; i++ {
		m, err := s.AppendMessage(room.ID, owner.ID, "msg", model.MessageText, nil, "")
		if err != nil {
			t.Fatalf("AppendMessage %d: %v", i, err)
		}
		sent = append(sent, *m)
		time.Sleep(time.Millisecond) // force distinct created_at ordering
	}

	page, err := s.FetchHistory(room.ID, nil, 2)
	if err != nil {
		t.Fatalf("FetchHistory: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("len(page) = %d, want 2", len(page))
	}
	if page[0].ID != sent[4].ID || page[1].ID != sent[3].ID {
		t.Error("FetchHistory should return newest-first")
	}

	cursor := &Cursor{CreatedAt: page[1].CreatedAt, MessageID: page[1].ID}
	nextPage, err := s.FetchHistory(room.ID, cursor, 2)
	if err != nil {
		t.Fatalf("FetchHistory page 2: %v", err)
	}
	if len(nextPage) != 2 || nextPage[0].ID != sent[2].ID || nextPage[1].ID != sent[1].ID {
		t.Error("paged FetchHistory did not continue before the cursor")
	}
}

func TestMarkMessageDeletedIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	owner, _ := s.CreateUser("owner", "owner@example.com", "hash")
	room, _ := s.CreateRoom(owner.ID, "general", false, "")
	msg, _ := s.AppendMessage(room.ID, owner.ID, "hi", model.MessageText, nil, "")

	first, err := s.MarkMessageDeleted(msg.ID, owner.ID)
	if err != nil {
		t.Fatalf("MarkMessageDeleted: %v", err)
	}
	if !first.IsDeleted {
		t.Fatal("message should be marked deleted")
	}
	second, err := s.MarkMessageDeleted(msg.ID, owner.ID)
	if err != nil {
		t.Fatalf("MarkMessageDeleted (repeat): %v", err)
	}
	if !second.IsDeleted {
		t.Error("repeat delete should remain idempotently deleted")
	}
}

func TestRedactedHidesContentOfDeletedMessage(t *testing.T) {
	s := newTestStore(t)
	owner, _ := s.CreateUser("owner", "owner@example.com", "hash")
	room, _ := s.CreateRoom(owner.ID, "general", false, "")
	msg, _ := s.AppendMessage(room.ID, owner.ID, "sensitive", model.MessageText, nil, "")

	deleted, err := s.MarkMessageDeleted(msg.ID, owner.ID)
	if err != nil {
		t.Fatalf("MarkMessageDeleted: %v", err)
	}
	redacted := deleted.Redacted()
	if redacted.Content != model.DeletedContentSentinel {
		t.Errorf("redacted content = %q, want sentinel", redacted.Content)
	}
	if redacted.Kind != msg.Kind {
		t.Error("Redacted should preserve the message kind")
	}
}

func TestRemoveMemberNotAMember(t *testing.T) {
	s := newTestStore(t)
	owner, _ := s.CreateUser("owner", "owner@example.com", "hash")
	room, _ := s.CreateRoom(owner.ID, "general", false, "")

	if err := s.RemoveMember(room.ID, uuid.New()); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("removing a non-member should be NotFound, got %v", err)
	}
}
