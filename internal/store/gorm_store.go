package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/cpu-jia/chatroom/internal/apperr"
	"github.com/cpu-jia/chatroom/internal/config"
	"github.com/cpu-jia/chatroom/internal/model"
)

const idempotencyWindow = 60 * time.Second

// GormStore is the Store implementation. It is grounded on the teacher's
// blog-system repository package (Database/user.go), generalized to the
// chat data model and to the ordering/idempotency contracts spec.md §4.1
// requires that a plain repository wrapper doesn't need.
type GormStore struct {
	db *gorm.DB

	// lockDB is a second, independent connection opened directly through
	// lib/pq (rather than through GORM's own pgx-based postgres dialector)
	// used only to take a Postgres advisory lock around append_message, so
	// concurrent appends to the same room serialize even when GORM's
	// connection pool would otherwise let two transactions race. Nil when
	// running on SQLite, where the roomLocks mutex map is sufficient.
	lockDB *sql.DB

	// roomLocks provides the same per-room serialization as lockDB within
	// this process, and is the only serialization available under SQLite.
	// Under Postgres it is taken first and the advisory lock is then taken
	// as well, on every append.
	roomLocks   map[uuid.UUID]*sync.Mutex
	roomLocksMu sync.Mutex
}

func Open(cfg *config.Config) (*GormStore, error) {
	var dialector gorm.Dialector
	switch cfg.Database.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.Database.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.Database.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	s := &GormStore{db: db, roomLocks: make(map[uuid.UUID]*sync.Mutex)}

	if cfg.IsPostgres() {
		lockDB, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open advisory-lock connection: %w", err)
		}
		s.lockDB = lockDB
	}

	if err := s.autoMigrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *GormStore) autoMigrate() error {
	return s.db.AutoMigrate(
		&model.User{},
		&model.ChatRoom{},
		&model.RoomMember{},
		&model.Message{},
	)
}

func (s *GormStore) Close() error {
	if s.lockDB != nil {
		s.lockDB.Close()
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// roomMutex returns (creating if necessary) the process-local mutex for a
// room, serializing append_message within this instance.
func (s *GormStore) roomMutex(roomID uuid.UUID) *sync.Mutex {
	s.roomLocksMu.Lock()
	defer s.roomLocksMu.Unlock()
	m, ok := s.roomLocks[roomID]
	if !ok {
		m = &sync.Mutex{}
		s.roomLocks[roomID] = m
	}
	return m
}

// withRoomLock runs fn while holding the process-local room mutex and, on
// Postgres, a cross-instance session-level advisory lock (pg_advisory_lock
// on an FNV-32a hash of the room id) taken on a dedicated lockDB
// connection and released after fn's transaction ends, so two instances
// appending to the same room never interleave their (created_at, id)
// assignment.
func (s *GormStore) withRoomLock(roomID uuid.UUID, fn func(tx *gorm.DB) error) error {
	mu := s.roomMutex(roomID)
	mu.Lock()
	defer mu.Unlock()

	if s.lockDB == nil {
		return s.db.Transaction(fn)
	}

	ctx := context.Background()
	conn, err := s.lockDB.Conn(ctx)
	if err != nil {
		return apperr.Wrap(apperr.ExternalUnavailable, "acquire lock connection", err)
	}
	defer conn.Close()

	key := int64(roomLockKey(roomID))
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
		return apperr.Wrap(apperr.ExternalUnavailable, "acquire advisory lock", err)
	}
	defer conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", key)

	return s.db.Transaction(fn)
}

func roomLockKey(id uuid.UUID) uint32 {
	h := fnv.New32a()
	h.Write(id[:])
	return h.Sum32()
}

// ---------- Users ----------

func (s *GormStore) CreateUser(username, email, passwordHash string) (*model.User, error) {
	user := &model.User{
		ID:       uuid.New(),
		Username: username,
		Email:    email,
		Password: passwordHash,
		Status:   model.UserActive,
	}
	if err := s.db.Create(user).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.New(apperr.Conflict, "username or email already in use")
		}
		return nil, apperr.Wrap(apperr.Internal, "create user", err)
	}
	return user, nil
}

func (s *GormStore) FindUserByID(id uuid.UUID) (*model.User, error) {
	var u model.User
	if err := s.db.First(&u, "id = ?", id).Error; err != nil {
		return nil, notFoundOrInternal(err, "user")
	}
	return &u, nil
}

func (s *GormStore) FindUserByName(username string) (*model.User, error) {
	var u model.User
	if err := s.db.First(&u, "username = ?", username).Error; err != nil {
		return nil, notFoundOrInternal(err, "user")
	}
	return &u, nil
}

func (s *GormStore) FindUserByEmail(email string) (*model.User, error) {
	var u model.User
	if err := s.db.First(&u, "email = ?", email).Error; err != nil {
		return nil, notFoundOrInternal(err, "user")
	}
	return &u, nil
}

func (s *GormStore) SearchUsers(query string, limit, offset int) ([]model.User, error) {
	var users []model.User
	like := "%" + query + "%"
	err := s.db.Where("username LIKE ? OR email LIKE ?", like, like).
		Order("username").
		Limit(limit).Offset(offset).
		Find(&users).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "search users", err)
	}
	return users, nil
}

func (s *GormStore) UpdateUserProfile(id uuid.UUID, username *string) (*model.User, error) {
	u, err := s.FindUserByID(id)
	if err != nil {
		return nil, err
	}
	if username != nil {
		u.Username = *username
	}
	if err := s.db.Save(u).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.New(apperr.Conflict, "username already in use")
		}
		return nil, apperr.Wrap(apperr.Internal, "update user", err)
	}
	return u, nil
}

func (s *GormStore) SetUserStatus(id uuid.UUID, status model.UserStatus) error {
	res := s.db.Model(&model.User{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return apperr.Wrap(apperr.Internal, "set user status", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.NotFound, "user not found")
	}
	return nil
}

// ---------- Rooms ----------

func (s *GormStore) CreateRoom(owner uuid.UUID, name string, isPrivate bool, secretHash string) (*model.ChatRoom, error) {
	if isPrivate && secretHash == "" {
		return nil, apperr.New(apperr.Validation, "private room requires a password")
	}

	room := &model.ChatRoom{
		ID:         uuid.New(),
		Name:       name,
		OwnerID:    owner,
		IsPrivate:  isPrivate,
		SecretHash: secretHash,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(room).Error; err != nil {
			return err
		}
		member := &model.RoomMember{
			RoomID:   room.ID,
			UserID:   owner,
			Role:     model.RoleOwner,
			JoinedAt: time.Now().UTC(),
		}
		return tx.Create(member).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.New(apperr.Conflict, "room name already in use")
		}
		return nil, apperr.Wrap(apperr.Internal, "create room", err)
	}
	return room, nil
}

func (s *GormStore) UpdateRoom(id uuid.UUID, name *string, isPrivate *bool, secretHash *string) (*model.ChatRoom, error) {
	room, err := s.FindRoomByID(id)
	if err != nil {
		return nil, err
	}
	if name != nil {
		room.Name = *name
	}
	if isPrivate != nil {
		room.IsPrivate = *isPrivate
		if *isPrivate {
			if secretHash != nil {
				room.SecretHash = *secretHash
			}
			if room.SecretHash == "" {
				return nil, apperr.New(apperr.Validation, "private room requires a password")
			}
		} else {
			room.SecretHash = ""
		}
	} else if secretHash != nil {
		room.SecretHash = *secretHash
	}

	if err := s.db.Save(room).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.New(apperr.Conflict, "room name already in use")
		}
		return nil, apperr.Wrap(apperr.Internal, "update room", err)
	}
	return room, nil
}

func (s *GormStore) CloseRoom(id uuid.UUID) error {
	res := s.db.Model(&model.ChatRoom{}).Where("id = ?", id).Update("is_closed", true)
	if res.Error != nil {
		return apperr.Wrap(apperr.Internal, "close room", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.NotFound, "room not found")
	}
	return nil
}

func (s *GormStore) FindRoomByID(id uuid.UUID) (*model.ChatRoom, error) {
	var r model.ChatRoom
	if err := s.db.First(&r, "id = ?", id).Error; err != nil {
		return nil, notFoundOrInternal(err, "room")
	}
	return &r, nil
}

func (s *GormStore) FindRoomByName(name string) (*model.ChatRoom, error) {
	var r model.ChatRoom
	if err := s.db.First(&r, "name = ?", name).Error; err != nil {
		return nil, notFoundOrInternal(err, "room")
	}
	return &r, nil
}

func (s *GormStore) ListRoomsForUser(userID uuid.UUID) ([]RoomSummary, error) {
	var members []model.RoomMember
	if err := s.db.Where("user_id = ?", userID).Find(&members).Error; err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list memberships", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	roomIDs := make([]uuid.UUID, 0, len(members))
	byRoom := make(map[uuid.UUID]model.RoomMember, len(members))
	for _, m := range members {
		roomIDs = append(roomIDs, m.RoomID)
		byRoom[m.RoomID] = m
	}

	var rooms []model.ChatRoom
	if err := s.db.Where("id IN ?", roomIDs).Find(&rooms).Error; err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list rooms", err)
	}

	out := make([]RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, RoomSummary{Room: r, Member: byRoom[r.ID]})
	}
	return out, nil
}

// ---------- Members ----------

func (s *GormStore) AddMember(roomID, userID uuid.UUID, role model.RoomRole) error {
	var room model.ChatRoom
	if err := s.db.First(&room, "id = ?", roomID).Error; err != nil {
		return notFoundOrInternal(err, "room")
	}
	var user model.User
	if err := s.db.First(&user, "id = ?", userID).Error; err != nil {
		return notFoundOrInternal(err, "user")
	}

	member := &model.RoomMember{RoomID: roomID, UserID: userID, Role: role, JoinedAt: time.Now().UTC()}
	if err := s.db.Create(member).Error; err != nil {
		if isUniqueViolation(err) {
			return apperr.New(apperr.Conflict, "already a member")
		}
		return apperr.Wrap(apperr.Internal, "add member", err)
	}
	return nil
}

func (s *GormStore) RemoveMember(roomID, userID uuid.UUID) error {
	res := s.db.Where("room_id = ? AND user_id = ?", roomID, userID).Delete(&model.RoomMember{})
	if res.Error != nil {
		return apperr.Wrap(apperr.Internal, "remove member", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.NotFound, "not a member")
	}
	return nil
}

func (s *GormStore) ChangeRole(roomID, userID uuid.UUID, role model.RoomRole) error {
	res := s.db.Model(&model.RoomMember{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Update("role", role)
	if res.Error != nil {
		return apperr.Wrap(apperr.Internal, "change role", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.NotFound, "not a member")
	}
	return nil
}

func (s *GormStore) ListMembers(roomID uuid.UUID) ([]model.RoomMember, error) {
	var members []model.RoomMember
	if err := s.db.Where("room_id = ?", roomID).Find(&members).Error; err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list members", err)
	}
	return members, nil
}

func (s *GormStore) FindMember(roomID, userID uuid.UUID) (*model.RoomMember, error) {
	var m model.RoomMember
	err := s.db.Where("room_id = ? AND user_id = ?", roomID, userID).First(&m).Error
	if err != nil {
		return nil, notFoundOrInternal(err, "member")
	}
	return &m, nil
}

// ---------- Messages ----------

func (s *GormStore) AppendMessage(roomID, authorID uuid.UUID, content string, kind model.MessageKind, replyTo *uuid.UUID, idempotencyKey string) (*model.Message, error) {
	if idempotencyKey != "" {
		var existing model.Message
		cutoff := time.Now().UTC().Add(-idempotencyWindow)
		err := s.db.Where(
			"room_id = ? AND author_id = ? AND idempotency_key = ? AND created_at >= ?",
			roomID, authorID, idempotencyKey, cutoff,
		).First(&existing).Error
		if err == nil {
			return &existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Wrap(apperr.Internal, "check idempotency", err)
		}
	}

	var room model.ChatRoom
	if err := s.db.First(&room, "id = ?", roomID).Error; err != nil {
		return nil, notFoundOrInternal(err, "room")
	}
	if room.IsClosed {
		return nil, apperr.New(apperr.Validation, "room is closed")
	}

	var member model.RoomMember
	if err := s.db.Where("room_id = ? AND user_id = ?", roomID, authorID).First(&member).Error; err != nil {
		return nil, apperr.New(apperr.Authorization, "author is not a member of the room")
	}

	if replyTo != nil {
		var parent model.Message
		if err := s.db.First(&parent, "id = ?", *replyTo).Error; err != nil {
			return nil, apperr.New(apperr.Validation, "reply_to message not found")
		}
		if parent.RoomID != roomID {
			return nil, apperr.New(apperr.Validation, "reply_to must reference a message in the same room")
		}
		// Self-reply is structurally impossible here: ids are server-assigned
		// at creation time, so a client can never know the new message's id
		// in advance to pass it as reply_to.
	}

	msg := &model.Message{
		ID:             uuid.New(),
		RoomID:         roomID,
		AuthorID:       authorID,
		Content:        content,
		Kind:           kind,
		ReplyToID:      replyTo,
		IdempotencyKey: idempotencyKey,
	}

	err := s.withRoomLock(roomID, func(tx *gorm.DB) error {
		msg.CreatedAt = time.Now().UTC()
		return tx.Create(msg).Error
	})
	if err != nil {
		if ae, ok := err.(*apperr.Error); ok {
			return nil, ae
		}
		return nil, apperr.Wrap(apperr.Internal, "append message", err)
	}
	return msg, nil
}

func (s *GormStore) MarkMessageDeleted(messageID, actorID uuid.UUID) (*model.Message, error) {
	var msg model.Message
	if err := s.db.First(&msg, "id = ?", messageID).Error; err != nil {
		return nil, notFoundOrInternal(err, "message")
	}
	if msg.IsDeleted {
		return &msg, nil // idempotent
	}
	now := time.Now().UTC()
	msg.IsDeleted = true
	msg.UpdatedAt = &now
	if err := s.db.Save(&msg).Error; err != nil {
		return nil, apperr.Wrap(apperr.Internal, "mark message deleted", err)
	}
	return &msg, nil
}

func (s *GormStore) FindMessageByID(id uuid.UUID) (*model.Message, error) {
	var m model.Message
	if err := s.db.First(&m, "id = ?", id).Error; err != nil {
		return nil, notFoundOrInternal(err, "message")
	}
	return &m, nil
}

func (s *GormStore) FetchHistory(roomID uuid.UUID, before *Cursor, limit int) ([]model.Message, error) {
	// Callers (internal/service) validate and clamp limit before this point;
	// this is just a last-ditch bound against a misbehaving caller.
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	q := s.db.Where("room_id = ?", roomID)
	if before != nil {
		q = q.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			before.CreatedAt, before.CreatedAt, before.MessageID,
		)
	}
	var messages []model.Message
	err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&messages).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "fetch history", err)
	}
	return messages, nil
}

func (s *GormStore) SetLastRead(roomID, userID, messageID uuid.UUID) error {
	res := s.db.Model(&model.RoomMember{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Update("last_read_msg_id", messageID)
	if res.Error != nil {
		return apperr.Wrap(apperr.Internal, "set last read", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.NotFound, "not a member")
	}
	return nil
}

// ---------- helpers ----------

func notFoundOrInternal(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.New(apperr.NotFound, what+" not found")
	}
	return apperr.Wrap(apperr.Internal, "query "+what, err)
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
