package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/recruitflow/relay/internal/auth"
	"github.com/recruitflow/relay/internal/gateway/connection"
	"github.com/recruitflow/relay/internal/gateway/event"
	"github.com/recruitflow/relay/internal/gateway/room"
	"github.com/recruitflow/relay/internal/model"
	"github.com/recruitflow/relay/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// 网关端到端测试用的内存仓储，约定与数据库实现一致：
// 找不到记录返回 gorm.ErrRecordNotFound，presence Get 缺行返回 nil

type gwThreadRepo struct {
	mu      sync.Mutex
	threads map[string]*model.Thread
	members map[string]map[string]*model.ThreadMember
}

func newGwThreadRepo() *gwThreadRepo {
	return &gwThreadRepo{
		threads: make(map[string]*model.Thread),
		members: make(map[string]map[string]*model.ThreadMember),
	}
}

func (f *gwThreadRepo) CreateThread(_ context.Context, thread *model.Thread, creator *model.ThreadMember) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads[thread.ThreadID] = thread
	f.members[thread.ThreadID] = map[string]*model.ThreadMember{creator.UserID: creator}
	return nil
}

func (f *gwThreadRepo) GetThread(_ context.Context, threadID string) (*model.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	thread, ok := f.threads[threadID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return thread, nil
}

func (f *gwThreadRepo) GetUserThreads(_ context.Context, userID string) ([]*model.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*model.Thread
	for threadID, members := range f.members {
		if _, ok := members[userID]; !ok {
			continue
		}
		if thread := f.threads[threadID]; thread != nil && !thread.Archived {
			result = append(result, thread)
		}
	}
	return result, nil
}

func (f *gwThreadRepo) GetUserThreadIDs(ctx context.Context, userID string) ([]string, error) {
	threads, err := f.GetUserThreads(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(threads))
	for _, thread := range threads {
		ids = append(ids, thread.ThreadID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *gwThreadRepo) ArchiveThread(_ context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	thread, ok := f.threads[threadID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	thread.Archived = true
	return nil
}

func (f *gwThreadRepo) TouchLastActivity(_ context.Context, threadID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if thread, ok := f.threads[threadID]; ok && thread.LastActivityAt.Before(at) {
		thread.LastActivityAt = at
	}
	return nil
}

func (f *gwThreadRepo) GetMember(_ context.Context, threadID, userID string) (*model.ThreadMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	member, ok := f.members[threadID][userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return member, nil
}

func (f *gwThreadRepo) AddMember(_ context.Context, member *model.ThreadMember) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[member.ThreadID] == nil {
		f.members[member.ThreadID] = make(map[string]*model.ThreadMember)
	}
	if _, exists := f.members[member.ThreadID][member.UserID]; !exists {
		f.members[member.ThreadID][member.UserID] = member
	}
	return nil
}

func (f *gwThreadRepo) RemoveMember(_ context.Context, threadID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members[threadID], userID)
	return nil
}

func (f *gwThreadRepo) GetMembers(_ context.Context, threadID string) ([]*model.ThreadMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*model.ThreadMember
	for _, member := range f.members[threadID] {
		result = append(result, member)
	}
	return result, nil
}

func (f *gwThreadRepo) UpdateLastRead(_ context.Context, threadID, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if member, ok := f.members[threadID][userID]; ok {
		member.LastReadAt = &at
	}
	return nil
}

func (f *gwThreadRepo) Close() error { return nil }

type gwMessageRepo struct {
	mu       sync.Mutex
	messages map[int64]*model.Message
}

func newGwMessageRepo() *gwMessageRepo {
	return &gwMessageRepo{messages: make(map[int64]*model.Message)}
}

func (f *gwMessageRepo) SaveMessage(_ context.Context, msg *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[msg.MsgID] = msg
	return nil
}

func (f *gwMessageRepo) GetMessage(_ context.Context, msgID int64) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[msgID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return msg, nil
}

func (f *gwMessageRepo) GetHistoryMessages(_ context.Context, threadID string, before time.Time, limit int) ([]*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*model.Message
	for _, msg := range f.messages {
		if msg.ThreadID != threadID {
			continue
		}
		if !before.IsZero() && !msg.CreatedAt.Before(before) {
			continue
		}
		result = append(result, msg)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].MsgID < result[j].MsgID })
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

func (f *gwMessageRepo) CountSince(_ context.Context, threadID string, after time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, msg := range f.messages {
		if msg.ThreadID == threadID && msg.CreatedAt.After(after) {
			count++
		}
	}
	return count, nil
}

func (f *gwMessageRepo) MarkEdited(_ context.Context, msgID int64, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[msgID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	msg.Content = content
	msg.Edited = true
	return nil
}

func (f *gwMessageRepo) Close() error { return nil }

type gwReactionRepo struct {
	mu   sync.Mutex
	rows map[string]bool
}

func newGwReactionRepo() *gwReactionRepo {
	return &gwReactionRepo{rows: make(map[string]bool)}
}

func (f *gwReactionRepo) Toggle(_ context.Context, msgID int64, userID, emoji string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := userID + "/" + emoji
	if f.rows[key] {
		delete(f.rows, key)
		return false, nil
	}
	f.rows[key] = true
	return true, nil
}

func (f *gwReactionRepo) ListByMessage(_ context.Context, _ int64) ([]*model.Reaction, error) {
	return nil, nil
}

func (f *gwReactionRepo) Close() error { return nil }

type gwPresenceRepo struct {
	mu   sync.Mutex
	rows map[string]*model.Presence
}

func newGwPresenceRepo() *gwPresenceRepo {
	return &gwPresenceRepo{rows: make(map[string]*model.Presence)}
}

func (f *gwPresenceRepo) Upsert(_ context.Context, presence *model.Presence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[presence.UserID] = presence
	return nil
}

func (f *gwPresenceRepo) Get(_ context.Context, userID string) (*model.Presence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[userID], nil
}

func (f *gwPresenceRepo) BatchGet(_ context.Context, userIDs []string) ([]*model.Presence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*model.Presence
	for _, userID := range userIDs {
		if row, ok := f.rows[userID]; ok {
			result = append(result, row)
		}
	}
	return result, nil
}

func (f *gwPresenceRepo) Close() error { return nil }

type gwNotificationRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   []*model.Notification
}

func newGwNotificationRepo() *gwNotificationRepo { return &gwNotificationRepo{} }

func (f *gwNotificationRepo) Create(_ context.Context, notification *model.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	notification.ID = f.nextID
	f.rows = append(f.rows, notification)
	return nil
}

func (f *gwNotificationRepo) ListForUser(_ context.Context, userID string, _ int) ([]*model.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*model.Notification
	for _, row := range f.rows {
		if row.UserID == userID {
			result = append(result, row)
		}
	}
	return result, nil
}

func (f *gwNotificationRepo) MarkRead(_ context.Context, id int64, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.ID == id && row.UserID == userID {
			row.IsRead = true
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (f *gwNotificationRepo) Close() error { return nil }

type gwUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
	teams map[string][]string
}

func newGwUserRepo() *gwUserRepo {
	return &gwUserRepo{
		users: make(map[string]*model.User),
		teams: make(map[string][]string),
	}
}

func (f *gwUserRepo) addUser(user *model.User, teamID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.UserID] = user
	f.teams[user.UserID] = append(f.teams[user.UserID], teamID)
}

func (f *gwUserRepo) GetUser(_ context.Context, userID string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return user, nil
}

func (f *gwUserRepo) GetUserByDisplayName(_ context.Context, name string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.DisplayName == name {
			return user, nil
		}
	}
	return nil, nil
}

func (f *gwUserRepo) GetUserTeamIDs(_ context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.teams[userID], nil
}

func (f *gwUserRepo) GetTeamMembers(_ context.Context, teamID string) ([]*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*model.User
	for userID, teams := range f.teams {
		for _, id := range teams {
			if id == teamID {
				result = append(result, f.users[userID])
				break
			}
		}
	}
	return result, nil
}

func (f *gwUserRepo) Close() error { return nil }

type gwIDGen struct {
	mu   sync.Mutex
	next int64
}

func (g *gwIDGen) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return g.next
}

// ---------- 测试夹具 ----------

type gwFixture struct {
	verifier *auth.Verifier
	registry *connection.Registry
	threads  *service.ThreadService
	srv      *httptest.Server
}

// newGatewayFixture 组装完整网关并挂到 httptest 服务上
// 预置：alice 属于 team_1，bob 属于 team_2，讨论组 general 初始只有 bob
func newGatewayFixture(t *testing.T) *gwFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	threadRepo := newGwThreadRepo()
	messageRepo := newGwMessageRepo()
	reactionRepo := newGwReactionRepo()
	presenceRepo := newGwPresenceRepo()
	notificationRepo := newGwNotificationRepo()
	userRepo := newGwUserRepo()

	userRepo.addUser(&model.User{UserID: "alice", DisplayName: "Alice", Role: "recruiter"}, "team_1")
	userRepo.addUser(&model.User{UserID: "bob", DisplayName: "Bob", Role: "sourcer"}, "team_2")

	ctx := context.Background()
	require.NoError(t, threadRepo.CreateThread(ctx,
		&model.Thread{ThreadID: "general", Name: "General", CreatorID: "bob"},
		&model.ThreadMember{ThreadID: "general", UserID: "bob", Role: "owner"}))

	resolver := service.NewMembershipResolver(threadRepo, userRepo, nil, nil)
	notifier := service.NewNotificationDispatcher(notificationRepo, nil)
	presenceSvc := service.NewPresenceService(presenceRepo, nil)
	messages := service.NewMessageService(messageRepo, threadRepo, userRepo, resolver, notifier, &gwIDGen{}, nil)
	reactions := service.NewReactionService(reactionRepo, messageRepo, resolver, nil)
	threads := service.NewThreadService(threadRepo, messageRepo, userRepo, resolver, presenceSvc, nil)

	verifier, err := auth.NewVerifier("gateway-test-secret")
	require.NoError(t, err)
	registry := connection.NewRegistry(clog.Discard())
	router := room.NewRouter(clog.Discard())
	notifier.SetPusher(registry)

	gw := New(verifier, registry, router, resolver, messages, reactions, presenceSvc, threads, notifier, clog.Discard(), DefaultConfig())

	engine := gin.New()
	engine.GET("/ws", gw.HandleWS)
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)

	return &gwFixture{
		verifier: verifier,
		registry: registry,
		threads:  threads,
		srv:      srv,
	}
}

// dial 以指定用户身份建立 WebSocket 连接，并等待 wantRooms 个房间预加入完成
func (f *gwFixture) dial(t *testing.T, userID string, wantRooms int) *websocket.Conn {
	t.Helper()

	token, err := f.verifier.Issue(userID, userID, "recruiter", time.Hour)
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?token=" + token
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.Eventually(t, func() bool {
		conns := f.registry.ConnectionsOf(userID)
		return len(conns) > 0 && len(conns[0].Rooms()) >= wantRooms
	}, 3*time.Second, 10*time.Millisecond, "等待 %s 的连接完成房间加入", userID)

	return client
}

func writeEvent(t *testing.T, client *websocket.Conn, eventType string, data any) {
	t.Helper()
	frame, err := event.Encode(eventType, data)
	require.NoError(t, err)
	require.NoError(t, client.WriteMessage(websocket.TextMessage, frame))
}

func readGatewayEvent(t *testing.T, client *websocket.Conn) *event.Envelope {
	t.Helper()
	client.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, frame, err := client.ReadMessage()
	require.NoError(t, err)

	var envelope event.Envelope
	require.NoError(t, json.Unmarshal(frame, &envelope))
	return &envelope
}

func TestGateway_StatusBroadcast(t *testing.T) {
	t.Run("状态广播覆盖连接后新加入的讨论组", func(t *testing.T) {
		f := newGatewayFixture(t)
		ctx := context.Background()

		// bob 先上线，连接时已加入 general 和 team:team_2 两个房间
		bobClient := f.dial(t, "bob", 2)

		// 连接即上线，bob 先收到自己的上线广播
		envelope := readGatewayEvent(t, bobClient)
		require.Equal(t, event.TypeUserStatusChanged, envelope.Event)
		var online event.StatusChangedData
		require.NoError(t, json.Unmarshal(envelope.Data, &online))
		require.Equal(t, "bob", online.UserID)
		require.Equal(t, model.StatusOnline, online.Status)

		// alice 上线时还不是 general 成员，房间快照里只有 team:team_1
		aliceClient := f.dial(t, "alice", 1)
		require.NoError(t, f.threads.Join(ctx, "alice", "general"))

		writeEvent(t, aliceClient, event.TypeUpdateStatus, &event.UpdateStatusData{
			Status:   model.StatusBusy,
			Activity: "in a meeting",
		})

		envelope = readGatewayEvent(t, bobClient)
		require.Equal(t, event.TypeUserStatusChanged, envelope.Event)

		var data event.StatusChangedData
		require.NoError(t, json.Unmarshal(envelope.Data, &data))
		assert.Equal(t, "alice", data.UserID)
		assert.Equal(t, model.StatusBusy, data.Status)
		assert.Equal(t, "in a meeting", data.Activity)
	})

	t.Run("握手令牌无效直接拒绝", func(t *testing.T) {
		f := newGatewayFixture(t)

		wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?token=forged"
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, 401, resp.StatusCode)
	})
}
