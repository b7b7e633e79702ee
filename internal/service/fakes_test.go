package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/recruitflow/relay/internal/model"
	"gorm.io/gorm"
)

// 服务层测试用的内存仓储实现，行为对齐数据库版本的约定：
// 找不到记录返回 gorm.ErrRecordNotFound，presence Get 缺行返回 nil

type fakeThreadRepo struct {
	mu      sync.Mutex
	threads map[string]*model.Thread
	members map[string]map[string]*model.ThreadMember
}

func newFakeThreadRepo() *fakeThreadRepo {
	return &fakeThreadRepo{
		threads: make(map[string]*model.Thread),
		members: make(map[string]map[string]*model.ThreadMember),
	}
}

func (f *fakeThreadRepo) CreateThread(_ context.Context, thread *model.Thread, creator *model.ThreadMember) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads[thread.ThreadID] = thread
	f.members[thread.ThreadID] = map[string]*model.ThreadMember{creator.UserID: creator}
	return nil
}

func (f *fakeThreadRepo) GetThread(_ context.Context, threadID string) (*model.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	thread, ok := f.threads[threadID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return thread, nil
}

func (f *fakeThreadRepo) GetUserThreads(_ context.Context, userID string) ([]*model.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*model.Thread
	for threadID, members := range f.members {
		if _, ok := members[userID]; !ok {
			continue
		}
		thread := f.threads[threadID]
		if thread == nil || thread.Archived {
			continue
		}
		result = append(result, thread)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastActivityAt.After(result[j].LastActivityAt)
	})
	return result, nil
}

func (f *fakeThreadRepo) GetUserThreadIDs(ctx context.Context, userID string) ([]string, error) {
	threads, err := f.GetUserThreads(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(threads))
	for _, thread := range threads {
		ids = append(ids, thread.ThreadID)
	}
	return ids, nil
}

func (f *fakeThreadRepo) ArchiveThread(_ context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	thread, ok := f.threads[threadID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	thread.Archived = true
	return nil
}

func (f *fakeThreadRepo) TouchLastActivity(_ context.Context, threadID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if thread, ok := f.threads[threadID]; ok && thread.LastActivityAt.Before(at) {
		thread.LastActivityAt = at
	}
	return nil
}

func (f *fakeThreadRepo) GetMember(_ context.Context, threadID, userID string) (*model.ThreadMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	member, ok := f.members[threadID][userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return member, nil
}

func (f *fakeThreadRepo) AddMember(_ context.Context, member *model.ThreadMember) error {
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

func (f *fakeThreadRepo) RemoveMember(_ context.Context, threadID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members[threadID], userID)
	return nil
}

func (f *fakeThreadRepo) GetMembers(_ context.Context, threadID string) ([]*model.ThreadMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*model.ThreadMember
	for _, member := range f.members[threadID] {
		result = append(result, member)
	}
	return result, nil
}

func (f *fakeThreadRepo) UpdateLastRead(_ context.Context, threadID, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if member, ok := f.members[threadID][userID]; ok {
		member.LastReadAt = &at
	}
	return nil
}

func (f *fakeThreadRepo) Close() error { return nil }

type fakeMessageRepo struct {
	mu       sync.Mutex
	messages map[int64]*model.Message
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{messages: make(map[int64]*model.Message)}
}

func (f *fakeMessageRepo) SaveMessage(_ context.Context, msg *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[msg.MsgID] = msg
	return nil
}

func (f *fakeMessageRepo) GetMessage(_ context.Context, msgID int64) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[msgID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return msg, nil
}

func (f *fakeMessageRepo) GetHistoryMessages(_ context.Context, threadID string, before time.Time, limit int) ([]*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var all []*model.Message
	for _, msg := range f.messages {
		if msg.ThreadID != threadID {
			continue
		}
		if !before.IsZero() && !msg.CreatedAt.Before(before) {
			continue
		}
		all = append(all, msg)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].MsgID < all[j].MsgID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (f *fakeMessageRepo) CountSince(_ context.Context, threadID string, after time.Time) (int64, error) {
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

func (f *fakeMessageRepo) MarkEdited(_ context.Context, msgID int64, content string) error {
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

func (f *fakeMessageRepo) Close() error { return nil }

type reactionKey struct {
	msgID  int64
	userID string
	emoji  string
}

type fakeReactionRepo struct {
	mu        sync.Mutex
	reactions map[reactionKey]*model.Reaction
}

func newFakeReactionRepo() *fakeReactionRepo {
	return &fakeReactionRepo{reactions: make(map[reactionKey]*model.Reaction)}
}

func (f *fakeReactionRepo) Toggle(_ context.Context, msgID int64, userID, emoji string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := reactionKey{msgID, userID, emoji}
	if _, exists := f.reactions[key]; exists {
		delete(f.reactions, key)
		return false, nil
	}
	f.reactions[key] = &model.Reaction{MsgID: msgID, UserID: userID, Emoji: emoji}
	return true, nil
}

func (f *fakeReactionRepo) ListByMessage(_ context.Context, msgID int64) ([]*model.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*model.Reaction
	for key, reaction := range f.reactions {
		if key.msgID == msgID {
			result = append(result, reaction)
		}
	}
	return result, nil
}

func (f *fakeReactionRepo) Close() error { return nil }

type fakePresenceRepo struct {
	mu   sync.Mutex
	rows map[string]*model.Presence
}

func newFakePresenceRepo() *fakePresenceRepo {
	return &fakePresenceRepo{rows: make(map[string]*model.Presence)}
}

func (f *fakePresenceRepo) Upsert(_ context.Context, presence *model.Presence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[presence.UserID] = presence
	return nil
}

func (f *fakePresenceRepo) Get(_ context.Context, userID string) (*model.Presence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[userID], nil
}

func (f *fakePresenceRepo) BatchGet(_ context.Context, userIDs []string) ([]*model.Presence, error) {
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

func (f *fakePresenceRepo) Close() error { return nil }

type fakeNotificationRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   []*model.Notification
}

func newFakeNotificationRepo() *fakeNotificationRepo {
	return &fakeNotificationRepo{}
}

func (f *fakeNotificationRepo) Create(_ context.Context, notification *model.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	notification.ID = f.nextID
	f.rows = append(f.rows, notification)
	return nil
}

func (f *fakeNotificationRepo) ListForUser(_ context.Context, userID string, limit int) ([]*model.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*model.Notification
	for i := len(f.rows) - 1; i >= 0 && len(result) < limit; i-- {
		if f.rows[i].UserID == userID {
			result = append(result, f.rows[i])
		}
	}
	return result, nil
}

func (f *fakeNotificationRepo) MarkRead(_ context.Context, id int64, userID string) error {
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

func (f *fakeNotificationRepo) Close() error { return nil }

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
	teams map[string][]string
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		users: make(map[string]*model.User),
		teams: make(map[string][]string),
	}
}

func (f *fakeUserRepo) addUser(user *model.User, teamIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.UserID] = user
	for _, teamID := range teamIDs {
		f.teams[teamID] = append(f.teams[teamID], user.UserID)
	}
}

func (f *fakeUserRepo) GetUser(_ context.Context, userID string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return user, nil
}

func (f *fakeUserRepo) GetUserByDisplayName(_ context.Context, name string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.DisplayName == name {
			return user, nil
		}
	}
	return nil, nil
}

func (f *fakeUserRepo) GetUserTeamIDs(_ context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []string
	for teamID, members := range f.teams {
		for _, member := range members {
			if member == userID {
				result = append(result, teamID)
				break
			}
		}
	}
	return result, nil
}

func (f *fakeUserRepo) GetTeamMembers(_ context.Context, teamID string) ([]*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*model.User
	for _, userID := range f.teams[teamID] {
		if user, ok := f.users[userID]; ok {
			result = append(result, user)
		}
	}
	return result, nil
}

func (f *fakeUserRepo) Close() error { return nil }

// fakeIDGen 单调递增的 ID 生成器
type fakeIDGen struct {
	mu   sync.Mutex
	next int64
}

func (f *fakeIDGen) Next() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	return f.next
}

// fakePusher 记录推送过的事件
type fakePusher struct {
	mu     sync.Mutex
	pushed []pushedEvent
}

type pushedEvent struct {
	userID string
	event  string
}

func (f *fakePusher) PushToUser(userID string, event string, _ any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, pushedEvent{userID: userID, event: event})
}

func (f *fakePusher) events(userID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []string
	for _, p := range f.pushed {
		if p.userID == userID {
			result = append(result, p.event)
		}
	}
	return result
}
