package service

import (
	"context"
	"testing"
	"time"

	"github.com/recruitflow/relay/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type threadFixture struct {
	threads  *fakeThreadRepo
	messages *fakeMessageRepo
	users    *fakeUserRepo
	presence *fakePresenceRepo
	svc      *ThreadService
}

func newThreadFixture(t *testing.T) *threadFixture {
	t.Helper()

	threads := newFakeThreadRepo()
	messages := newFakeMessageRepo()
	users := newFakeUserRepo()
	presence := newFakePresenceRepo()

	users.addUser(&model.User{UserID: "alice", DisplayName: "Alice", Role: "recruiter"}, "team_1")
	users.addUser(&model.User{UserID: "bob", DisplayName: "Bob", Role: "sourcer"}, "team_1")

	resolver := NewMembershipResolver(threads, users, nil, nil)
	presenceSvc := NewPresenceService(presence, nil)
	svc := NewThreadService(threads, messages, users, resolver, presenceSvc, nil)

	return &threadFixture{
		threads:  threads,
		messages: messages,
		users:    users,
		presence: presence,
		svc:      svc,
	}
}

func TestThreadService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("创建者自动成为 owner", func(t *testing.T) {
		f := newThreadFixture(t)

		thread, err := f.svc.Create(ctx, "alice", CreateThreadParams{
			Name:      "Frontend Hiring",
			Type:      model.ThreadTypeGeneral,
			MemberIDs: []string{"bob"},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, thread.ThreadID)

		owner, err := f.threads.GetMember(ctx, thread.ThreadID, "alice")
		require.NoError(t, err)
		assert.Equal(t, "owner", owner.Role)

		member, err := f.threads.GetMember(ctx, thread.ThreadID, "bob")
		require.NoError(t, err)
		assert.Equal(t, "member", member.Role)
	})

	t.Run("空名称返回 InvalidArgument", func(t *testing.T) {
		f := newThreadFixture(t)

		_, err := f.svc.Create(ctx, "alice", CreateThreadParams{})
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("类型和优先级有默认值", func(t *testing.T) {
		f := newThreadFixture(t)

		thread, err := f.svc.Create(ctx, "alice", CreateThreadParams{Name: "Defaults"})
		require.NoError(t, err)
		assert.Equal(t, model.ThreadTypeGeneral, thread.Type)
		assert.Equal(t, "normal", thread.Priority)
	})
}

func TestThreadService_ListForUser(t *testing.T) {
	ctx := context.Background()

	t.Run("附带最近消息和未读计数", func(t *testing.T) {
		f := newThreadFixture(t)

		thread, err := f.svc.Create(ctx, "alice", CreateThreadParams{Name: "Pipeline", MemberIDs: []string{"bob"}})
		require.NoError(t, err)

		base := time.Now().Add(-time.Hour)
		for i := 1; i <= 3; i++ {
			require.NoError(t, f.messages.SaveMessage(ctx, &model.Message{
				MsgID:     int64(i),
				ThreadID:  thread.ThreadID,
				SenderID:  "alice",
				Content:   "update",
				CreatedAt: base.Add(time.Duration(i) * time.Minute),
			}))
		}

		// bob 读到第 2 条
		require.NoError(t, f.svc.MarkRead(ctx, "bob", thread.ThreadID))
		member, err := f.threads.GetMember(ctx, thread.ThreadID, "bob")
		require.NoError(t, err)
		readAt := base.Add(2 * time.Minute)
		member.LastReadAt = &readAt

		summaries, err := f.svc.ListForUser(ctx, "bob")
		require.NoError(t, err)
		require.Len(t, summaries, 1)
		assert.Len(t, summaries[0].RecentMessages, 3)
		assert.Equal(t, int64(1), summaries[0].UnreadCount)
	})

	t.Run("从未读过时全部计未读", func(t *testing.T) {
		f := newThreadFixture(t)

		thread, err := f.svc.Create(ctx, "alice", CreateThreadParams{Name: "Backlog", MemberIDs: []string{"bob"}})
		require.NoError(t, err)

		base := time.Now().Add(-time.Hour)
		for i := 1; i <= 3; i++ {
			require.NoError(t, f.messages.SaveMessage(ctx, &model.Message{
				MsgID:     int64(i),
				ThreadID:  thread.ThreadID,
				SenderID:  "alice",
				Content:   "update",
				CreatedAt: base.Add(time.Duration(i) * time.Minute),
			}))
		}

		// bob 从未标记已读，last_read_at 保持空
		member, err := f.threads.GetMember(ctx, thread.ThreadID, "bob")
		require.NoError(t, err)
		require.Nil(t, member.LastReadAt)

		summaries, err := f.svc.ListForUser(ctx, "bob")
		require.NoError(t, err)
		require.Len(t, summaries, 1)
		assert.Equal(t, int64(3), summaries[0].UnreadCount)
	})

	t.Run("不可见的讨论组不出现", func(t *testing.T) {
		f := newThreadFixture(t)

		_, err := f.svc.Create(ctx, "alice", CreateThreadParams{Name: "Private"})
		require.NoError(t, err)

		summaries, err := f.svc.ListForUser(ctx, "bob")
		require.NoError(t, err)
		assert.Empty(t, summaries)
	})
}

func TestThreadService_JoinLeave(t *testing.T) {
	ctx := context.Background()

	t.Run("加入退出幂等", func(t *testing.T) {
		f := newThreadFixture(t)

		thread, err := f.svc.Create(ctx, "alice", CreateThreadParams{Name: "Open"})
		require.NoError(t, err)

		require.NoError(t, f.svc.Join(ctx, "bob", thread.ThreadID))
		require.NoError(t, f.svc.Join(ctx, "bob", thread.ThreadID))

		members, err := f.threads.GetMembers(ctx, thread.ThreadID)
		require.NoError(t, err)
		assert.Len(t, members, 2)

		require.NoError(t, f.svc.Leave(ctx, "bob", thread.ThreadID))
		require.NoError(t, f.svc.Leave(ctx, "bob", thread.ThreadID))

		members, err = f.threads.GetMembers(ctx, thread.ThreadID)
		require.NoError(t, err)
		assert.Len(t, members, 1)
	})

	t.Run("归档的讨论组不可加入", func(t *testing.T) {
		f := newThreadFixture(t)

		thread, err := f.svc.Create(ctx, "alice", CreateThreadParams{Name: "Done"})
		require.NoError(t, err)
		require.NoError(t, f.threads.ArchiveThread(ctx, thread.ThreadID))

		err = f.svc.Join(ctx, "bob", thread.ThreadID)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("加入不存在的讨论组返回 NotFound", func(t *testing.T) {
		f := newThreadFixture(t)

		err := f.svc.Join(ctx, "bob", "ghost")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestThreadService_Archive(t *testing.T) {
	ctx := context.Background()

	t.Run("owner 可以归档", func(t *testing.T) {
		f := newThreadFixture(t)

		thread, err := f.svc.Create(ctx, "alice", CreateThreadParams{Name: "Closed Req", MemberIDs: []string{"bob"}})
		require.NoError(t, err)

		require.NoError(t, f.svc.Archive(ctx, "alice", thread.ThreadID))

		archived, err := f.threads.GetThread(ctx, thread.ThreadID)
		require.NoError(t, err)
		assert.True(t, archived.Archived)
	})

	t.Run("普通成员归档返回 Forbidden", func(t *testing.T) {
		f := newThreadFixture(t)

		thread, err := f.svc.Create(ctx, "alice", CreateThreadParams{Name: "Closed Req", MemberIDs: []string{"bob"}})
		require.NoError(t, err)

		err = f.svc.Archive(ctx, "bob", thread.ThreadID)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("非成员归档返回 Forbidden", func(t *testing.T) {
		f := newThreadFixture(t)

		thread, err := f.svc.Create(ctx, "alice", CreateThreadParams{Name: "Closed Req"})
		require.NoError(t, err)

		err = f.svc.Archive(ctx, "bob", thread.ThreadID)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("归档不存在的讨论组返回 NotFound", func(t *testing.T) {
		f := newThreadFixture(t)

		err := f.svc.Archive(ctx, "alice", "ghost")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestThreadService_TeamMembers(t *testing.T) {
	ctx := context.Background()

	t.Run("返回团队成员及展示状态", func(t *testing.T) {
		f := newThreadFixture(t)

		require.NoError(t, f.presence.Upsert(ctx, &model.Presence{
			UserID:   "bob",
			Status:   model.StatusBusy,
			Activity: "sourcing",
			LastSeen: time.Now(),
		}))

		members, err := f.svc.TeamMembers(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, members, 2)

		byID := make(map[string]*MemberPresence)
		for _, m := range members {
			byID[m.User.UserID] = m
		}
		assert.Equal(t, model.StatusBusy, byID["bob"].Status)
		assert.Equal(t, "sourcing", byID["bob"].Activity)
		// alice 没有状态行，视为离线
		assert.Equal(t, model.StatusOffline, byID["alice"].Status)
	})
}

func TestNotificationDispatcher(t *testing.T) {
	ctx := context.Background()

	t.Run("落库并推送在线用户", func(t *testing.T) {
		repo := newFakeNotificationRepo()
		dispatcher := NewNotificationDispatcher(repo, nil)
		pusher := &fakePusher{}
		dispatcher.SetPusher(pusher)

		notification, err := dispatcher.Notify(ctx, "bob", NotifyTypeTaskAssigned,
			"New task", "Screen candidate X", map[string]any{"task_id": "t1"})
		require.NoError(t, err)
		assert.NotZero(t, notification.ID)

		assert.Equal(t, []string{"notification"}, pusher.events("bob"))

		rows, err := repo.ListForUser(ctx, "bob", 10)
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})

	t.Run("无推送实现时仅落库", func(t *testing.T) {
		repo := newFakeNotificationRepo()
		dispatcher := NewNotificationDispatcher(repo, nil)

		_, err := dispatcher.Notify(ctx, "bob", NotifyTypeSystem, "t", "c", nil)
		require.NoError(t, err)
	})

	t.Run("他人的通知不能标记已读", func(t *testing.T) {
		repo := newFakeNotificationRepo()
		dispatcher := NewNotificationDispatcher(repo, nil)

		notification, err := dispatcher.Notify(ctx, "bob", NotifyTypeSystem, "t", "c", nil)
		require.NoError(t, err)

		err = dispatcher.MarkRead(ctx, notification.ID, "alice")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, dispatcher.MarkRead(ctx, notification.ID, "bob"))
	})
}
