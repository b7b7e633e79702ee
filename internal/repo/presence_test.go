package repo

import (
	"context"
	"testing"
	"time"

	"github.com/ceyewan/genesis/cache"
	"github.com/recruitflow/relay/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceRepo_Upsert(t *testing.T) {
	database, cleanup := setupTestContext(t)
	defer cleanup()

	repo, err := NewPresenceRepo(database, WithPresenceRepoLogger(getTestLogger(t)))
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()

	t.Run("首次写入创建状态行", func(t *testing.T) {
		err := repo.Upsert(ctx, &model.Presence{
			UserID:   "user001",
			Status:   model.StatusOnline,
			LastSeen: time.Now(),
		})
		require.NoError(t, err)

		got, err := repo.Get(ctx, "user001")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, model.StatusOnline, got.Status)
	})

	t.Run("重复写入更新而非新增", func(t *testing.T) {
		for _, status := range []string{model.StatusAway, model.StatusBusy, model.StatusOnline} {
			err := repo.Upsert(ctx, &model.Presence{
				UserID:   "user002",
				Status:   status,
				Activity: "screening candidates",
				LastSeen: time.Now(),
			})
			require.NoError(t, err)
		}

		got, err := repo.Get(ctx, "user002")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, model.StatusOnline, got.Status)
		assert.Equal(t, "screening candidates", got.Activity)

		// 每用户始终只有一行
		var count int64
		gormDB := database.DB(ctx)
		require.NoError(t, gormDB.Model(&model.Presence{}).Where("user_id = ?", "user002").Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("空用户ID应失败", func(t *testing.T) {
		err := repo.Upsert(ctx, &model.Presence{Status: model.StatusOnline})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "user_id cannot be empty")
	})
}

func TestPresenceRepo_Get(t *testing.T) {
	database, cleanup := setupTestContext(t)
	defer cleanup()

	repo, err := NewPresenceRepo(database, WithPresenceRepoLogger(getTestLogger(t)))
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()

	t.Run("不存在的用户返回 nil 而非错误", func(t *testing.T) {
		got, err := repo.Get(ctx, "ghost")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("批量获取只返回存在的行", func(t *testing.T) {
		require.NoError(t, repo.Upsert(ctx, &model.Presence{UserID: "batch_a", Status: model.StatusOnline, LastSeen: time.Now()}))
		require.NoError(t, repo.Upsert(ctx, &model.Presence{UserID: "batch_b", Status: model.StatusAway, LastSeen: time.Now()}))

		got, err := repo.BatchGet(ctx, []string{"batch_a", "batch_b", "batch_missing"})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("空ID列表返回空", func(t *testing.T) {
		got, err := repo.BatchGet(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestPresenceRepo_WithCache(t *testing.T) {
	database, cleanup := setupTestContext(t)
	defer cleanup()

	redisConn := getTestRedis(t)
	defer cleanupRedisData(t, redisConn)

	presenceCache, err := cache.New(&cache.Config{
		Driver:     cache.DriverRedis,
		Prefix:     "relay:",
		Serializer: "json",
	}, cache.WithRedisConnector(redisConn), cache.WithLogger(getTestLogger(t)))
	require.NoError(t, err)
	defer presenceCache.Close()

	repo, err := NewPresenceRepo(database,
		WithPresenceRepoLogger(getTestLogger(t)),
		WithPresenceRepoCache(presenceCache))
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()

	t.Run("写入后读取命中缓存", func(t *testing.T) {
		require.NoError(t, repo.Upsert(ctx, &model.Presence{
			UserID:   "cached_user",
			Status:   model.StatusBusy,
			LastSeen: time.Now(),
		}))

		var cached model.Presence
		err := presenceCache.Get(ctx, "presence:cached_user", &cached)
		require.NoError(t, err)
		assert.Equal(t, model.StatusBusy, cached.Status)

		got, err := repo.Get(ctx, "cached_user")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, model.StatusBusy, got.Status)
	})
}
