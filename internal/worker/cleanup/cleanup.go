// Package cleanup は期限切れのバックエンドセッションの削除ジョブを提供する。
// auth_sessionsのうちexpires_atを過ぎた行を定期的に削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SessionPurger は期限切れセッションを削除し、削除件数を返す。
// repository.PostgresAuthSessionRepoが実装する。
type SessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CleanupJob は期限切れセッションの削除ジョブ。
// 冪等な削除処理のため、複数のワーカーから同時に実行しても問題ない。
type CleanupJob struct {
	sessions SessionPurger
	logger   *slog.Logger
	Interval time.Duration // 実行間隔（デフォルト: 1時間）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(sessions SessionPurger, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		sessions: sessions,
		logger:   logger,
		Interval: time.Hour,
	}
}

// Run は期限切れセッションを1回削除する。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deleted, err := j.sessions.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("failed to purge expired auth sessions",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("session cleanup failed: %w", err)
	}

	j.logger.Info("expired auth sessions purged",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、以降Intervalごとに実行する。ctxがキャンセルされるまでブロックする。
// 個々の実行の失敗はログに記録して継続する。
func (j *CleanupJob) Start(ctx context.Context) {
	interval := j.Interval
	if interval <= 0 {
		interval = time.Hour
	}

	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("cleanup job stopped")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
