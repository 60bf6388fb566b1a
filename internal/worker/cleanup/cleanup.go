// Package cleanup は期限切れセッションの自動削除ジョブを提供する。
// expires_atを超過したセッション行を日次バッチで削除する。
// 期限切れセッションは読み取り時点で無効扱いされるため、
// このジョブはテーブル肥大化の抑制だけを責務とする。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CleanupJob は期限切れセッションの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	db         Executor
	logger     *slog.Logger
	GraceHours int // 期限超過からの猶予時間（デフォルト: 24）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの猶予時間は24時間。期限切れ直後の行を残すのは
// 直近のログアウト調査でセッションIDを突き合わせられるようにするため。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:         db,
		logger:     logger,
		GraceHours: 24,
	}
}

// Run は期限切れセッションを削除する。
// expires_atがGraceHours時間前より古いセッションをDELETEする。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d hours", j.GraceHours)

	query := `DELETE FROM sessions WHERE expires_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("grace_hours", j.GraceHours),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("grace_hours", j.GraceHours),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
