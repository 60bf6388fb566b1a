// Package reconcile は残高と取引台帳の整合性検査ジョブを提供する。
// 各アカウントのcreditsカラムと取引amount合計を突き合わせ、
// 不一致を検出した場合はログとメトリクスで報告する。
// 検出のみを行い、自動補正は行わない。
package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/productica/creditd/internal/metrics"
	"github.com/productica/creditd/internal/repository"
)

// Job は台帳整合性検査のバックグラウンドジョブ。
// 定期実行のバッチジョブとして設計されており、読み取りのみで副作用を持たない。
type Job struct {
	accounts       repository.AccountRepository
	transactions   repository.TransactionRepository
	metrics        metrics.MetricsCollector
	logger         *slog.Logger
	maxConcurrency int
}

// NewJob はJobの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値10を使用する。
func NewJob(
	accounts repository.AccountRepository,
	transactions repository.TransactionRepository,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	maxConcurrency int,
) *Job {
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	return &Job{
		accounts:       accounts,
		transactions:   transactions,
		metrics:        collector,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start は指定間隔のティッカーで整合性検査を起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("台帳整合性検査を開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", j.maxConcurrency),
	)

	// 起動直後に1回実行
	if err := j.RunOnce(ctx); err != nil {
		j.logger.Error("整合性検査サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("台帳整合性検査を停止しました")
			return
		case <-ticker.C:
			if err := j.RunOnce(ctx); err != nil {
				j.logger.Error("整合性検査サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は全アカウントを1回走査し、残高と台帳合計の不一致を報告する。
// semaphoreパターンで最大並列数を制御する。走査中の個別アカウントの
// 読み取り失敗はログに記録してスキップし、サイクル全体は中断しない。
func (j *Job) RunOnce(ctx context.Context) error {
	start := time.Now()

	ids, err := j.accounts.ListIDs(ctx)
	if err != nil {
		return err
	}

	if len(ids) == 0 {
		j.logger.Info("検査対象のアカウントはありません")
		if j.metrics != nil {
			j.metrics.RecordLedgerDrift(0)
		}
		return nil
	}

	sem := make(chan struct{}, j.maxConcurrency)
	var wg sync.WaitGroup

	var mu sync.Mutex
	driftCount := 0

	for _, id := range ids {
		wg.Add(1)
		sem <- struct{}{}

		go func(accountID string) {
			defer wg.Done()
			defer func() { <-sem }()

			drifted, err := j.checkAccount(ctx, accountID)
			if err != nil {
				j.logger.Error("アカウントの整合性検査に失敗しました",
					slog.String("account_id", accountID),
					slog.String("error", err.Error()),
				)
				return
			}
			if drifted {
				mu.Lock()
				driftCount++
				mu.Unlock()
			}
		}(id)
	}

	wg.Wait()

	if j.metrics != nil {
		j.metrics.RecordLedgerDrift(driftCount)
	}

	duration := time.Since(start)
	j.logger.Info("整合性検査サイクルが完了しました",
		slog.Int("account_count", len(ids)),
		slog.Int("drift_count", driftCount),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// checkAccount は1アカウントの残高と取引合計を比較する。
// 取引を持たない残高0のアカウントは整合として扱う。
func (j *Job) checkAccount(ctx context.Context, accountID string) (bool, error) {
	account, err := j.accounts.FindByID(ctx, accountID)
	if err != nil {
		return false, err
	}
	if account == nil {
		// 走査開始後に削除されたアカウントはスキップ
		return false, nil
	}

	sum, err := j.transactions.SumByAccountID(ctx, accountID)
	if err != nil {
		return false, err
	}

	if account.Credits != sum {
		j.logger.Warn("残高と台帳合計の不一致を検出しました",
			slog.String("account_id", accountID),
			slog.Int("credits", account.Credits),
			slog.Int("ledger_sum", sum),
			slog.Int("delta", account.Credits-sum),
		)
		return true, nil
	}

	return false, nil
}
