package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/jinford/textile-rag/internal/core/ingestion"
)

// IndexImagesAction はデータセットの画像をベクトルインデックスへ取り込むコマンドのアクション
func IndexImagesAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := LoadConfig(cmd.String("env"))
	if err != nil {
		return err
	}
	if workers := cmd.Int("workers"); workers > 0 {
		cfg.Ingestion.Workers = int(workers)
	}
	if batchSize := cmd.Int("batch-size"); batchSize > 0 {
		cfg.Ingestion.BatchSize = int(batchSize)
	}
	if cmd.Bool("fail-fast") {
		cfg.Ingestion.FailFast = true
	}

	appCtx, err := NewAppContext(ctx, cfg)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.Container.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("インデックスの初期化に失敗しました: %w", err)
	}

	report, err := appCtx.Container.IngestionService(cmd.String("dataset")).IndexImages(ctx)
	if err != nil {
		return fmt.Errorf("画像の取り込みに失敗しました: %w", err)
	}

	total := int64(-1)
	if count, ok, err := appCtx.Container.IndexedCount(ctx); err != nil {
		appCtx.Logger().Warn("インデックス件数の取得に失敗しました", "error", err)
	} else if ok {
		total = count
	}

	renderReport(os.Stdout, report, total)
	return nil
}

// renderReport は取り込み結果を工芸ごとに表示します。
// total が負の場合はインデックス総件数を表示しません
func renderReport(w io.Writer, report *ingestion.Report, total int64) {
	crafts := make([]string, 0, len(report.Crafts))
	for craft := range report.Crafts {
		crafts = append(crafts, craft)
	}
	sort.Strings(crafts)

	table := tablewriter.NewWriter(w)
	table.Header("Craft", "Indexed")
	for _, craft := range crafts {
		table.Append(craft, fmt.Sprintf("%d", report.Crafts[craft]))
	}
	table.Render()

	fmt.Fprintf(w, "\n✓ %d/%d 件の画像を取り込みました（失敗 %d 件, %s）\n",
		report.Indexed, report.Discovered, report.Failed, report.Duration.Round(time.Millisecond))
	if total >= 0 {
		fmt.Fprintf(w, "  インデックス総件数: %d\n", total)
	}
}
