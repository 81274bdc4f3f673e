package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/jinford/textile-rag/internal/core/retrieval"
	"github.com/jinford/textile-rag/internal/infra/dataset"
)

// SearchTextAction はテキストクエリで類似画像を検索するコマンドのアクション
func SearchTextAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := LoadConfig(cmd.String("env"))
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, cfg)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	query := cmd.String("query")
	result, err := appCtx.Container.RetrievalService.Retrieve(ctx, query, int(cmd.Int("k")))
	if err != nil {
		return fmt.Errorf("検索に失敗しました: %w", err)
	}

	return printResult(os.Stdout, result, cmd.Bool("json"))
}

// SearchImageAction は画像ファイルで類似画像を検索するコマンドのアクション
func SearchImageAction(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("image")
	mimeType, ok := dataset.MIMEType(path)
	if !ok {
		return fmt.Errorf("unsupported image extension: %s", path)
	}

	image, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("画像の読み込みに失敗しました: %w", err)
	}

	cfg, err := LoadConfig(cmd.String("env"))
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, cfg)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	result, err := appCtx.Container.RetrievalService.RetrieveByImage(ctx, image, mimeType, int(cmd.Int("k")))
	if err != nil {
		return fmt.Errorf("検索に失敗しました: %w", err)
	}

	return printResult(os.Stdout, result, cmd.Bool("json"))
}

func printResult(w io.Writer, result *retrieval.Result, asJSON bool) error {
	if asJSON {
		return writeResultJSON(w, result)
	}
	renderResultTable(w, result)
	return nil
}

// writeResultJSON は /retrieve と同じ形式で結果を出力します
func writeResultJSON(w io.Writer, result *retrieval.Result) error {
	items := result.Items
	if items == nil {
		items = []retrieval.Item{}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(retrieval.Result{Items: items})
}

// renderResultTable はテーブル形式で検索結果を表示します
func renderResultTable(w io.Writer, result *retrieval.Result) {
	if len(result.Items) == 0 {
		fmt.Fprintln(w, "該当する画像はありません")
		return
	}

	table := tablewriter.NewWriter(w)
	table.Header("Rank", "ID", "Craft", "Path", "Score")
	for i, item := range result.Items {
		table.Append(
			strconv.Itoa(i+1),
			item.ID,
			item.Craft,
			item.Path,
			strconv.FormatFloat(item.Score, 'f', 4, 64),
		)
	}
	table.Render()
}
