package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/jinford/textile-rag/cmd/textile-rag/commands"
)

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
}

func kFlag() cli.Flag {
	return &cli.IntFlag{
		Name:  "k",
		Usage: "取得件数（省略時は RETRIEVAL_DEFAULT_K）",
	}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "json",
		Usage: "/retrieve と同じ JSON 形式で出力",
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "textile-rag",
		Usage: "伝統織物の画像検索・画像生成バックエンド",
		Commands: []*cli.Command{
			{
				Name:  "server",
				Usage: "サーバ関連コマンド",
				Commands: []*cli.Command{
					{
						Name:  "start",
						Usage: "HTTPサーバを起動（/retrieve, /generate）",
						Flags: []cli.Flag{
							envFlag(),
							&cli.IntFlag{
								Name:  "port",
								Usage: "HTTPポート（省略時は SERVER_PORT またはデフォルトの8000）",
							},
						},
						Action: commands.ServerStartAction,
					},
				},
			},
			{
				Name:  "search",
				Usage: "類似画像検索コマンド",
				Commands: []*cli.Command{
					{
						Name:  "text",
						Usage: "テキストクエリで検索",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:     "query",
								Usage:    "検索クエリ（例: \"Gond art\"）",
								Required: true,
							},
							kFlag(),
							jsonFlag(),
						},
						Action: commands.SearchTextAction,
					},
					{
						Name:  "image",
						Usage: "画像ファイルで検索",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:     "image",
								Usage:    "クエリ画像のパス（jpg/jpeg/png/webp）",
								Required: true,
							},
							kFlag(),
							jsonFlag(),
						},
						Action: commands.SearchImageAction,
					},
				},
			},
			{
				Name:  "index",
				Usage: "インデックス管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "images",
						Usage: "データセットの画像をインデックス化（<dataset>/<craft>/<image>）",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:  "dataset",
								Usage: "データセットディレクトリ（省略時は DATASET_DIR）",
							},
							&cli.IntFlag{
								Name:  "workers",
								Usage: "Embedding の並列数（省略時は INGEST_WORKERS）",
							},
							&cli.IntFlag{
								Name:  "batch-size",
								Usage: "upsert のバッチサイズ（省略時は INGEST_BATCH_SIZE）",
							},
							&cli.BoolFlag{
								Name:  "fail-fast",
								Usage: "Embedding に失敗した時点で中断する",
							},
						},
						Action: commands.IndexImagesAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
