package commands

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/jinford/textile-rag/internal/interface/httpapi"
)

// ServerStartAction はHTTPサーバを起動するコマンドのアクション
func ServerStartAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := LoadConfig(cmd.String("env"))
	if err != nil {
		return err
	}
	if port := cmd.Int("port"); port > 0 {
		cfg.Server.Port = int(port)
	}
	// 生成用 API キーが無い場合は起動前に失敗させる
	if err := cfg.RequireGeneration(); err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, cfg)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	generator, err := appCtx.Container.Generation()
	if err != nil {
		return err
	}

	server := httpapi.NewServer(
		cfg.Server,
		appCtx.Container.RetrievalService,
		generator,
		httpapi.WithServerLogger(appCtx.Logger()),
	)

	return server.Start(ctx)
}
