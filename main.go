package main

import (
	"embed"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"micscribe/internal/config"
	"micscribe/internal/observability"
)

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	// Configuration errors are reported by the app once the window is up.
	cfg, _ := config.Load()
	observability.InitLogger(cfg.Log.Level, cfg.Log.Pretty)
	logger := observability.GetLogger()

	app := NewApp()

	err := wails.Run(&options.App{
		Title:     "micscribe",
		Width:     760,
		Height:    560,
		MinWidth:  480,
		MinHeight: 360,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		OnStartup:  app.startup,
		OnShutdown: app.shutdown,
		Bind: []interface{}{
			app,
		},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("wails exited")
	}
}
