// Command eventgarden はイベント掲載サービスのAPIサーバー・ワーカー・マイグレーションを起動する。
//
//	eventgarden [serve|worker|migrate|healthcheck]
package main

import (
	"log/slog"
	"os"

	"github.com/hitoshi/eventgarden/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		slog.Error("eventgarden exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
