package tracing

import (
	"context"
	"testing"
)

func TestInit_EmptyEndpoint_ReturnsNoopShutdown(t *testing.T) {
	shutdown, err := Init(context.Background(), "eventgarden-test", "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if shutdown == nil {
		t.Fatal("shutdown should not be nil")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown returned error: %v", err)
	}
}

func TestInit_WithEndpoint_ReturnsShutdown(t *testing.T) {
	// grpc.NewClientは接続を遅延させるため、到達不能なアドレスでも初期化は成功する
	shutdown, err := Init(context.Background(), "eventgarden-test", "127.0.0.1:4317")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// 送信するスパンが無いため、キャンセル済みコンテキストでも停止できる
	_ = shutdown(ctx)
}
