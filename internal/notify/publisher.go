// Package notify はイベント参加状態の変化をドメインイベントとして配信する。
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// 配信サブジェクト
const (
	SubjectJoined = "event.joined"
	SubjectLeft   = "event.left"
)

// MembershipEvent は参加・離脱が実際に状態を変えたときに配信するメッセージ。
type MembershipEvent struct {
	Type       string    `json:"event_type"`
	EventID    string    `json:"event_id"`
	UserID     string    `json:"user_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher はMembershipEventを配信する。
type Publisher interface {
	Publish(ctx context.Context, ev MembershipEvent) error
}

// NopPublisher は何も配信しないPublisher。NATS_URL未設定時に使用する。
type NopPublisher struct{}

// Publish は何もしない。
func (NopPublisher) Publish(context.Context, MembershipEvent) error { return nil }

// NATSPublisher はNATSへMembershipEventを配信する。
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher はNATSサーバーへ接続してNATSPublisherを生成する。
func NewNATSPublisher(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("eventgarden"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &NATSPublisher{conn: nc}, nil
}

// Publish はev.Typeをサブジェクトとしてメッセージを配信する。
// 配信はNATSクライアントのバッファに積まれた時点で完了とみなす。
func (p *NATSPublisher) Publish(_ context.Context, ev MembershipEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal membership event: %w", err)
	}
	if err := p.conn.Publish(ev.Type, payload); err != nil {
		return fmt.Errorf("failed to publish %s: %w", ev.Type, err)
	}
	return nil
}

// Close は未送信メッセージを送り切ってから接続を閉じる。
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
