// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// JoinedEventsは集合として扱い、重複を持たない。
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PhotoURL     string    `json:"photoUrl"`
	PasswordHash string    `json:"-"`
	JoinedEvents []string  `json:"joinedEvents"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"-"`
}

// HasJoined はユーザーの参加集合にeventIDが含まれるかを返す。
func (u *User) HasJoined(eventID string) bool {
	for _, id := range u.JoinedEvents {
		if id == eventID {
			return true
		}
	}
	return false
}

// Identity はセッショントークンに埋め込まれる本人情報。
// サーバー側には保存しない。
type Identity struct {
	UserID    string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	PhotoURL  string    `json:"photoUrl"`
	TokenID   string    `json:"-"`
	ExpiresAt time.Time `json:"-"`
}
