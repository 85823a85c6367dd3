package model

import "time"

// Event は主催者が作成するイベントを表す。
// HostEmail / HostNameは作成時点の主催者情報の複製で、以後は同期しない。
type Event struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Location      string    `json:"location"`
	HostEmail     string    `json:"hostEmail"`
	HostName      string    `json:"hostName"`
	ScheduledAt   time.Time `json:"scheduledAt"`
	AttendeeCount int       `json:"attendeeCount"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"-"`
}

// IsHostedBy は指定メールアドレスのユーザーが主催者かを返す。
func (e *Event) IsHostedBy(email string) bool {
	return e.HostEmail == email
}

// DateRange は半開区間 [Start, End) の日時範囲。
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains はtが範囲内にあるかを返す。
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// EventQuery はイベント一覧取得の検索条件。
// 空のTitleContainsとnilのScheduledは条件なしを意味する。
// 結果は常にcreated_atの降順で返す。
type EventQuery struct {
	TitleContains string
	Scheduled     *DateRange
}
