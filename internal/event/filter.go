package event

import (
	"strings"
	"time"

	"github.com/hitoshi/eventgarden/internal/model"
)

// 日付範囲フィルタの種類
const (
	FilterToday        = "today"
	FilterCurrentWeek  = "currentWeek"
	FilterLastWeek     = "lastWeek"
	FilterCurrentMonth = "currentMonth"
	FilterLastMonth    = "lastMonth"
)

// BuildQuery は検索語と日付範囲フィルタをイベント検索条件に変換する。
// 日付範囲はnowのロケーションで計算する。未知または空のfilterTypeは日付条件なしとなる。
func BuildQuery(searchText, filterType string, now time.Time) model.EventQuery {
	return model.EventQuery{
		TitleContains: strings.TrimSpace(searchText),
		Scheduled:     dateRange(filterType, now),
	}
}

// dateRange はfilterTypeに対応する半開区間 [Start, End) を返す。
func dateRange(filterType string, now time.Time) *model.DateRange {
	today := startOfDay(now)

	switch filterType {
	case FilterToday:
		return &model.DateRange{Start: today, End: today.AddDate(0, 0, 1)}

	case FilterCurrentWeek, FilterLastWeek:
		// 週は月曜始まり
		monday := today.AddDate(0, 0, -((int(now.Weekday()) + 6) % 7))
		if filterType == FilterLastWeek {
			monday = monday.AddDate(0, 0, -7)
		}
		return &model.DateRange{Start: monday, End: monday.AddDate(0, 0, 7)}

	case FilterCurrentMonth:
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return &model.DateRange{Start: first, End: first.AddDate(0, 1, 0)}

	case FilterLastMonth:
		// time.Dateが月0を前年12月に正規化する
		first := time.Date(now.Year(), now.Month()-1, 1, 0, 0, 0, 0, now.Location())
		return &model.DateRange{Start: first, End: first.AddDate(0, 1, 0)}

	default:
		return nil
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
