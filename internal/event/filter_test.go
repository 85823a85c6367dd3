package event

import (
	"testing"
	"time"
)

func mustLoadLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Skipf("タイムゾーン %s を読み込めません: %v", name, err)
	}
	return loc
}

func TestBuildQuery_DateRanges(t *testing.T) {
	// 2026-03-12 は木曜日
	now := time.Date(2026, 3, 12, 15, 30, 45, 123, time.UTC)

	tests := []struct {
		name       string
		filterType string
		wantStart  time.Time
		wantEnd    time.Time
	}{
		{
			name:       "today",
			filterType: FilterToday,
			wantStart:  time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC),
			wantEnd:    time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC),
		},
		{
			name:       "currentWeekは月曜始まり",
			filterType: FilterCurrentWeek,
			wantStart:  time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
			wantEnd:    time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC),
		},
		{
			name:       "lastWeekは7日前の週",
			filterType: FilterLastWeek,
			wantStart:  time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
			wantEnd:    time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
		},
		{
			name:       "currentMonth",
			filterType: FilterCurrentMonth,
			wantStart:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:    time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:       "lastMonthは2月（28日）",
			filterType: FilterLastMonth,
			wantStart:  time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := BuildQuery("", tt.filterType, now)
			if q.Scheduled == nil {
				t.Fatal("Scheduled should not be nil")
			}
			if !q.Scheduled.Start.Equal(tt.wantStart) {
				t.Errorf("Start = %v, want %v", q.Scheduled.Start, tt.wantStart)
			}
			if !q.Scheduled.End.Equal(tt.wantEnd) {
				t.Errorf("End = %v, want %v", q.Scheduled.End, tt.wantEnd)
			}
		})
	}
}

func TestBuildQuery_UnknownOrEmptyFilter_NoDateConstraint(t *testing.T) {
	now := time.Date(2026, 3, 12, 15, 0, 0, 0, time.UTC)

	for _, ft := range []string{"", "yesterday", "TODAY", "nextWeek"} {
		q := BuildQuery("", ft, now)
		if q.Scheduled != nil {
			t.Errorf("filterType %q: Scheduled = %+v, want nil", ft, q.Scheduled)
		}
	}
}

func TestBuildQuery_SearchTextIsTrimmed(t *testing.T) {
	now := time.Now()

	q := BuildQuery("  garden  ", "", now)
	if q.TitleContains != "garden" {
		t.Errorf("TitleContains = %q, want %q", q.TitleContains, "garden")
	}

	q = BuildQuery("   ", "", now)
	if q.TitleContains != "" {
		t.Errorf("空白のみの検索語は条件なしになるべきです: %q", q.TitleContains)
	}
}

func TestBuildQuery_LastMonth_YearRollover(t *testing.T) {
	now := time.Date(2027, 1, 15, 9, 0, 0, 0, time.UTC)

	q := BuildQuery("", FilterLastMonth, now)
	wantStart := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	if !q.Scheduled.Start.Equal(wantStart) || !q.Scheduled.End.Equal(wantEnd) {
		t.Errorf("lastMonth = [%v, %v), want [%v, %v)", q.Scheduled.Start, q.Scheduled.End, wantStart, wantEnd)
	}
}

func TestBuildQuery_LastMonth_FromMarch31(t *testing.T) {
	// 月末日から1か月戻しても2月を飛ばさない
	now := time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC)

	q := BuildQuery("", FilterLastMonth, now)
	if q.Scheduled.Start.Month() != time.February {
		t.Errorf("Start month = %v, want February", q.Scheduled.Start.Month())
	}
}

func TestBuildQuery_Week_OnSundayAndMonday(t *testing.T) {
	tests := []struct {
		name      string
		now       time.Time
		wantStart time.Time
	}{
		{
			name:      "日曜日は前の月曜からの週に含まれる",
			now:       time.Date(2026, 3, 15, 23, 59, 59, 0, time.UTC),
			wantStart: time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "月曜日はその日が週の始まり",
			now:       time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := BuildQuery("", FilterCurrentWeek, tt.now)
			if !q.Scheduled.Start.Equal(tt.wantStart) {
				t.Errorf("Start = %v, want %v", q.Scheduled.Start, tt.wantStart)
			}
		})
	}
}

func TestBuildQuery_LastWeekIsCurrentWeekShiftedBySevenDays(t *testing.T) {
	loc := mustLoadLocation(t, "Asia/Dhaka")
	for day := 1; day <= 31; day++ {
		now := time.Date(2026, 5, day, 10, 0, 0, 0, loc)
		cur := BuildQuery("", FilterCurrentWeek, now).Scheduled
		last := BuildQuery("", FilterLastWeek, now).Scheduled

		if !last.Start.Equal(cur.Start.AddDate(0, 0, -7)) || !last.End.Equal(cur.Start) {
			t.Errorf("day %d: lastWeek = [%v, %v), currentWeek starts %v", day, last.Start, last.End, cur.Start)
		}
		if cur.Start.Weekday() != time.Monday {
			t.Errorf("day %d: week starts on %v, want Monday", day, cur.Start.Weekday())
		}
		if !cur.Contains(now) {
			t.Errorf("day %d: currentWeek does not contain now", day)
		}
	}
}

func TestBuildQuery_Today_BoundariesAtStorePrecision(t *testing.T) {
	now := time.Date(2026, 3, 12, 12, 0, 0, 0, time.UTC)
	r := BuildQuery("", FilterToday, now).Scheduled

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{name: "開始時刻ちょうど", at: time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC), want: true},
		{name: "終了直前（マイクロ秒精度）", at: time.Date(2026, 3, 12, 23, 59, 59, 999999000, time.UTC), want: true},
		{name: "翌日0時", at: time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC), want: false},
		{name: "前日", at: time.Date(2026, 3, 11, 23, 59, 59, 0, time.UTC), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Contains(tt.at); got != tt.want {
				t.Errorf("Contains(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestBuildQuery_UsesNowLocation(t *testing.T) {
	loc := mustLoadLocation(t, "Asia/Tokyo")
	// UTCでは前日だがJSTでは3月12日
	now := time.Date(2026, 3, 11, 20, 0, 0, 0, time.UTC).In(loc)

	r := BuildQuery("", FilterToday, now).Scheduled
	want := time.Date(2026, 3, 12, 0, 0, 0, 0, loc)
	if !r.Start.Equal(want) {
		t.Errorf("Start = %v, want %v", r.Start, want)
	}
}
