package tool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newCheckinTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&CheckinRecord{}))
	return db
}

func newCheckinTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"user_id": 42})
	}))
}

func fixedNow() time.Time {
	return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
}

func newTestCheckinTool(t *testing.T, server *httptest.Server) *LinuxDoCheckinTool {
	t.Helper()
	return &LinuxDoCheckinTool{
		client: newTestLinuxDoClient(server),
		db:     newCheckinTestDB(t),
		now:    fixedNow,
	}
}

func seedCheckins(t *testing.T, db *gorm.DB, userID int, dates map[string]int) {
	t.Helper()
	for date, points := range dates {
		require.NoError(t, db.Create(&CheckinRecord{UserID: userID, Date: date, Points: points}).Error)
	}
}

func findVariable(messages []Message, name string) interface{} {
	for _, m := range messages {
		if m.Type == "variable" && m.Name == name {
			return m.Value
		}
	}
	return nil
}

func TestCheckinCreatesRecord(t *testing.T) {
	server := newCheckinTestServer(t)
	defer server.Close()

	tool := newTestCheckinTool(t, server)
	messages, err := tool.Invoke(context.Background(), Params{"action_type": "checkin"})
	require.NoError(t, err)

	var record CheckinRecord
	require.NoError(t, tool.db.Where("user_id = ? AND date = ?", 42, "2025-06-15").First(&record).Error)
	assert.Equal(t, 5, record.Points) // no prior streak, base points only

	result := findVariable(messages, "checkin_result").(map[string]interface{})
	assert.Equal(t, true, result["success"])
	assert.Equal(t, 5, result["points_earned"])
}

func TestCheckinTwiceSameDay(t *testing.T) {
	server := newCheckinTestServer(t)
	defer server.Close()

	tool := newTestCheckinTool(t, server)
	_, err := tool.Invoke(context.Background(), Params{"action_type": "checkin"})
	require.NoError(t, err)

	messages, err := tool.Invoke(context.Background(), Params{"action_type": "checkin"})
	require.NoError(t, err)

	result := findVariable(messages, "checkin_result").(map[string]interface{})
	assert.Equal(t, true, result["already_checked"])
	assert.Equal(t, 0, result["points_earned"])

	var count int64
	tool.db.Model(&CheckinRecord{}).Where("user_id = ?", 42).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestCheckinStreakBonus(t *testing.T) {
	server := newCheckinTestServer(t)
	defer server.Close()

	tool := newTestCheckinTool(t, server)
	seedCheckins(t, tool.db, 42, map[string]int{
		"2025-06-12": 5,
		"2025-06-13": 6,
		"2025-06-14": 7,
	})

	_, err := tool.Invoke(context.Background(), Params{"action_type": "checkin"})
	require.NoError(t, err)

	var record CheckinRecord
	require.NoError(t, tool.db.Where("user_id = ? AND date = ?", 42, "2025-06-15").First(&record).Error)
	assert.Equal(t, 8, record.Points) // base 5 + streak of 3
}

func TestLedgerStreaks(t *testing.T) {
	server := newCheckinTestServer(t)
	defer server.Close()

	tests := []struct {
		name        string
		dates       []string
		wantCurrent int
		wantLongest int
	}{
		{
			name:        "empty ledger",
			dates:       nil,
			wantCurrent: 0,
			wantLongest: 0,
		},
		{
			name:        "run ending today",
			dates:       []string{"2025-06-13", "2025-06-14", "2025-06-15"},
			wantCurrent: 3,
			wantLongest: 3,
		},
		{
			name:        "run ending yesterday still counts",
			dates:       []string{"2025-06-13", "2025-06-14"},
			wantCurrent: 2,
			wantLongest: 2,
		},
		{
			name:        "stale run does not count as current",
			dates:       []string{"2025-06-10", "2025-06-11", "2025-06-12"},
			wantCurrent: 0,
			wantLongest: 3,
		},
		{
			name:        "longest run in the past",
			dates:       []string{"2025-06-01", "2025-06-02", "2025-06-03", "2025-06-04", "2025-06-15"},
			wantCurrent: 1,
			wantLongest: 4,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := newTestCheckinTool(t, server)
			for _, date := range tc.dates {
				require.NoError(t, tool.db.Create(&CheckinRecord{UserID: 42, Date: date, Points: 5}).Error)
			}

			current, longest, err := tool.ledgerStreaks(42)
			require.NoError(t, err)
			assert.Equal(t, tc.wantCurrent, current, "current streak")
			assert.Equal(t, tc.wantLongest, longest, "longest streak")
		})
	}
}

func TestCheckinStreakEastOfUTC(t *testing.T) {
	server := newCheckinTestServer(t)
	defer server.Close()

	// 02:00 local in UTC+8 is still the previous day in UTC; streaks must
	// follow the local calendar date the check-in was stored under.
	tool := newTestCheckinTool(t, server)
	tool.now = func() time.Time {
		return time.Date(2025, 6, 15, 2, 0, 0, 0, time.FixedZone("UTC+8", 8*3600))
	}
	seedCheckins(t, tool.db, 42, map[string]int{"2025-06-14": 5})

	_, err := tool.Invoke(context.Background(), Params{"action_type": "checkin"})
	require.NoError(t, err)

	var record CheckinRecord
	require.NoError(t, tool.db.Where("user_id = ? AND date = ?", 42, "2025-06-15").First(&record).Error)
	assert.Equal(t, 6, record.Points) // base 5 + the streak going into today

	status, err := tool.ledgerStatus(42)
	require.NoError(t, err)
	assert.Equal(t, 2, status.CurrentStreak)
}

func TestLedgerStreaksSkipsUnparseableDates(t *testing.T) {
	server := newCheckinTestServer(t)
	defer server.Close()

	tool := newTestCheckinTool(t, server)
	require.NoError(t, tool.db.Create(&CheckinRecord{UserID: 42, Date: "not-a-date", Points: 5}).Error)

	current, longest, err := tool.ledgerStreaks(42)
	require.NoError(t, err)
	assert.Equal(t, 0, current)
	assert.Equal(t, 0, longest)
}

func TestCheckinHistory(t *testing.T) {
	server := newCheckinTestServer(t)
	defer server.Close()

	tool := newTestCheckinTool(t, server)
	seedCheckins(t, tool.db, 42, map[string]int{
		"2025-06-15": 10,
		"2025-06-13": 5,
	})

	messages, err := tool.Invoke(context.Background(), Params{"action_type": "history", "days_to_check": float64(3)})
	require.NoError(t, err)

	entries := findVariable(messages, "checkin_history").([]historyEntry)
	require.Len(t, entries, 3)

	assert.Equal(t, "2025-06-15", entries[0].Date)
	assert.True(t, entries[0].Success)
	assert.Equal(t, 10, entries[0].Points)

	assert.Equal(t, "2025-06-14", entries[1].Date)
	assert.False(t, entries[1].Success)

	assert.Equal(t, "2025-06-13", entries[2].Date)
	assert.True(t, entries[2].Success)
}

func TestCheckinStatus(t *testing.T) {
	server := newCheckinTestServer(t)
	defer server.Close()

	tool := newTestCheckinTool(t, server)
	seedCheckins(t, tool.db, 42, map[string]int{
		"2025-06-14": 5,
		"2025-06-15": 6,
		"2025-05-30": 7, // previous month, excluded from monthly count
	})

	messages, err := tool.Invoke(context.Background(), Params{"action_type": "status"})
	require.NoError(t, err)

	status := findVariable(messages, "activity_summary").(*checkinStatus)
	assert.Equal(t, "2025-06-15", status.LastCheckin)
	assert.Equal(t, 2, status.CurrentStreak)
	assert.Equal(t, 18, status.TotalPoints)
	assert.Equal(t, 2, status.MonthlyCheckins)
}

func TestCheckinUnknownAction(t *testing.T) {
	server := newCheckinTestServer(t)
	defer server.Close()

	tool := newTestCheckinTool(t, server)
	_, err := tool.Invoke(context.Background(), Params{"action_type": "party"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidParams)
}
