package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"housingworkshop/internal/api/middleware"
	"housingworkshop/internal/model"
	"housingworkshop/internal/pkg/logger"
	"housingworkshop/internal/pkg/token"
	"housingworkshop/internal/store"
	"housingworkshop/internal/store/storetest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testLogger = logger.New(io.Discard, "error")

func fixedNow() time.Time {
	return time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC)
}

func mockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), store.GormConfig())
	require.NoError(t, err)
	return store.New(db), mock
}

func addUser(t *testing.T, st *store.Store, email, name string, createdAt time.Time) *model.User {
	t.Helper()
	u := &model.User{Email: email, Name: name, CreatedAt: createdAt}
	require.NoError(t, st.CreateUser(context.Background(), u))
	return u
}

func TestComputeStats_EmptyStoreIsFullyShaped(t *testing.T) {
	st := storetest.New(t)
	agg := NewAggregator(st, nil, testLogger).WithClock(fixedNow)

	stats := agg.ComputeStats(context.Background())
	assert.Zero(t, stats.TotalSignups)
	assert.Zero(t, stats.SignupsThisMonth)
	assert.Zero(t, stats.OutboundClicks)
	assert.NotNil(t, stats.LatestFeedback)
	assert.Empty(t, stats.LatestFeedback)
	require.Len(t, stats.MonthlySignups, 6)
	assert.Equal(t, "2026-05", stats.MonthlySignups[0].Month)
	assert.Equal(t, "2026-10", stats.MonthlySignups[5].Month)

	raw, err := json.Marshal(stats)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"latestFeedback":[]`)
}

func TestComputeStats_CountsAndMonthlyBuckets(t *testing.T) {
	st := storetest.New(t)
	ctx := context.Background()

	jane := addUser(t, st, "jane@x.com", "Jane Doe", time.Date(2026, 10, 2, 9, 0, 0, 0, time.UTC))
	addUser(t, st, "sep@x.com", "Sep", time.Date(2026, 9, 30, 23, 59, 59, 0, time.UTC))
	addUser(t, st, "may@x.com", "May", time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	addUser(t, st, "apr@x.com", "Apr", time.Date(2026, 4, 30, 23, 59, 59, 0, time.UTC))

	base := time.Date(2026, 10, 10, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, st.CreateFeedback(ctx, &model.Feedback{
			UserID:    &jane.ID,
			Message:   "good",
			Rating:    4,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, st.CreateFeedback(ctx, &model.Feedback{
		Message:   "anonymous and newest",
		Rating:    5,
		CreatedAt: base.Add(24 * time.Hour),
	}))

	require.NoError(t, st.CreateEvents(ctx, []model.Event{
		{Type: model.EventOutboundCourse},
		{Type: model.EventOutboundCourse},
		{Type: model.EventClickedStart},
	}))

	stats := NewAggregator(st, time.UTC, testLogger).WithClock(fixedNow).ComputeStats(ctx)

	assert.EqualValues(t, 4, stats.TotalSignups)
	assert.EqualValues(t, 1, stats.SignupsThisMonth)
	assert.EqualValues(t, 2, stats.OutboundClicks)

	require.Len(t, stats.LatestFeedback, 5)
	assert.Equal(t, "anonymous and newest", stats.LatestFeedback[0].Message)
	assert.Equal(t, "Anonymous", stats.LatestFeedback[0].User.Name)
	assert.Equal(t, "Jane Doe", stats.LatestFeedback[1].User.Name)

	want := []MonthlyCount{
		{Month: "2026-05", Count: 1},
		{Month: "2026-06", Count: 0},
		{Month: "2026-07", Count: 0},
		{Month: "2026-08", Count: 0},
		{Month: "2026-09", Count: 1},
		{Month: "2026-10", Count: 1},
	}
	assert.Equal(t, want, stats.MonthlySignups)
}

func TestComputeStats_UsesConfiguredTimeZone(t *testing.T) {
	st := storetest.New(t)
	tokyo := time.FixedZone("UTC+9", 9*3600)

	// 2026-11-01 01:00 in UTC+9
	addUser(t, st, "early@x.com", "Early", time.Date(2026, 10, 31, 16, 0, 0, 0, time.UTC))

	now := func() time.Time { return time.Date(2026, 10, 31, 20, 0, 0, 0, time.UTC) }
	stats := NewAggregator(st, tokyo, testLogger).WithClock(now).ComputeStats(context.Background())

	assert.EqualValues(t, 1, stats.SignupsThisMonth)
	require.Len(t, stats.MonthlySignups, 6)
	assert.Equal(t, MonthlyCount{Month: "2026-11", Count: 1}, stats.MonthlySignups[5])
}

func TestComputeStats_StoreFailureReturnsEmptyStats(t *testing.T) {
	st, mock := mockStore(t)
	mock.ExpectQuery("SELECT count").WillReturnError(errors.New("connection reset"))

	stats := NewAggregator(st, nil, testLogger).ComputeStats(context.Background())
	assert.Equal(t, EmptyStats(), stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedDemoData_EmptyStore(t *testing.T) {
	st := storetest.New(t)
	ctx := context.Background()
	agg := NewAggregator(st, nil, testLogger)

	require.NoError(t, agg.SeedDemoData(ctx))
	require.NoError(t, agg.SeedDemoData(ctx))

	users, err := st.CountUsers(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, users)
	feedback, err := st.CountFeedback(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, feedback)
	events, err := st.CountEvents(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, events)

	demo, err := st.GetUserByEmail(ctx, demoEmail)
	require.NoError(t, err)
	assert.False(t, demo.HasPassword())

	stats := agg.ComputeStats(ctx)
	assert.EqualValues(t, 1, stats.OutboundClicks)
	require.Len(t, stats.LatestFeedback, 1)
	assert.Equal(t, "Demo User", stats.LatestFeedback[0].User.Name)
}

func TestSeedDemoData_ExistingUsersGetFeedbackAndEvents(t *testing.T) {
	st := storetest.New(t)
	ctx := context.Background()
	first := addUser(t, st, "first@x.com", "First", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	addUser(t, st, "second@x.com", "Second", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))

	require.NoError(t, NewAggregator(st, nil, testLogger).SeedDemoData(ctx))

	users, err := st.CountUsers(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, users)

	items, err := st.LatestFeedback(ctx, 5)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].UserID)
	assert.Equal(t, first.ID, *items[0].UserID)

	events, err := st.CountEvents(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, events)
}

func adminRouter(t *testing.T, st Store) (*gin.Engine, *token.Codec) {
	t.Helper()
	codec, err := token.NewCodec("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	h := NewHandler(NewAggregator(st, nil, testLogger).WithClock(fixedNow), st, testLogger)

	r := gin.New()
	g := r.Group("/api/admin", middleware.RequireSession(codec, middleware.AdminGate))
	g.GET("/stats", h.Stats)
	g.GET("/export-csv", h.ExportCSV)
	return r, codec
}

func adminCookie(t *testing.T, codec *token.Codec) *http.Cookie {
	t.Helper()
	raw, err := codec.Sign(token.Session{Role: token.RoleAdmin, AdminID: "admin"}, token.AdminSessionTTL)
	require.NoError(t, err)
	return &http.Cookie{Name: middleware.AdminCookie, Value: raw}
}

func serve(r http.Handler, path string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStatsHandler_RequiresAdminCookie(t *testing.T) {
	r, _ := adminRouter(t, storetest.New(t))

	w := serve(r, "/api/admin/stats", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"Not authenticated"}`, w.Body.String())
}

func TestStatsHandler_ReturnsStats(t *testing.T) {
	st := storetest.New(t)
	addUser(t, st, "jane@x.com", "Jane", time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC))
	r, codec := adminRouter(t, st)

	w := serve(r, "/api/admin/stats", adminCookie(t, codec))
	require.Equal(t, http.StatusOK, w.Code)

	var got Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.EqualValues(t, 1, got.TotalSignups)
	assert.Len(t, got.MonthlySignups, 6)
}

func TestStatsHandler_DatabaseDownReturns503(t *testing.T) {
	st, mock := mockStore(t)
	mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("dial tcp: connection refused"))
	r, codec := adminRouter(t, st)

	w := serve(r, "/api/admin/stats", adminCookie(t, codec))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "Database connection failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExportCSV(t *testing.T) {
	st := storetest.New(t)
	older := addUser(t, st, "jj@x.com", `Jane "JJ" Doe`, time.Date(2026, 9, 1, 8, 30, 0, 0, time.UTC))
	newer := addUser(t, st, "bob@x.com", "Bob", time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC))
	r, codec := adminRouter(t, st)

	w := serve(r, "/api/admin/export-csv", adminCookie(t, codec))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="users.csv"`, w.Header().Get("Content-Disposition"))

	want := "id,name,email,createdAt\n" +
		newer.ID + `,"Bob","bob@x.com","2026-10-01T00:00:00.000Z"` + "\n" +
		older.ID + `,"Jane ""JJ"" Doe","jj@x.com","2026-09-01T08:30:00.000Z"`
	assert.Equal(t, want, w.Body.String())
}

func TestExportCSV_EmptyStore(t *testing.T) {
	r, codec := adminRouter(t, storetest.New(t))

	w := serve(r, "/api/admin/export-csv", adminCookie(t, codec))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "id,name,email,createdAt\n", w.Body.String())
}

func TestExportCSV_QueryFailureReturns500(t *testing.T) {
	st, mock := mockStore(t)
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("boom"))
	r, codec := adminRouter(t, st)

	w := serve(r, "/api/admin/export-csv", adminCookie(t, codec))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Failed to export CSV"}`, w.Body.String())
}
