package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"parkhub/internal/export"
	"parkhub/internal/models"
)

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.Validationf("bad"), http.StatusBadRequest},
		{models.ErrBookingNotFound, http.StatusNotFound},
		{models.ErrSpotTaken, http.StatusConflict},
		{models.ErrNotOwner, http.StatusForbidden},
		{models.Transport("publish", errors.New("down")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestBookingRoutes_RequestErrors(t *testing.T) {
	p := newPlatform(t)
	user := p.token(t, 7, models.RoleUser)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
		msg    string
	}{
		{"no token", http.MethodGet, "/bookings/me", "", nil, http.StatusUnauthorized, "authorization"},
		{"bad token", http.MethodGet, "/bookings/me", "garbage", nil, http.StatusUnauthorized, "invalid"},
		{"missing lot", http.MethodPost, "/bookings", user, map[string]any{"spotId": "A1"}, http.StatusBadRequest, "lotId is required"},
		{"unknown field", http.MethodPost, "/bookings", user, map[string]any{"lotId": "lot1", "color": "red"}, http.StatusBadRequest, "invalid JSON"},
		{"negative user", http.MethodPost, "/bookings", user, map[string]any{"lotId": "lot1", "userId": -3}, http.StatusBadRequest, "userId must be greater than 0"},
		{"booking for someone else", http.MethodPost, "/bookings", user, CreateBookingRequest{LotID: "lot1", UserID: 9}, http.StatusForbidden, "not the owner"},
		{"unknown lot", http.MethodPost, "/bookings", user, CreateBookingRequest{LotID: "nowhere"}, http.StatusNotFound, "lot not found"},
		{"unknown spot", http.MethodPost, "/bookings", user, CreateBookingRequest{LotID: "lot1", SpotID: "Z9"}, http.StatusNotFound, "spot not found"},
		{"bad id", http.MethodGet, "/bookings/abc", user, nil, http.StatusBadRequest, "id must be a positive integer"},
		{"missing booking", http.MethodGet, "/bookings/404", user, nil, http.StatusNotFound, "booking not found"},
		{"admin list as user", http.MethodGet, "/admin/bookings", user, nil, http.StatusForbidden, "admin access required"},
		{"unknown route", http.MethodGet, "/nope", user, nil, http.StatusNotFound, "route not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, data := p.do(t, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.want, status)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(data, &body))
			assert.Contains(t, body.Error, tt.msg)
		})
	}
}

func TestBookingRoutes_Listings(t *testing.T) {
	p := newPlatform(t)
	alice := p.token(t, 7, models.RoleUser)
	bob := p.token(t, 8, models.RoleUser)
	admin := p.token(t, 1, models.RoleAdmin)

	_, a := p.booking(t, http.MethodPost, "/bookings", alice, CreateBookingRequest{LotID: "lot1", SpotID: "A1"})
	p.booking(t, http.MethodPost, "/bookings", bob, CreateBookingRequest{LotID: "lot1", SpotID: "A2"})
	_, forBob := p.booking(t, http.MethodPost, "/bookings", admin, CreateBookingRequest{LotID: "lot1", UserID: 8})
	assert.Equal(t, int64(8), forBob.UserID)
	p.settle(t)

	status, data := p.do(t, http.MethodGet, "/bookings/me", bob, nil)
	require.Equal(t, http.StatusOK, status)
	var mine BookingListResponse
	require.NoError(t, json.Unmarshal(data, &mine))
	assert.Equal(t, 2, mine.Count)

	status, _ = p.do(t, http.MethodGet, "/bookings/"+itoa(a.ID), bob, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = p.do(t, http.MethodGet, "/admin/bookings/"+itoa(a.ID), admin, nil)
	assert.Equal(t, http.StatusOK, status)

	status, data = p.do(t, http.MethodGet, "/admin/bookings?userId=8&status=confirmed", admin, nil)
	require.Equal(t, http.StatusOK, status)
	var filtered BookingListResponse
	require.NoError(t, json.Unmarshal(data, &filtered))
	assert.Equal(t, 2, filtered.Count)

	status, _ = p.do(t, http.MethodGet, "/admin/bookings?status=parked", admin, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = p.do(t, http.MethodGet, "/admin/bookings?limit=0", admin, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestBookingRoutes_Export(t *testing.T) {
	p := newPlatform(t)
	user := p.token(t, 7, models.RoleUser)
	admin := p.token(t, 1, models.RoleAdmin)
	p.booking(t, http.MethodPost, "/bookings", user, CreateBookingRequest{LotID: "lot1", SpotID: "A1"})

	req, err := http.NewRequest(http.MethodGet, p.srv.URL+"/admin/bookings/export", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+admin)
	resp, err := p.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, export.ContentType, resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "bookings_")

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("bookings")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestParkingRoutes(t *testing.T) {
	p := newPlatform(t)
	admin := p.token(t, 1, models.RoleAdmin)
	user := p.token(t, 7, models.RoleUser)

	status, data := p.do(t, http.MethodGet, "/parking/lots", "", nil)
	require.Equal(t, http.StatusOK, status)
	var lots LotListResponse
	require.NoError(t, json.Unmarshal(data, &lots))
	assert.Equal(t, []models.LotSummary{{ID: "lot1", TotalSpots: 3, AvailableSpots: 3}}, lots.Lots)

	status, _ = p.do(t, http.MethodGet, "/parking/lots/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = p.do(t, http.MethodPost, "/admin/parking/lots", user, LotRequest{LotID: "lot2", SpotNumbers: []string{"B1"}})
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = p.do(t, http.MethodPost, "/admin/parking/lots", "", LotRequest{LotID: "lot2", SpotNumbers: []string{"B1"}})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, data = p.do(t, http.MethodPost, "/admin/parking/lots", admin, LotRequest{LotID: "lot2", SpotNumbers: []string{"B2", "B1"}})
	require.Equal(t, http.StatusCreated, status)
	var lot models.Lot
	require.NoError(t, json.Unmarshal(data, &lot))
	assert.Equal(t, "lot2", lot.ID)
	assert.Len(t, lot.Spots, 2)

	status, _ = p.do(t, http.MethodPost, "/admin/parking/lots", admin, LotRequest{LotID: "lot2", SpotNumbers: []string{"B3"}})
	assert.Equal(t, http.StatusConflict, status)
	status, _ = p.do(t, http.MethodPost, "/admin/parking/lots", admin, map[string]any{"lotId": "lot3", "spotNumbers": []string{}})
	assert.Equal(t, http.StatusBadRequest, status)

	status, data = p.do(t, http.MethodPost, "/admin/parking/spots", admin, LotRequest{LotID: "lot2", SpotNumbers: []string{"B2", "B3"}})
	require.Equal(t, http.StatusCreated, status)
	var added SpotsAddedResponse
	require.NoError(t, json.Unmarshal(data, &added))
	assert.Equal(t, 1, added.SpotsAdded)

	status, _ = p.do(t, http.MethodPost, "/admin/parking/spots", admin, LotRequest{LotID: "lot9", SpotNumbers: []string{"Z1"}})
	assert.Equal(t, http.StatusNotFound, status)

	// lots holding reservations cannot be removed
	p.booking(t, http.MethodPost, "/bookings", user, CreateBookingRequest{LotID: "lot2"})
	p.settle(t)
	status, _ = p.do(t, http.MethodDelete, "/admin/parking/lots/lot2", admin, nil)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = p.do(t, http.MethodDelete, "/admin/parking/lots/lot1", admin, nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = p.do(t, http.MethodDelete, "/admin/parking/lots/lot1", admin, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = p.do(t, http.MethodGet, "/admin/parking/lots/export", admin, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestRateLimit(t *testing.T) {
	r := NewRouter(MiddlewareConfig{RateLimitPerMinute: 2}, nopLogger())
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	codes := make([]int, 0, 3)
	for range 3 {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
}

func TestCORS(t *testing.T) {
	r := NewRouter(MiddlewareConfig{AllowedOrigins: []string{"https://app.example.com"}}, nopLogger())
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
