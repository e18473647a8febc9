package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gymops/gymbuddy/internal/booking"
	"github.com/gymops/gymbuddy/internal/models"
	"github.com/gymops/gymbuddy/internal/store"
)

type fakeResponder struct {
	lastPhone   string
	lastContent string
}

func (f *fakeResponder) Handle(ctx context.Context, phone, content, pushName string) (models.Prompt, error) {
	f.lastPhone = phone
	f.lastContent = content
	return models.Text("simulated reply"), nil
}

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	st := store.NewInMemoryStore()
	engine := booking.NewEngine(st)
	return NewServer(engine, st, &fakeResponder{}, WithToken("secret")), st
}

func doRequest(t *testing.T, srv *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, rec.Body.String())
	}
	return resp
}

func TestHealthzNoAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/classes", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/classes", "wrong", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with bad token, got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/classes?token=secret", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with query token, got %d", rec.Code)
	}
}

func TestCreateAndListClasses(t *testing.T) {
	srv, _ := newTestServer(t)

	params := models.ClassParams{
		Name:        "Morning Yoga",
		ClassType:   "yoga",
		TrainerName: "Priya",
		ScheduledAt: time.Now().Add(24 * time.Hour),
	}
	rec := doRequest(t, srv, http.MethodPost, "/classes", "secret", params)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv, http.MethodGet, "/classes", "secret", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	classes, ok := resp.Result.([]interface{})
	if !ok || len(classes) != 1 {
		t.Errorf("expected 1 class in result, got %+v", resp.Result)
	}
}

func TestCreateClassValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/classes", "secret", models.ClassParams{
		ClassType:   "yoga",
		ScheduledAt: time.Now().Add(time.Hour),
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing name, got %d", rec.Code)
	}
}

func TestCancelClass(t *testing.T) {
	srv, st := newTestServer(t)
	st.CreateClass(models.ClassSession{
		ID: "c1", Name: "Yoga", ScheduledAt: time.Now().Add(24 * time.Hour),
		Capacity: 10, DurationMins: 45,
	})

	body := map[string]string{"reason": "trainer unavailable"}
	rec := doRequest(t, srv, http.MethodDelete, "/classes/c1", "secret", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	class, _ := st.GetClass("c1")
	if !class.IsCancelled || class.CancellationReason != "trainer unavailable" {
		t.Errorf("expected class cancelled with reason, got %+v", class)
	}

	// Cancelling again conflicts.
	rec = doRequest(t, srv, http.MethodDelete, "/classes/c1", "secret", body)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 on re-cancel, got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodDelete, "/classes/missing", "secret", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown class, got %d", rec.Code)
	}
}

func TestAttendance(t *testing.T) {
	srv, st := newTestServer(t)
	st.CreateClass(models.ClassSession{
		ID: "c1", Name: "Yoga", ScheduledAt: time.Now().Add(24 * time.Hour),
		Capacity: 10, DurationMins: 45,
	})
	engine := booking.NewEngine(st)
	res, _ := engine.Book(context.Background(), "m1", "c1")
	bookingID := res.Booking.ID

	rec := doRequest(t, srv, http.MethodPost, "/bookings/"+bookingID+"/attendance", "secret", map[string]bool{"attended": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	b, _ := st.GetBooking(bookingID)
	if b.Status != models.StatusAttended {
		t.Errorf("expected attended, got %s", b.Status)
	}

	// Missing attended field.
	rec = doRequest(t, srv, http.MethodPost, "/bookings/"+bookingID+"/attendance", "secret", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing attended, got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/bookings/missing/attendance", "secret", map[string]bool{"attended": false})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown booking, got %d", rec.Code)
	}
}

func TestMemberBookings(t *testing.T) {
	srv, st := newTestServer(t)
	st.CreateMember(models.Member{ID: "m1", Phone: "15550001111", Name: "Asha"})
	st.CreateClass(models.ClassSession{
		ID: "c1", Name: "Yoga", ScheduledAt: time.Now().Add(24 * time.Hour),
		Capacity: 10, DurationMins: 45,
	})
	engine := booking.NewEngine(st)
	engine.Book(context.Background(), "m1", "c1")

	rec := doRequest(t, srv, http.MethodGet, "/members/15550001111/bookings", "secret", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	bookings, ok := resp.Result.([]interface{})
	if !ok || len(bookings) != 1 {
		t.Errorf("expected 1 booking, got %+v", resp.Result)
	}

	rec = doRequest(t, srv, http.MethodGet, "/members/19990000000/bookings", "secret", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown member, got %d", rec.Code)
	}
}

func TestUtilizationEndpoint(t *testing.T) {
	srv, st := newTestServer(t)
	st.CreateClass(models.ClassSession{
		ID: "c1", Name: "Yoga", ClassType: "yoga",
		ScheduledAt: time.Now().Add(-24 * time.Hour),
		Capacity:    10, DurationMins: 45, BookedCount: 5,
	})

	rec := doRequest(t, srv, http.MethodGet, "/stats/utilization?days=30", "secret", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	stats, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected stats object, got %+v", resp.Result)
	}
	if stats["total_classes"] != float64(1) {
		t.Errorf("expected 1 class, got %v", stats["total_classes"])
	}
}

func TestSimulateWebhook(t *testing.T) {
	srv, _ := newTestServer(t)

	body := map[string]string{"phone": "+15550001111", "content": "hi", "name": "Asha"}
	rec := doRequest(t, srv, http.MethodPost, "/webhook/simulate", "secret", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	prompt, ok := resp.Result.(map[string]interface{})
	if !ok || prompt["body"] != "simulated reply" {
		t.Errorf("expected simulated reply, got %+v", resp.Result)
	}

	rec = doRequest(t, srv, http.MethodPost, "/webhook/simulate", "secret", map[string]string{"content": "hi"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing phone, got %d", rec.Code)
	}
}

func TestSimulateUnavailableWithoutResponder(t *testing.T) {
	st := store.NewInMemoryStore()
	engine := booking.NewEngine(st)
	srv := NewServer(engine, st, nil, WithToken("secret"))

	rec := doRequest(t, srv, http.MethodPost, "/webhook/simulate", "secret",
		map[string]string{"phone": "+15550001111", "content": "hi"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestListClassesQueryFilters(t *testing.T) {
	srv, st := newTestServer(t)
	for i, ct := range []string{"yoga", "hiit", "yoga"} {
		st.CreateClass(models.ClassSession{
			ID: fmt.Sprintf("c%d", i), Name: fmt.Sprintf("Class %d", i), ClassType: ct,
			ScheduledAt: time.Now().Add(time.Duration(i+1) * time.Hour),
			Capacity:    10, DurationMins: 45,
		})
	}

	rec := doRequest(t, srv, http.MethodGet, "/classes?type=yoga", "secret", nil)
	resp := decodeResponse(t, rec)
	classes, _ := resp.Result.([]interface{})
	if len(classes) != 2 {
		t.Errorf("expected 2 yoga classes, got %d", len(classes))
	}
}
