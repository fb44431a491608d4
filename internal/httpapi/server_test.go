package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"agentsched/internal/platform"
	"agentsched/internal/schedule"
	"agentsched/internal/store"
	logx "agentsched/pkg/logx"
)

// stubClient accepts every credential except the ones listed in rejected.
type stubClient struct {
	rejected map[string]bool
	sends    int
}

func (c *stubClient) Validate(_ context.Context, credential string) error {
	if c.rejected[credential] {
		return platform.ErrInvalidCredential
	}
	return nil
}

func (c *stubClient) Send(context.Context, string, string, string, string) (string, error) {
	c.sends++
	return "run-1", nil
}

func newTestServer(t *testing.T) (*Server, *store.Store, *stubClient) {
	t.Helper()
	st, err := store.New(t.TempDir(), store.NewPlaintextCodec(), logx.Nop())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	client := &stubClient{rejected: map[string]bool{"bad-cred": true}}
	srv := NewServer(Config{}, st, client, logx.Nop())
	return srv, st, client
}

func doJSON(t *testing.T, h http.Handler, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)

	w := doJSON(t, srv.Handler(), http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health = %d, want 200", w.Code)
	}
}

func TestCreateRecurring(t *testing.T) {
	t.Parallel()
	srv, st, _ := newTestServer(t)

	w := doJSON(t, srv.Handler(), http.MethodPost, "/schedules/recurring", "", map[string]string{
		"agent_id":   "agent-1",
		"credential": "cred-a",
		"cron":       "0 9 * * *",
		"message":    "good morning",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d, want 201: %s", w.Code, w.Body)
	}

	var raw map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, leaked := raw["credential"]; leaked {
		t.Fatal("response must not echo the credential")
	}
	id, _ := raw["id"].(string)
	if id == "" {
		t.Fatal("response must carry the schedule id")
	}
	if raw["role"] != schedule.DefaultRole {
		t.Fatalf("role = %v, want default %q", raw["role"], schedule.DefaultRole)
	}

	stored, err := st.GetRecurring("cred-a", id)
	if err != nil {
		t.Fatalf("schedule not stored: %v", err)
	}
	if stored.Cron != "0 9 * * *" || stored.Credential != "cred-a" {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestCreateRecurringRejections(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)

	cases := []struct {
		name string
		body map[string]string
		want int
	}{
		{
			name: "missing message",
			body: map[string]string{"agent_id": "a", "credential": "c", "cron": "* * * * *"},
			want: http.StatusBadRequest,
		},
		{
			name: "bad cron",
			body: map[string]string{"agent_id": "a", "credential": "c", "cron": "bogus", "message": "m"},
			want: http.StatusBadRequest,
		},
		{
			name: "rejected credential",
			body: map[string]string{"agent_id": "a", "credential": "bad-cred", "cron": "* * * * *", "message": "m"},
			want: http.StatusUnauthorized,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			w := doJSON(t, srv.Handler(), http.MethodPost, "/schedules/recurring", "", tc.body)
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d: %s", w.Code, tc.want, w.Body)
			}
		})
	}
}

func TestCreateOneTime(t *testing.T) {
	t.Parallel()
	srv, st, _ := newTestServer(t)

	execAt := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	w := doJSON(t, srv.Handler(), http.MethodPost, "/schedules/one-time", "", map[string]string{
		"agent_id":   "agent-1",
		"credential": "cred-a",
		"execute_at": execAt.Format(time.RFC3339),
		"message":    "reminder",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d, want 201: %s", w.Code, w.Body)
	}

	var view oneTimeView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !view.ExecuteAt.Equal(execAt) {
		t.Fatalf("execute_at = %v, want %v", view.ExecuteAt, execAt)
	}
	if _, err := st.GetOneTime("cred-a", execAt, view.ID); err != nil {
		t.Fatalf("schedule not stored in derived bucket: %v", err)
	}

	w = doJSON(t, srv.Handler(), http.MethodPost, "/schedules/one-time", "", map[string]string{
		"agent_id":   "agent-1",
		"credential": "cred-a",
		"execute_at": "next tuesday",
		"message":    "reminder",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad execute_at = %d, want 400", w.Code)
	}
}

func TestListRequiresBearer(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)

	for _, path := range []string{"/schedules/recurring", "/schedules/one-time", "/results"} {
		w := doJSON(t, srv.Handler(), http.MethodGet, path, "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("GET %s without bearer = %d, want 401", path, w.Code)
		}
	}
}

func TestListScopedToTenant(t *testing.T) {
	t.Parallel()
	srv, st, _ := newTestServer(t)

	mine := schedule.NewRecurring("agent-1", "cred-a", "* * * * *", "m", "")
	theirs := schedule.NewRecurring("agent-2", "cred-b", "* * * * *", "m", "")
	for _, rec := range []schedule.Recurring{mine, theirs} {
		if err := st.PutRecurring(rec); err != nil {
			t.Fatalf("PutRecurring: %v", err)
		}
	}

	w := doJSON(t, srv.Handler(), http.MethodGet, "/schedules/recurring", "cred-a", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d, want 200", w.Code)
	}
	var got []recurringView
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(got) != 1 || got[0].ID != mine.ID {
		t.Fatalf("list = %+v, want only own schedule", got)
	}
}

func TestGetAndDeleteRecurring(t *testing.T) {
	t.Parallel()
	srv, st, _ := newTestServer(t)

	rec := schedule.NewRecurring("agent-1", "cred-a", "* * * * *", "m", "")
	if err := st.PutRecurring(rec); err != nil {
		t.Fatalf("PutRecurring: %v", err)
	}

	w := doJSON(t, srv.Handler(), http.MethodGet, "/schedules/recurring/"+rec.ID, "cred-a", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get = %d, want 200", w.Code)
	}

	// Another tenant sees a miss, not the record.
	w = doJSON(t, srv.Handler(), http.MethodGet, "/schedules/recurring/"+rec.ID, "cred-b", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("cross-tenant get = %d, want 404", w.Code)
	}

	w = doJSON(t, srv.Handler(), http.MethodDelete, "/schedules/recurring/"+rec.ID, "cred-a", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d, want 204", w.Code)
	}
	w = doJSON(t, srv.Handler(), http.MethodDelete, "/schedules/recurring/"+rec.ID, "cred-a", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("second delete = %d, want 404", w.Code)
	}
}

func TestDeleteOneTimeKeepsResult(t *testing.T) {
	t.Parallel()
	srv, st, _ := newTestServer(t)

	ot := schedule.NewOneTime("agent-1", "cred-a", time.Now().UTC().Add(time.Hour), "m", "")
	if err := st.PutOneTime(ot); err != nil {
		t.Fatalf("PutOneTime: %v", err)
	}
	res := schedule.Result{
		ScheduleID:   ot.ID,
		ScheduleType: schedule.KindOneTime,
		Status:       schedule.StatusSuccess,
		AgentID:      ot.AgentID,
		Message:      ot.Message,
		ExecutedAt:   time.Now().UTC(),
		RunID:        "run-1",
	}
	if err := st.PutResult("cred-a", res); err != nil {
		t.Fatalf("PutResult: %v", err)
	}

	w := doJSON(t, srv.Handler(), http.MethodDelete, "/schedules/one-time/"+ot.ID, "cred-a", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d, want 204: %s", w.Code, w.Body)
	}

	w = doJSON(t, srv.Handler(), http.MethodGet, "/results/"+ot.ID, "cred-a", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("result after schedule delete = %d, want 200", w.Code)
	}
	var got schedule.Result
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if got.Status != schedule.StatusSuccess || got.RunID != "run-1" {
		t.Fatalf("result = %+v", got)
	}
}

func TestGetResultMiss(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)

	w := doJSON(t, srv.Handler(), http.MethodGet, "/results/nope", "cred-a", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing result = %d, want 404", w.Code)
	}
}
