package database

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"dream-canvas-server/modules/common/config"
)

// fakePostgrest - PostgREST의 eq/lt 필터, order, limit만 흉내내는 테스트 서버
type fakePostgrest struct {
	mu       sync.Mutex
	tables   map[string][]map[string]interface{}
	queries  []recordedQuery
	nextID   int
	baseTime time.Time

	// uuidOnly - true면 uuid 형식이 아닌 id 필터를 22P02로 거절
	uuidOnly bool
}

type recordedQuery struct {
	Method string
	Table  string
	Params map[string]string
}

func newFakePostgrest() *fakePostgrest {
	return &fakePostgrest{
		tables: map[string][]map[string]interface{}{
			tableGenerations: {},
			tableProfiles:    {},
		},
		baseTime: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newTestClient(t *testing.T) (*Client, *fakePostgrest) {
	t.Helper()
	fake := newFakePostgrest()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := NewClient(&config.Config{SupabaseURL: srv.URL, SupabaseServiceKey: "service-key"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, fake
}

func (f *fakePostgrest) seed(table string, row map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[table] = append(f.tables[table], row)
}

func (f *fakePostgrest) recorded() []recordedQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedQuery(nil), f.queries...)
}

func (f *fakePostgrest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	table := strings.TrimPrefix(r.URL.Path, "/rest/v1/")
	rows, ok := f.tables[table]
	if !ok {
		writePgError(w, http.StatusNotFound, "42P01", "relation does not exist")
		return
	}

	params := map[string]string{}
	for k, v := range r.URL.Query() {
		params[k] = v[0]
	}
	f.queries = append(f.queries, recordedQuery{Method: r.Method, Table: table, Params: params})

	if id, ok := params["id"]; ok && f.uuidOnly {
		if _, err := uuid.Parse(strings.TrimPrefix(id, "eq.")); err != nil {
			writePgError(w, http.StatusBadRequest, "22P02",
				fmt.Sprintf("invalid input syntax for type uuid: %q", strings.TrimPrefix(id, "eq.")))
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		var row map[string]interface{}
		if err := json.Unmarshal(body, &row); err != nil {
			writePgError(w, http.StatusBadRequest, "PGRST102", "invalid body")
			return
		}
		f.nextID++
		row["id"] = fmt.Sprintf("gen-%03d", f.nextID)
		row["created_at"] = f.baseTime.Add(time.Duration(f.nextID) * time.Second).Format(time.RFC3339)
		if _, ok := row["image_url"]; !ok {
			row["image_url"] = nil
		}
		f.tables[table] = append(rows, row)
		_ = json.NewEncoder(w).Encode([]map[string]interface{}{row})

	case http.MethodGet:
		matched := filterRows(rows, params)
		if order, ok := params["order"]; ok {
			parts := strings.Split(order, ".")
			desc := len(parts) > 1 && parts[1] == "desc"
			sort.SliceStable(matched, func(i, j int) bool {
				a, b := fmt.Sprint(matched[i][parts[0]]), fmt.Sprint(matched[j][parts[0]])
				if desc {
					return a > b
				}
				return a < b
			})
		}
		if limit, err := strconv.Atoi(params["limit"]); err == nil && limit < len(matched) {
			matched = matched[:limit]
		}
		_ = json.NewEncoder(w).Encode(matched)

	case http.MethodPatch:
		body, _ := io.ReadAll(r.Body)
		var patch map[string]interface{}
		if err := json.Unmarshal(body, &patch); err != nil {
			writePgError(w, http.StatusBadRequest, "PGRST102", "invalid body")
			return
		}
		matched := filterRows(rows, params)
		for _, row := range matched {
			for k, v := range patch {
				row[k] = v
			}
		}
		_ = json.NewEncoder(w).Encode(matched)

	case http.MethodDelete:
		matched := filterRows(rows, params)
		kept := rows[:0:0]
		for _, row := range rows {
			if !matchRow(row, params) {
				kept = append(kept, row)
			}
		}
		f.tables[table] = kept
		_ = json.NewEncoder(w).Encode(matched)

	default:
		writePgError(w, http.StatusMethodNotAllowed, "PGRST000", "method not allowed")
	}
}

func filterRows(rows []map[string]interface{}, params map[string]string) []map[string]interface{} {
	out := []map[string]interface{}{}
	for _, row := range rows {
		if matchRow(row, params) {
			out = append(out, row)
		}
	}
	return out
}

func matchRow(row map[string]interface{}, params map[string]string) bool {
	for col, expr := range params {
		switch col {
		case "select", "order", "limit", "offset":
			continue
		}
		op, val, _ := strings.Cut(expr, ".")
		actual := fmt.Sprint(row[col])
		switch op {
		case "eq":
			if actual != val {
				return false
			}
		case "lt":
			if !(actual < val) {
				return false
			}
		}
	}
	return true
}

func writePgError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": message})
}
