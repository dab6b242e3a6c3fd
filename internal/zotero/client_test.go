package zotero

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Options{BaseURL: srv.URL + "/", LibraryID: "42", LibraryType: "user", APIKey: "secret"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestNewRejectsBadLibrary(t *testing.T) {
	if _, err := New(Options{LibraryType: "user"}); !errors.Is(err, ErrInvalidLibrary) {
		t.Fatalf("expected ErrInvalidLibrary for empty id, got %v", err)
	}
	if _, err := New(Options{LibraryID: "1", LibraryType: "team"}); !errors.Is(err, ErrInvalidLibrary) {
		t.Fatalf("expected ErrInvalidLibrary for bad type, got %v", err)
	}
	c, err := New(Options{LibraryID: "7", LibraryType: "group"})
	if err != nil || c.prefix != "/groups/7" || c.baseURL != DefaultBaseURL {
		t.Fatalf("unexpected group client: %+v err=%v", c, err)
	}
}

func TestCollectionsPaginatesAndDecodes(t *testing.T) {
	const total = 130
	var calls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/users/42/collections" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Zotero-API-Key") != "secret" || r.Header.Get("Zotero-API-Version") != "3" {
			t.Errorf("missing auth/version headers: %v", r.Header)
		}
		start, _ := strconv.Atoi(r.URL.Query().Get("start"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		var page []map[string]any
		for i := start; i < total && i < start+limit; i++ {
			var parent any = false
			if i > 0 {
				parent = "K0"
			}
			page = append(page, map[string]any{
				"key":     fmt.Sprintf("K%d", i),
				"version": 1,
				"data": map[string]any{
					"key":              fmt.Sprintf("K%d", i),
					"name":             fmt.Sprintf("C%d", i),
					"parentCollection": parent,
					"deleted":          i == 5,
				},
			})
		}
		w.Header().Set("Total-Results", strconv.Itoa(total))
		_ = json.NewEncoder(w).Encode(page)
	})

	got, err := c.Collections(context.Background())
	if err != nil {
		t.Fatalf("collections: %v", err)
	}
	if len(got) != total || calls != 2 {
		t.Fatalf("expected %d collections over 2 pages, got %d in %d calls", total, len(got), calls)
	}
	if got[0].ParentKey != "" || got[1].ParentKey != "K0" {
		t.Fatalf("parent keys not decoded: %+v %+v", got[0], got[1])
	}
	if !got[5].Deleted || got[6].Deleted {
		t.Fatalf("deleted flag not decoded")
	}
}

func TestCreateItemsSendsTypedPayload(t *testing.T) {
	var body []map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/users/42/items" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"successful":{"0":{"key":"ABCD1234","version":9}},"success":{"0":"ABCD1234"},"unchanged":{},"failed":{}}`))
	})

	accessed := time.Date(2025, time.April, 10, 23, 0, 0, 0, time.UTC)
	res, err := c.CreateItems(context.Background(),
		NewLinkedFileAttachment("PARENT01", "/storage/PARENT01/Paper.html", accessed))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	created, ok := res.First()
	if !ok || created.Key != "ABCD1234" || created.Version != 9 {
		t.Fatalf("unexpected result: %+v", res)
	}
	want := map[string]any{
		"itemType":    "attachment",
		"parentItem":  "PARENT01",
		"linkMode":    "linked_file",
		"accessDate":  "2025-04-10",
		"title":       "Snapshot",
		"path":        "/storage/PARENT01/Paper.html",
		"contentType": "text/html",
	}
	if len(body) != 1 {
		t.Fatalf("expected one item, got %v", body)
	}
	for k, v := range want {
		if body[0][k] != v {
			t.Fatalf("field %s=%v want %v", k, body[0][k], v)
		}
	}
}

func TestWebpageItemCollections(t *testing.T) {
	if item := NewWebpageItem("T", "https://u", ""); item.Collections != nil {
		t.Fatalf("empty collection key must not produce a collections list")
	}
	item := NewWebpageItem("T", "https://u", "COLL")
	b, _ := json.Marshal(item)
	if string(b) != `{"itemType":"webpage","title":"T","url":"https://u","collections":["COLL"]}` {
		t.Fatalf("unexpected payload %s", b)
	}
}

func TestCreateItemsFailureLeavesNoFirst(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"successful":{},"success":{},"unchanged":{},"failed":{"0":{"code":400,"message":"bad field"}}}`))
	})
	res, err := c.CreateItems(context.Background(), NewWebpageItem("T", "https://u", ""))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, ok := res.First(); ok {
		t.Fatalf("failed write must not report a created object")
	}
	if res.Failed["0"].Message != "bad field" {
		t.Fatalf("failure not decoded: %+v", res.Failed)
	}
}

func TestDeleteItemSendsVersionAndSurfacesStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/users/42/items/KEY1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("If-Unmodified-Since-Version") != "3" {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if err := c.DeleteItem(context.Background(), "KEY1", 3); err != nil {
		t.Fatalf("delete: %v", err)
	}
	err := c.DeleteItem(context.Background(), "KEY1", 0)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusPreconditionFailed {
		t.Fatalf("expected 412 APIError, got %v", err)
	}
}
