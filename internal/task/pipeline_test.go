package task

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"papersnap/internal/artifact"
	"papersnap/internal/capture"
	"papersnap/internal/inline"
	"papersnap/internal/library"
	"papersnap/internal/reference"
	"papersnap/internal/zotero"
)

type fakeSession struct {
	mu        sync.Mutex
	page      capture.Page
	html      string
	navigated string
	waited    bool
	waitErr   error
	closed    bool
}

func (f *fakeSession) Navigate(_ context.Context, target string) (capture.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigated = target
	return f.page, nil
}

func (f *fakeSession) WaitTranslated(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waited = true
	return f.waitErr
}

func (f *fakeSession) Content(context.Context) (string, error) { return f.html, nil }

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeLauncher struct {
	session *fakeSession
	opened  int
}

func (l *fakeLauncher) Open(context.Context) (capture.Session, error) {
	l.opened++
	return l.session, nil
}

type fakeRegistrar struct {
	calls []string
}

func (r *fakeRegistrar) Register(_ context.Context, title, url, collectionKey, artifactPath string) (string, error) {
	r.calls = append(r.calls, strings.Join([]string{title, url, collectionKey, artifactPath}, "|"))
	return "ITEMKEY1", nil
}

type recorder struct {
	stages  []Stage
	titles  []string
	onStage func(Stage)
}

func (r *recorder) Progress(s Stage) {
	r.stages = append(r.stages, s)
	if r.onStage != nil {
		r.onStage(s)
	}
}
func (r *recorder) Title(title string) { r.titles = append(r.titles, title) }
func (r *recorder) Resolved(string)    {}

func resourceServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/static/fig.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("png"))
		case "/static/style.css":
			w.Header().Set("Content-Type", "text/css")
			_, _ = w.Write([]byte("p{}"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func pageHTML(imgSrc string) string {
	return `<!DOCTYPE html><html><head><title>[2504.12345] A Paper</title>
<link rel="stylesheet" href="/static/style.css"></head>
<body><img src="` + imgSrc + `"><img src="` + imgSrc + `"></body></html>`
}

func fixedNow(p *Pipeline) {
	p.now = func() time.Time { return time.Date(2025, time.April, 10, 12, 0, 0, 0, time.UTC) }
}

func htmlFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.html"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	return matches
}

// zoteroStub accepts item creation and counts created objects by type.
func zoteroStub(t *testing.T) (*zotero.Client, map[string]int, *sync.Mutex) {
	t.Helper()
	var mu sync.Mutex
	created := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/users/1/items" {
			http.NotFound(w, r)
			return
		}
		var items []map[string]any
		if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		itemType, _ := items[0]["itemType"].(string)
		created[itemType]++
		mu.Unlock()
		key := "ITEM0001"
		if itemType == zotero.ItemTypeAttachment {
			key = "ATTA0001"
		}
		_, _ = w.Write([]byte(`{"successful":{"0":{"key":"` + key + `","version":1}},"failed":{}}`))
	}))
	t.Cleanup(srv.Close)
	client, err := zotero.New(zotero.Options{BaseURL: srv.URL, LibraryID: "1", LibraryType: "user", APIKey: "k"})
	if err != nil {
		t.Fatalf("zotero client: %v", err)
	}
	return client, created, &mu
}

func TestPipelineEndToEnd(t *testing.T) {
	res := resourceServer(t)
	outDir := filepath.Join(t.TempDir(), "download")
	storage := t.TempDir()
	client, created, mu := zoteroStub(t)

	session := &fakeSession{
		page: capture.Page{Title: "A Paper", URL: res.URL + "/html/2504.12345"},
		html: pageHTML("/static/fig.png"),
	}
	launcher := &fakeLauncher{session: session}
	p := NewPipeline(launcher, inline.New(inline.Options{Workers: 4}), artifact.New(outDir), library.NewRegistrar(client, storage))
	fixedNow(p)

	rec := &recorder{}
	result, err := p.Run(context.Background(), Job{TaskID: "t", Reference: "arxiv:2504.12345", Token: NewCancelToken(), Report: rec})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if session.navigated != "https://arxiv.org/html/2504.12345" {
		t.Fatalf("expected navigation to the primary html page, got %q", session.navigated)
	}
	if len(rec.stages) != NumStages || rec.stages[NumStages-1] != StageRegistered {
		t.Fatalf("expected all stages, got %v", rec.stages)
	}
	if len(rec.titles) != 1 || rec.titles[0] != "A Paper" {
		t.Fatalf("expected one title event, got %v", rec.titles)
	}
	wantPath := filepath.Join(outDir, "A Paper.html")
	if result.FilePath != wantPath || result.ItemKey != "ITEM0001" {
		t.Fatalf("unexpected result %+v", result)
	}
	b, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if strings.Contains(string(b), `src="/static/fig.png"`) || !strings.Contains(string(b), "data:image/png;base64,") {
		t.Fatalf("artifact not inlined:\n%s", b)
	}
	if _, err := os.Stat(filepath.Join(storage, "ITEM0001", "A Paper.html")); err != nil {
		t.Fatalf("artifact not copied into library storage: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if created[zotero.ItemTypeWebpage] != 1 || created[zotero.ItemTypeAttachment] != 1 {
		t.Fatalf("expected one item and one attachment, got %v", created)
	}
	if !session.closed {
		t.Fatalf("session must be closed")
	}
}

func TestPipelineCancelBeforeFirstStage(t *testing.T) {
	outDir := t.TempDir()
	launcher := &fakeLauncher{session: &fakeSession{}}
	reg := &fakeRegistrar{}
	p := NewPipeline(launcher, inline.New(inline.Options{}), artifact.New(outDir), reg)

	token := NewCancelToken()
	token.Cancel()
	rec := &recorder{}
	_, err := p.Run(context.Background(), Job{Reference: "arxiv:2504.12345", Token: token, Report: rec})
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if launcher.opened != 0 || len(rec.stages) != 0 || len(reg.calls) != 0 {
		t.Fatalf("nothing may run after cancellation: opened=%d stages=%v", launcher.opened, rec.stages)
	}
	if files := htmlFiles(t, outDir); len(files) != 0 {
		t.Fatalf("no file may be written, got %v", files)
	}
}

func TestPipelineCancelAtStageBoundaryClosesSession(t *testing.T) {
	session := &fakeSession{page: capture.Page{Title: "T", URL: "https://arxiv.org/html/2504.12345"}, html: "<p></p>"}
	p := NewPipeline(&fakeLauncher{session: session}, inline.New(inline.Options{}), artifact.New(t.TempDir()), &fakeRegistrar{})
	fixedNow(p)

	token := NewCancelToken()
	rec := &recorder{onStage: func(s Stage) {
		if s == StageNavigated {
			token.Cancel()
		}
	}}
	_, err := p.Run(context.Background(), Job{Reference: "arxiv:2504.12345", Token: token, Report: rec})
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if session.waited {
		t.Fatalf("translation wait must not start after cancellation")
	}
	if !session.closed {
		t.Fatalf("session must be closed on cancellation")
	}
}

func TestPipelineStopsOnTranslationTimeout(t *testing.T) {
	outDir := t.TempDir()
	session := &fakeSession{
		page:    capture.Page{Title: "A Paper", URL: "https://arxiv.org/html/2504.12345"},
		html:    pageHTML("/static/fig.png"),
		waitErr: capture.ErrTranslationTimeout,
	}
	reg := &fakeRegistrar{}
	p := NewPipeline(&fakeLauncher{session: session}, inline.New(inline.Options{}), artifact.New(outDir), reg)
	fixedNow(p)

	rec := &recorder{}
	_, err := p.Run(context.Background(), Job{Reference: "arxiv:2504.12345", Token: NewCancelToken(), Report: rec})
	if !errors.Is(err, capture.ErrTranslationTimeout) {
		t.Fatalf("expected translation timeout, got %v", err)
	}
	if rec.stages[len(rec.stages)-1] != StageNavigated || len(reg.calls) != 0 {
		t.Fatalf("run must stop after navigation: stages=%v", rec.stages)
	}
	if files := htmlFiles(t, outDir); len(files) != 0 || !session.closed {
		t.Fatalf("no file may be written and the session must close: files=%v closed=%v", files, session.closed)
	}
}

func TestPipelineAllOrNothingWritesNoFile(t *testing.T) {
	res := resourceServer(t)
	outDir := t.TempDir()
	session := &fakeSession{
		page: capture.Page{Title: "A Paper", URL: res.URL + "/html/2504.12345"},
		html: pageHTML("/static/missing.png"),
	}
	reg := &fakeRegistrar{}
	p := NewPipeline(&fakeLauncher{session: session}, inline.New(inline.Options{}), artifact.New(outDir), reg)
	fixedNow(p)

	rec := &recorder{}
	_, err := p.Run(context.Background(), Job{Reference: "arxiv:2504.12345", Token: NewCancelToken(), Report: rec})
	if !errors.Is(err, inline.ErrResourceFetch) {
		t.Fatalf("expected ErrResourceFetch, got %v", err)
	}
	if files := htmlFiles(t, outDir); len(files) != 0 {
		t.Fatalf("no file may be written after a fetch failure, got %v", files)
	}
	if len(reg.calls) != 0 || rec.stages[len(rec.stages)-1] != StageParsed {
		t.Fatalf("run must stop at stage 6: stages=%v registrations=%d", rec.stages, len(reg.calls))
	}
	if !session.closed {
		t.Fatalf("session must be closed on failure")
	}
}

func TestPipelineRejectsUnknownReference(t *testing.T) {
	launcher := &fakeLauncher{session: &fakeSession{}}
	p := NewPipeline(launcher, inline.New(inline.Options{}), artifact.New(t.TempDir()), &fakeRegistrar{})
	_, err := p.Run(context.Background(), Job{Reference: "https://example.org/paper", Token: NewCancelToken(), Report: &recorder{}})
	if !errors.Is(err, reference.ErrInvalidReferenceFormat) || launcher.opened != 0 {
		t.Fatalf("expected invalid reference before launch, got %v opened=%d", err, launcher.opened)
	}
}
