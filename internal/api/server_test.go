package api

import (
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/StageFeed/internal/config"
	"github.com/bryanchriswhite/StageFeed/internal/output"
	"github.com/bryanchriswhite/StageFeed/internal/target"
	"github.com/gorilla/websocket"
)

type fakeStage struct {
	mu           sync.Mutex
	current      int
	slides       int
	notification string
	animated     bool
}

func (s *fakeStage) Next() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = (s.current + 1) % s.slides
	return s.current
}

func (s *fakeStage) Previous() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = (s.current + s.slides - 1) % s.slides
	return s.current
}

func (s *fakeStage) GoTo(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= s.slides {
		return errOutOfRange
	}
	s.current = i
	return nil
}

func (s *fakeStage) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *fakeStage) SetNotification(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notification = text
}

func (s *fakeStage) ClearNotification() { s.SetNotification("") }

func (s *fakeStage) Notification() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notification
}

func (s *fakeStage) SetAnimated(a bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.animated = a
}

func (s *fakeStage) HasAnimatedContent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.animated
}

func (s *fakeStage) IsTransitionInProgress() bool       { return false }
func (s *fakeStage) ContentChangeStamp() time.Time      { return time.Time{} }
func (s *fakeStage) NotificationChangeStamp() time.Time { return time.Time{} }

func (s *fakeStage) Snapshot(r image.Rectangle) (*image.RGBA, error) {
	return image.NewRGBA(r), nil
}

var errOutOfRange = errors.New("slide out of range")

type fixture struct {
	srv       *httptest.Server
	stage     *fakeStage
	configMgr *config.Manager
	targets   map[string]*target.Target
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mgr, err := config.NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	cfg := mgr.Get()
	cfg.Targets = []config.TargetConfig{
		{Name: "main", Width: 16, Height: 9, FPS: 30, Active: true, RenderSkip: true,
			Output: config.OutputConfig{Type: config.OutputMJPEG, Quality: 80}},
		{Name: "lobby", Width: 16, Height: 9, FPS: 10, Active: true, RenderSkip: true,
			Output: config.OutputConfig{Type: config.OutputDiscard}},
	}
	if err := mgr.Update(cfg); err != nil {
		t.Fatal(err)
	}

	stage := &fakeStage{slides: 3}
	f := &fixture{stage: stage, configMgr: mgr, targets: map[string]*target.Target{}}

	var list []*target.Target
	for _, tc := range cfg.Targets {
		sink, err := output.New(tc.Output)
		if err != nil {
			t.Fatal(err)
		}
		tg, err := target.New(tc, stage, sink)
		if err != nil {
			t.Fatal(err)
		}
		if err := tg.Start(); err != nil {
			t.Fatal(err)
		}
		f.targets[tc.Name] = tg
		list = append(list, tg)
	}
	mgr.OnActiveChange(func(name string, active bool) {
		if tg, ok := f.targets[name]; ok {
			tg.SetActive(active)
		}
	})

	server := NewServer(mgr, stage, list)
	server.statsInterval = 20 * time.Millisecond
	f.srv = httptest.NewServer(server.Handler())

	t.Cleanup(func() {
		f.srv.Close()
		for _, tg := range list {
			tg.Dispose()
			<-tg.Done()
		}
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatal(err)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, "GET", "/api/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]interface{}
	decode(t, resp, &body)
	if body["status"] != "healthy" || body["targets"] != float64(2) {
		t.Errorf("body = %v", body)
	}
}

func TestListAndGetTargets(t *testing.T) {
	f := newFixture(t)

	var list []target.Stats
	decode(t, f.do(t, "GET", "/api/targets", ""), &list)
	if len(list) != 2 || list[0].Name != "lobby" || list[1].Name != "main" {
		t.Fatalf("targets = %+v", list)
	}
	if list[1].SessionID == "" || list[1].Sink == "" {
		t.Errorf("main stats incomplete: %+v", list[1])
	}

	var one target.Stats
	decode(t, f.do(t, "GET", "/api/targets/main", ""), &one)
	if one.Name != "main" || one.FPS != 30 {
		t.Errorf("main = %+v", one)
	}
}

func TestUnknownTargetIs404(t *testing.T) {
	f := newFixture(t)
	cases := []struct{ method, path string }{
		{"GET", "/api/targets/nope"},
		{"POST", "/api/targets/nope/active"},
		{"DELETE", "/api/targets/nope/active"},
		{"GET", "/stream/nope"},
		{"GET", "/stats/nope"},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			if resp := f.do(t, tc.method, tc.path, ""); resp.StatusCode != http.StatusNotFound {
				t.Errorf("status = %d", resp.StatusCode)
			}
		})
	}
}

func TestSetActivePersistsAndSwitchesTarget(t *testing.T) {
	f := newFixture(t)

	if resp := f.do(t, "DELETE", "/api/targets/main/active", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	tc, err := f.configMgr.Target("main")
	if err != nil {
		t.Fatal(err)
	}
	if tc.Active {
		t.Error("config still active")
	}
	if f.targets["main"].Stats().Active {
		t.Error("running target still active")
	}

	f.do(t, "POST", "/api/targets/main/active", "")
	if !f.targets["main"].Stats().Active {
		t.Error("target not reactivated")
	}
}

func TestStageControls(t *testing.T) {
	f := newFixture(t)

	var st stageStatus
	decode(t, f.do(t, "POST", "/api/stage/next", ""), &st)
	if st.Slide != 1 {
		t.Errorf("slide after next = %d", st.Slide)
	}
	decode(t, f.do(t, "POST", "/api/stage/previous", ""), &st)
	if st.Slide != 0 {
		t.Errorf("slide after previous = %d", st.Slide)
	}

	decode(t, f.do(t, "PUT", "/api/stage/slide", `{"index": 2}`), &st)
	if st.Slide != 2 {
		t.Errorf("slide after goto = %d", st.Slide)
	}
	if resp := f.do(t, "PUT", "/api/stage/slide", `{"index": 9}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("out of range goto status = %d", resp.StatusCode)
	}
	if resp := f.do(t, "PUT", "/api/stage/slide", `{}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing index status = %d", resp.StatusCode)
	}

	decode(t, f.do(t, "PUT", "/api/stage/notification", `{"text": "Welcome"}`), &st)
	if st.Notification != "Welcome" {
		t.Errorf("notification = %q", st.Notification)
	}
	decode(t, f.do(t, "DELETE", "/api/stage/notification", ""), &st)
	if st.Notification != "" {
		t.Errorf("notification after delete = %q", st.Notification)
	}

	decode(t, f.do(t, "PUT", "/api/stage/animated", `{"animated": true}`), &st)
	if !st.Animated {
		t.Error("animated not set")
	}
	if resp := f.do(t, "PUT", "/api/stage/animated", `not json`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad body status = %d", resp.StatusCode)
	}
}

func TestSinkRoutes(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, "GET", "/stats/main", "")
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Errorf("mjpeg stats: status %d, type %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	if resp := f.do(t, "GET", "/stream/lobby", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("discard stream status = %d", resp.StatusCode)
	}
}

func TestStatsStream(t *testing.T) {
	f := newFixture(t)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/stats/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < 2; i++ {
		var msg statsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		if len(msg.Targets) != 2 {
			t.Errorf("message %d has %d targets", i, len(msg.Targets))
		}
	}
}
