package http

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/ochronus/goboxsync/internal/app"
	"github.com/ochronus/goboxsync/internal/config"
	"github.com/ochronus/goboxsync/internal/metrics"
	"github.com/ochronus/goboxsync/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const testToken = "test-token"

func init() {
	gin.SetMode(gin.TestMode)
}

func setupTestConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.BindAddress = "127.0.0.1"
	cfg.Server.Port = 9190
	cfg.Server.Token = testToken
	return cfg
}

func setupTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Suppress log output during tests
	return logger
}

func setupTestContainer() *app.Container {
	cfg := setupTestConfig()
	logger := setupTestLogger()
	reg := prometheus.NewRegistry()

	return &app.Container{
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
		Metrics:  metrics.New(reg),
	}
}

func TestNewServer(t *testing.T) {
	container := setupTestContainer()

	server := NewServer(container, store.New(store.Options{}))

	if server == nil {
		t.Fatal("expected non-nil server")
	}
	if server.config != container.Config {
		t.Error("config not set correctly")
	}
	if server.logger != container.Logger {
		t.Error("logger not set correctly")
	}
	if server.handler == nil {
		t.Error("expected non-nil handler")
	}
	if server.router == nil {
		t.Error("expected non-nil router")
	}
}

func TestNewServerDebugMode(t *testing.T) {
	cfg := setupTestConfig()
	cfg.Loglevel = "debug"
	container := &app.Container{
		Config: cfg,
		Logger: setupTestLogger(),
	}

	server := NewServer(container, store.New(store.Options{}))

	if server == nil {
		t.Fatal("expected non-nil server")
	}
}

func TestGetRouter(t *testing.T) {
	container := setupTestContainer()

	server := NewServer(container, store.New(store.Options{}))
	router := server.GetRouter()

	if router == nil {
		t.Fatal("expected non-nil router from GetRouter()")
	}
	if router != server.router {
		t.Error("GetRouter() should return the same router instance")
	}
}

func TestServerRouteRegistration(t *testing.T) {
	container := setupTestContainer()

	server := NewServer(container, store.New(store.Options{}))
	routes := server.GetRouter().Routes()

	want := map[string]string{
		"/2/users/get_current_account":   "POST",
		"/2/files/upload_session/start":  "POST",
		"/2/files/upload_session/append": "POST",
		"/2/files/upload_session/finish": "POST",
		"/2/files/download":              "POST",
		"/2/files/delta":                 "POST",
		"/2/files/delta/latest_cursor":   "POST",
		"/2/files/longpoll_delta":        "POST",
		"/metrics":                       "GET",
	}

	found := make(map[string]bool)
	for _, route := range routes {
		if method, ok := want[route.Path]; ok && method == route.Method {
			found[route.Path] = true
		}
	}
	for path, method := range want {
		if !found[path] {
			t.Errorf("%s %s route not registered", method, path)
		}
	}
}

func TestServerNoMetricsRouteWithoutRegistry(t *testing.T) {
	container := &app.Container{Config: setupTestConfig(), Logger: setupTestLogger()}
	server := NewServer(container, store.New(store.Options{}))

	for _, route := range server.GetRouter().Routes() {
		if route.Path == "/metrics" {
			t.Fatal("metrics route should not be registered without a registry")
		}
	}
}

func TestServerRoutesRespond(t *testing.T) {
	container := setupTestContainer()

	server := NewServer(container, store.New(store.Options{}))
	router := server.GetRouter()

	tests := []struct {
		name           string
		method         string
		path           string
		auth           string
		expectedStatus int
	}{
		{
			name:           "account without auth",
			method:         "POST",
			path:           "/2/users/get_current_account",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "account with wrong token",
			method:         "POST",
			path:           "/2/users/get_current_account",
			auth:           "Bearer nope",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "account with basic auth",
			method:         "POST",
			path:           "/2/users/get_current_account",
			auth:           "Basic " + testToken,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "account with token",
			method:         "POST",
			path:           "/2/users/get_current_account",
			auth:           "Bearer " + testToken,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "longpoll without auth reaches handler",
			method:         "POST",
			path:           "/2/files/longpoll_delta",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "GET unknown path",
			method:         "GET",
			path:           "/unknown",
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}
		})
	}
}

func TestServerRecoveryMiddleware(t *testing.T) {
	container := setupTestContainer()

	server := NewServer(container, store.New(store.Options{}))
	router := server.GetRouter()

	// Add a route that panics
	router.GET("/panic", func(c *gin.Context) {
		panic("test panic")
	})

	req := httptest.NewRequest("GET", "/panic", nil)
	w := httptest.NewRecorder()

	// This should not panic due to recovery middleware
	defer func() {
		if r := recover(); r != nil {
			t.Error("server should have recovered from panic")
		}
	}()

	router.ServeHTTP(w, req)

	// Recovery middleware returns 500 on panic
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d after panic, got %d", http.StatusInternalServerError, w.Code)
	}
}

func TestServerMetricsEndpoint(t *testing.T) {
	container := setupTestContainer()
	router := NewServer(container, store.New(store.Options{})).GetRouter()

	req := httptest.NewRequest("POST", "/2/users/get_current_account", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	router.ServeHTTP(httptest.NewRecorder(), req)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	body, _ := io.ReadAll(w.Body)
	if !strings.Contains(string(body), `goboxsync_server_requests_total{code="200",endpoint="/2/users/get_current_account"} 1`) {
		t.Errorf("request counter missing from metrics output:\n%s", body)
	}
}

func TestServerHandlerIntegration(t *testing.T) {
	container := setupTestContainer()
	st := store.New(store.Options{})

	server := NewServer(container, st)

	if server.handler.config != server.config {
		t.Error("handler config mismatch")
	}
	if server.handler.store != st {
		t.Error("handler store mismatch")
	}
}

func TestServerMultipleInstances(t *testing.T) {
	cfg1 := setupTestConfig()
	cfg1.Server.Port = 9191

	cfg2 := setupTestConfig()
	cfg2.Server.Port = 9192

	container1 := &app.Container{Config: cfg1, Logger: setupTestLogger()}
	container2 := &app.Container{Config: cfg2, Logger: setupTestLogger()}

	server1 := NewServer(container1, store.New(store.Options{}))
	server2 := NewServer(container2, store.New(store.Options{}))

	if server1.config.Server.Port == server2.config.Server.Port {
		t.Error("servers should have different ports")
	}
	if server1.router == server2.router {
		t.Error("servers should have different router instances")
	}
}

func TestServerReleaseModeForNonDebug(t *testing.T) {
	testCases := []string{"info", "warn", "error", "fatal"}

	for _, level := range testCases {
		t.Run(level, func(t *testing.T) {
			cfg := setupTestConfig()
			cfg.Loglevel = level
			container := &app.Container{Config: cfg, Logger: setupTestLogger()}

			// This should set gin to release mode
			server := NewServer(container, store.New(store.Options{}))

			if server == nil {
				t.Fatal("expected non-nil server")
			}
		})
	}
}
