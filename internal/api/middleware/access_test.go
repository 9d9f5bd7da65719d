package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"control-despacho/backend/config"
	"control-despacho/backend/internal/model"
	"control-despacho/backend/pkg/jwt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ── 测试辅助 ──

type memBlacklist map[string]bool

func (m memBlacklist) IsBlacklisted(_ context.Context, jti string) (bool, error) {
	return m[jti], nil
}

func testJWT() *jwt.Manager {
	return jwt.NewManager(&config.AuthConfig{
		JWTSecret:      "test-secret-key-for-unit-testing-2026",
		AccessTokenTTL: time.Hour,
	})
}

func tokenFor(t *testing.T, mgr *jwt.Manager, role model.RoleID) (string, *jwt.Claims) {
	t.Helper()
	tok, _, err := mgr.GenerateSessionToken(jwt.Subject{UserID: 7, Username: "u", RoleID: int(role), RoleName: role.Name()})
	if err != nil {
		t.Fatalf("签发令牌失败: %v", err)
	}
	claims, _ := mgr.ParseToken(tok)
	return tok, claims
}

func setupAccessRouter(mgr *jwt.Manager, bl TokenBlacklist) *gin.Engine {
	r := gin.New()
	r.Use(SecurityHeaders())
	r.Use(Access(AccessOptions{
		JWT: mgr,
		Public: []Rule{
			{Pattern: "/login"},
			{Pattern: "/api/auth/login"},
			{Method: http.MethodPost, Pattern: "/api/despachos"},
		},
		Rules: []Rule{
			{Method: http.MethodPost, Pattern: "/api/despachos/live", Roles: []model.RoleID{model.RoleAdmin, model.RoleOperator}},
			{Method: http.MethodPatch, Pattern: "/api/despachos/live/:id/estado", Roles: []model.RoleID{model.RoleAdmin, model.RoleLoader}},
			{Pattern: "/api/despachos/live/:path*"},
			{Pattern: "/api/users/:path*", Roles: []model.RoleID{model.RoleAdmin}},
			{Pattern: "/dashboard"},
		},
		CookieName: "session_token",
		Blacklist:  bl,
		Logger:     zap.NewNop(),
	}))

	ok := func(c *gin.Context) { c.String(http.StatusOK, "ok") }
	r.POST("/api/auth/login", ok)
	r.POST("/api/despachos", ok)
	r.GET("/login", ok)
	r.GET("/dashboard", ok)
	r.GET("/api/despachos/live", ok)
	r.POST("/api/despachos/live", ok)
	r.PATCH("/api/despachos/live/:id/estado", ok)
	r.GET("/api/users", ok)
	r.GET("/api/unlisted", ok)
	return r
}

func do(r *gin.Engine, method, path string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if mutate != nil {
		mutate(req)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func bearer(tok string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

// ── 测试用例 ──

func TestAccess_PublicRoutes(t *testing.T) {
	r := setupAccessRouter(testJWT(), nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/auth/login"},
		{http.MethodGet, "/login"},
		{http.MethodPost, "/api/despachos"},
	} {
		if w := do(r, tc.method, tc.path, nil); w.Code != http.StatusOK {
			t.Errorf("%s %s 应公开访问，实际 %d", tc.method, tc.path, w.Code)
		}
	}
}

func TestAccess_Unauthenticated(t *testing.T) {
	r := setupAccessRouter(testJWT(), nil)

	w := do(r, http.MethodGet, "/api/despachos/live", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("API 无令牌期望 401，实际 %d", w.Code)
	}

	w = do(r, http.MethodGet, "/dashboard", nil)
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/login?authorize=SessionRequired" {
		t.Errorf("页面无令牌应跳转登录，实际 %d %s", w.Code, w.Header().Get("Location"))
	}

	w = do(r, http.MethodGet, "/api/despachos/live", bearer("not-a-token"))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("无效令牌期望 401，实际 %d", w.Code)
	}
}

func TestAccess_TokenSources(t *testing.T) {
	mgr := testJWT()
	r := setupAccessRouter(mgr, nil)
	tok, _ := tokenFor(t, mgr, model.RoleSupervisor)

	if w := do(r, http.MethodGet, "/api/despachos/live", bearer(tok)); w.Code != http.StatusOK {
		t.Errorf("Bearer 令牌应通过，实际 %d", w.Code)
	}
	cookie := func(req *http.Request) { req.AddCookie(&http.Cookie{Name: "session_token", Value: tok}) }
	if w := do(r, http.MethodGet, "/api/despachos/live", cookie); w.Code != http.StatusOK {
		t.Errorf("Cookie 令牌应通过，实际 %d", w.Code)
	}
}

func TestAccess_RoleRules(t *testing.T) {
	mgr := testJWT()
	r := setupAccessRouter(mgr, nil)
	loader, _ := tokenFor(t, mgr, model.RoleLoader)
	operator, _ := tokenFor(t, mgr, model.RoleOperator)
	admin, _ := tokenFor(t, mgr, model.RoleAdmin)

	cases := []struct {
		name   string
		tok    string
		method string
		path   string
		want   int
	}{
		{"enlonador 不能创建", loader, http.MethodPost, "/api/despachos/live", http.StatusForbidden},
		{"operador 可创建", operator, http.MethodPost, "/api/despachos/live", http.StatusOK},
		{"enlonador 可推进", loader, http.MethodPatch, "/api/despachos/live/3/estado", http.StatusOK},
		{"operador 不能推进", operator, http.MethodPatch, "/api/despachos/live/3/estado", http.StatusForbidden},
		{"非管理员不能管理用户", operator, http.MethodGet, "/api/users", http.StatusForbidden},
		{"管理员可管理用户", admin, http.MethodGet, "/api/users", http.StatusOK},
		{"未列出的路由一律拒绝", admin, http.MethodGet, "/api/unlisted", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := do(r, tc.method, tc.path, bearer(tc.tok)); w.Code != tc.want {
				t.Errorf("期望 %d，实际 %d", tc.want, w.Code)
			}
		})
	}
}

func TestAccess_ForbiddenPageRedirect(t *testing.T) {
	mgr := testJWT()
	r := gin.New()
	r.Use(Access(AccessOptions{
		JWT:    mgr,
		Rules:  []Rule{{Pattern: "/admin/:path*", Roles: []model.RoleID{model.RoleAdmin}}},
		Logger: zap.NewNop(),
	}))
	r.GET("/admin/users", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	tok, _ := tokenFor(t, mgr, model.RoleLoader)
	w := do(r, http.MethodGet, "/admin/users", bearer(tok))
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/403" {
		t.Errorf("页面越权应跳转 /403，实际 %d %s", w.Code, w.Header().Get("Location"))
	}
}

func TestAccess_ForbiddenPageNoLoop(t *testing.T) {
	mgr := testJWT()
	r := gin.New()
	r.Use(Access(AccessOptions{
		JWT:    mgr,
		Rules:  []Rule{{Pattern: "/admin/:path*", Roles: []model.RoleID{model.RoleAdmin}}},
		Logger: zap.NewNop(),
	}))
	r.GET(ForbiddenPath, func(c *gin.Context) { c.String(http.StatusOK, "403") })

	// /403 未列入规则时，拒绝页本身不能再跳转回自己
	tok, _ := tokenFor(t, mgr, model.RoleLoader)
	w := do(r, http.MethodGet, ForbiddenPath, bearer(tok))
	if w.Code != http.StatusForbidden {
		t.Errorf("期望 403，实际 %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "" {
		t.Errorf("拒绝页不应再跳转，实际 Location=%s", loc)
	}
}

func TestAccess_Blacklisted(t *testing.T) {
	mgr := testJWT()
	tok, claims := tokenFor(t, mgr, model.RoleAdmin)
	r := setupAccessRouter(mgr, memBlacklist{claims.ID: true})

	if w := do(r, http.MethodGet, "/api/despachos/live", bearer(tok)); w.Code != http.StatusUnauthorized {
		t.Errorf("已登出的令牌期望 401，实际 %d", w.Code)
	}
}

func TestAccess_SecurityHeadersOnEveryResponse(t *testing.T) {
	r := setupAccessRouter(testJWT(), nil)

	for _, path := range []string{"/login", "/api/despachos/live"} {
		w := do(r, http.MethodGet, path, nil)
		h := w.Header()
		if h.Get("Strict-Transport-Security") != "max-age=63072000; includeSubDomains; preload" ||
			h.Get("X-Frame-Options") != "DENY" ||
			h.Get("X-Content-Type-Options") != "nosniff" ||
			h.Get("Referrer-Policy") != "no-referrer" ||
			h.Get("Permissions-Policy") != "camera=(), microphone=(), geolocation=()" {
			t.Errorf("%s 缺少安全头: %v", path, h)
		}
	}
}

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		pattern, path string
		want          bool
	}{
		{"/api/users", "/api/users", true},
		{"/api/users", "/api/users/1", false},
		{"/api/users/:path*", "/api/users", true},
		{"/api/users/:path*", "/api/users/1/roles", true},
		{"/api/users/:path*", "/api/userss", false},
		{"/api/despachos/live/:id/assign", "/api/despachos/live/9/assign", true},
		{"/api/despachos/live/:id/assign", "/api/despachos/live/assign", false},
		{"/", "/", true},
	}
	for _, tc := range cases {
		if got := MatchPattern(tc.pattern, tc.path); got != tc.want {
			t.Errorf("MatchPattern(%q, %q) = %v，期望 %v", tc.pattern, tc.path, got, tc.want)
		}
	}
}

func TestCronSecret(t *testing.T) {
	r := gin.New()
	r.POST("/api/despachos", CronSecret("s3cret"), func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	if w := do(r, http.MethodPost, "/api/despachos", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("缺少密钥期望 401，实际 %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/api/despachos", bearer("wrong")); w.Code != http.StatusUnauthorized {
		t.Errorf("错误密钥期望 401，实际 %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/api/despachos", bearer("s3cret")); w.Code != http.StatusOK {
		t.Errorf("正确密钥期望 200，实际 %d", w.Code)
	}
}

func TestBodyLimit(t *testing.T) {
	r := gin.New()
	r.Use(BodyLimit(8))
	r.POST("/x", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("0123456789"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("超限请求体期望 413，实际 %d", w.Code)
	}
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })

	w := do(r, http.MethodGet, "/x", func(req *http.Request) { req.Header.Set("X-Request-ID", "abc") })
	if w.Header().Get("X-Request-ID") != "abc" || w.Body.String() != "abc" {
		t.Error("应沿用传入的 X-Request-ID")
	}
	w = do(r, http.MethodGet, "/x", nil)
	if len(w.Header().Get("X-Request-ID")) != 36 {
		t.Error("缺省时应生成 UUID")
	}
}
