package middleware

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"control-despacho/backend/internal/model"
	"control-despacho/backend/pkg/jwt"
	"control-despacho/backend/pkg/response"
)

// 上下文键
const (
	ClaimsKey = "claims"
	UserIDKey = "user_id"
	RoleIDKey = "role_id"
)

// 页面请求失败时的跳转目标
const (
	LoginPath     = "/login"
	ForbiddenPath = "/403"
)

// Rule 一条访问规则
// Method 为空表示任意方法；Roles 为空表示任意已登录角色
// Pattern 支持精确路径、单段参数 ":id" 与尾部通配 ":path*"
type Rule struct {
	Method  string
	Pattern string
	Roles   []model.RoleID
}

// Matches 判断规则是否命中请求
func (r Rule) Matches(method, path string) bool {
	if r.Method != "" && !strings.EqualFold(r.Method, method) {
		return false
	}
	return MatchPattern(r.Pattern, path)
}

// Allows 判断角色是否被允许
func (r Rule) Allows(role model.RoleID) bool {
	return len(r.Roles) == 0 || role.In(r.Roles...)
}

// MatchPattern 匹配路径模式
func MatchPattern(pattern, path string) bool {
	ps := splitPath(pattern)
	xs := splitPath(path)

	for i, seg := range ps {
		if strings.HasPrefix(seg, ":") && strings.HasSuffix(seg, "*") {
			// 尾部通配匹配零或多段
			return i == len(ps)-1
		}
		if i >= len(xs) {
			return false
		}
		if strings.HasPrefix(seg, ":") {
			continue
		}
		if seg != xs[i] {
			return false
		}
	}
	return len(ps) == len(xs)
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// TokenBlacklist 令牌黑名单查询能力
type TokenBlacklist interface {
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}

// AccessOptions 访问控制配置
type AccessOptions struct {
	JWT        *jwt.Manager
	Public     []Rule // 无需会话（自带机器凭证的路由也列在此处）
	Rules      []Rule // 按顺序首个命中生效，未命中一律拒绝
	CookieName string
	Blacklist  TokenBlacklist // 可为 nil
	Logger     *zap.Logger
}

// Access 全局访问控制中间件
//  1. 公开路由直接放行
//  2. 从 Authorization: Bearer 或会话 Cookie 提取令牌并校验
//  3. 按规则表首个命中项校验角色
func Access(opts AccessOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		method, path := c.Request.Method, c.Request.URL.Path

		// CORS 预检由 CORS 中间件处理
		if method == http.MethodOptions {
			c.Next()
			return
		}

		for _, r := range opts.Public {
			if r.Matches(method, path) {
				c.Next()
				return
			}
		}

		token := extractToken(c, opts.CookieName)
		if token == "" {
			denyUnauthenticated(c, path)
			return
		}

		claims, err := opts.JWT.ParseToken(token)
		if err != nil {
			denyUnauthenticated(c, path)
			return
		}

		if opts.Blacklist != nil && claims.ID != "" {
			revoked, err := opts.Blacklist.IsBlacklisted(c.Request.Context(), claims.ID)
			if err != nil {
				// 黑名单不可用时放行，令牌本身仍受过期时间约束
				opts.Logger.Warn("查询令牌黑名单失败", zap.Error(err))
			} else if revoked {
				denyUnauthenticated(c, path)
				return
			}
		}

		role := model.RoleID(claims.RoleID)
		allowed := false
		for _, r := range opts.Rules {
			if r.Matches(method, path) {
				allowed = role.Valid() && r.Allows(role)
				break
			}
		}
		if !allowed {
			opts.Logger.Info("访问被拒绝",
				zap.Uint("user_id", claims.UserID),
				zap.Int("role_id", claims.RoleID),
				zap.String("method", method),
				zap.String("path", path),
			)
			denyForbidden(c, path)
			return
		}

		c.Set(ClaimsKey, claims)
		c.Set(UserIDKey, claims.UserID)
		c.Set(RoleIDKey, role)

		c.Next()
	}
}

// extractToken 优先读取 Bearer 头，其次读取会话 Cookie
func extractToken(c *gin.Context, cookieName string) string {
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookieName != "" {
		if v, err := c.Cookie(cookieName); err == nil {
			return v
		}
	}
	return ""
}

func isAPIPath(path string) bool {
	return path == "/api" || strings.HasPrefix(path, "/api/")
}

func denyUnauthenticated(c *gin.Context, path string) {
	if isAPIPath(path) {
		response.Abort(c, http.StatusUnauthorized, 10002, "No autenticado")
		return
	}
	q := url.Values{"authorize": {"SessionRequired"}}
	c.Redirect(http.StatusFound, LoginPath+"?"+q.Encode())
	c.Abort()
}

func denyForbidden(c *gin.Context, path string) {
	if isAPIPath(path) {
		response.Abort(c, http.StatusForbidden, 10003, "Acceso denegado")
		return
	}
	// 跳转目标自身被拒绝时直接返回 403，避免重定向循环
	if path == ForbiddenPath {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}
	c.Redirect(http.StatusFound, ForbiddenPath)
	c.Abort()
}
