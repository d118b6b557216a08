package auth

import (
	"fmt"
	"net/http"
	"strings"

	"backend/internal/access"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// 身份由外部身份系统签发的 JWT 携带，本服务只校验签名并取出
// 操作者 ID 与角色，不做任何账号管理。

// actorContextKey 操作者上下文键
const actorContextKey = "actor"

// Claims JWT 声明
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier 令牌校验器
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier 创建令牌校验器
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Parse 校验令牌并还原操作者身份。
func (v *Verifier) Parse(tokenString string) (access.Actor, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("不支持的签名算法: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return access.Actor{}, fmt.Errorf("令牌校验失败: %w", err)
	}
	if !token.Valid {
		return access.Actor{}, fmt.Errorf("令牌无效")
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return access.Actor{}, fmt.Errorf("令牌签发方不匹配")
	}
	if claims.Subject == "" {
		return access.Actor{}, fmt.Errorf("令牌缺少用户标识")
	}
	return access.Actor{ID: claims.Subject, Role: access.Role(claims.Role)}, nil
}

// Middleware JWT 认证中间件，将操作者身份注入请求上下文。
func Middleware(verifier *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "缺少认证令牌"})
			c.Abort()
			return
		}
		tokenString := extractBearer(authHeader)
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "无效的令牌格式"})
			c.Abort()
			return
		}
		actor, err := verifier.Parse(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}
		c.Set(actorContextKey, actor)
		c.Next()
	}
}

// GetActor 从请求上下文取出操作者身份。
func GetActor(c *gin.Context) (access.Actor, bool) {
	v, ok := c.Get(actorContextKey)
	if !ok {
		return access.Actor{}, false
	}
	actor, ok := v.(access.Actor)
	return actor, ok
}

// SetActor 将操作者身份写入上下文，测试用。
func SetActor(c *gin.Context, actor access.Actor) {
	c.Set(actorContextKey, actor)
}

func extractBearer(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
