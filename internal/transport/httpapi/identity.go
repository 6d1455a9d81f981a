package httpapi

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
)

// Заголовки, которые выставляет шлюз аутентификации.
const (
	HeaderUserID   = "X-User-Id"
	HeaderUserRole = "X-User-Role"
	HeaderBranchID = "X-Branch-Id"
)

const actorKey = "bakery.actor"

// identity разбирает currentUser() из заголовков. Без них запрос отклоняется с 401.
func (h *Handler) identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		rawRole := c.GetHeader(HeaderUserRole)
		if userID == "" || strings.TrimSpace(rawRole) == "" {
			h.respondError(c, errMissingIdentity)
			return
		}
		role, err := domain.ParseRole(rawRole)
		if err != nil {
			h.respondError(c, errMissingIdentity)
			return
		}

		actor := domain.Actor{UserID: userID, Role: role}
		if role == domain.RoleStaff {
			actor.BranchID = strings.TrimSpace(c.GetHeader(HeaderBranchID))
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

func actorFrom(c *gin.Context) domain.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(domain.Actor); ok {
			return actor
		}
	}
	return domain.Actor{}
}

// requireRole пропускает только перечисленные роли.
func (h *Handler) requireRole(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := actorFrom(c)
		for _, role := range roles {
			if actor.Role == role {
				c.Next()
				return
			}
		}
		h.respondError(c, domain.ErrForbidden)
	}
}
