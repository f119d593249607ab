// Package authz decides which roles may perform each protected operation.
package authz

import (
	"fmt"

	"github.com/dmitrijs2005/pmdash/internal/common"
	"github.com/dmitrijs2005/pmdash/internal/server/auth"
	"github.com/dmitrijs2005/pmdash/internal/server/models"
)

type Operation string

const (
	OpSetup2FA       Operation = "setup-2fa"
	OpEnable2FA      Operation = "enable-2fa"
	OpDisable2FA     Operation = "disable-2fa"
	OpChangePassword Operation = "change-password"
	OpGetProfile     Operation = "get-profile"
	OpUpdateProfile  Operation = "update-profile"
	OpProtected      Operation = "protected"
	OpAdminOnly      Operation = "admin-only"
	OpIntrospect     Operation = "introspect"
)

// Policy maps operations to the roles allowed to perform them.
// Operations missing from the map are denied.
type Policy struct {
	rules map[Operation]map[models.Role]struct{}
}

func NewPolicy(rules map[Operation][]models.Role) *Policy {
	p := &Policy{rules: make(map[Operation]map[models.Role]struct{}, len(rules))}
	for op, roles := range rules {
		set := make(map[models.Role]struct{}, len(roles))
		for _, r := range roles {
			set[r] = struct{}{}
		}
		p.rules[op] = set
	}
	return p
}

func DefaultPolicy() *Policy {
	both := []models.Role{models.RoleAdmin, models.RoleClient}
	adminOnly := []models.Role{models.RoleAdmin}

	return NewPolicy(map[Operation][]models.Role{
		OpSetup2FA:       adminOnly,
		OpEnable2FA:      adminOnly,
		OpDisable2FA:     adminOnly,
		OpChangePassword: both,
		OpGetProfile:     both,
		OpUpdateProfile:  both,
		OpProtected:      both,
		OpAdminOnly:      adminOnly,
		OpIntrospect:     both,
	})
}

// Authorize returns common.ErrorUnauthorized without claims and
// common.ErrForbidden when the role may not perform op.
func (p *Policy) Authorize(claims *auth.Claims, op Operation) error {
	if claims == nil {
		return common.ErrorUnauthorized
	}
	if _, ok := p.rules[op][claims.Role]; !ok {
		return fmt.Errorf("%s as %q: %w", op, claims.Role, common.ErrForbidden)
	}
	return nil
}
