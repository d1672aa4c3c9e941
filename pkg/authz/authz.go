package authz

import (
	"payhuk-core/pkg/config"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("authz", fx.Provide(NewEnforcer))

const (
	RoleAnonymous = "anonymous"
	RoleBuyer     = "buyer"
	RoleService   = "service"
	RoleAdmin     = "admin"
)

const defaultModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch2(r.obj, p.obj) && (r.act == p.act || p.act == "*")
`

// defaultPolicy grants anonymous callers what a bare token or license key
// already proves. Buyers act on their own resources, the order service
// drives license creation, and admins inherit every role.
var defaultPolicy = [][]string{
	{RoleAnonymous, "/v1/downloads/:token", "GET"},
	{RoleAnonymous, "/v1/licenses/validate", "POST"},
	{RoleAnonymous, "/v1/licenses/activate", "POST"},
	{RoleAnonymous, "/v1/licenses/deactivate", "POST"},
	{RoleAnonymous, "/v1/rates", "GET"},
	{RoleAnonymous, "/v1/rates/convert", "GET"},

	{RoleBuyer, "/v1/download-tokens", "POST"},
	{RoleBuyer, "/v1/download-tokens/:id", "GET"},
	{RoleBuyer, "/v1/licenses", "GET"},
	{RoleBuyer, "/v1/licenses/:key", "GET"},
	{RoleBuyer, "/v1/licenses/transfer", "POST"},

	{RoleService, "/v1/licenses", "POST"},
	{RoleService, "/v1/licenses/confirm", "POST"},

	{RoleAdmin, "/v1/*", "*"},
}

var defaultGrouping = [][]string{
	{RoleBuyer, RoleAnonymous},
	{RoleService, RoleAnonymous},
	{RoleAdmin, RoleBuyer},
	{RoleAdmin, RoleService},
}

// NewEnforcer loads ACCESS_CONTROL.MODEL and ACCESS_CONTROL.POLICY when
// both are set and falls back to the built-in role table otherwise.
func NewEnforcer(cfg *config.Config) (*casbin.Enforcer, error) {
	ac := cfg.AccessControl
	if ac.Model != "" && ac.Policy != "" {
		zap.L().Info("[Authz] loading policy from files", zap.String("model", ac.Model), zap.String("policy", ac.Policy))
		return casbin.NewEnforcer(ac.Model, ac.Policy)
	}
	return NewDefaultEnforcer()
}

func NewDefaultEnforcer() (*casbin.Enforcer, error) {
	m, err := model.NewModelFromString(defaultModel)
	if err != nil {
		return nil, err
	}

	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}
	if _, err := e.AddPolicies(defaultPolicy); err != nil {
		return nil, err
	}
	if _, err := e.AddGroupingPolicies(defaultGrouping); err != nil {
		return nil, err
	}
	return e, nil
}
