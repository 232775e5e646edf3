package rbac

// DefaultModel grants permissions to roles and lets roles inherit from each
// other: admin > hr > manager > user.
const DefaultModel = `[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

// RoleHierarchy lists child -> parent pairs; a child holds every permission
// of its parent.
var RoleHierarchy = [][2]string{
	{"manager", "user"},
	{"hr", "manager"},
	{"admin", "hr"},
}

// DefaultPermissions applies when role_permissions is empty.
var DefaultPermissions = []Permission{
	{Role: "user", Resource: "attendance", Action: "read"},
	{Role: "user", Resource: "attendance", Action: "create"},
	{Role: "manager", Resource: "attendance", Action: "verify"},
	{Role: "manager", Resource: "attendance", Action: "stats"},
	{Role: "admin", Resource: "attendance", Action: "sweep"},
}
