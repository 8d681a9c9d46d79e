package goElevate

// Resolve picks the one post-login destination for id. Priority is admin,
// then employee, then contractor, then client, whatever combination of flags
// the backend sent. Call it only for an elevated session.
func Resolve(id Identity, cfg RedirectConfig) Destination {
	def := DefaultRedirectConfig()
	switch {
	case id.IsAdmin:
		return Destination{Role: RoleAdmin, Path: pathOr(cfg.AdminPath, def.AdminPath)}
	case id.IsEmployee:
		return Destination{Role: RoleEmployee, Path: pathOr(cfg.EmployeePath, def.EmployeePath)}
	case id.IsContractor:
		return Destination{Role: RoleContractor, Path: pathOr(cfg.ContractorPath, def.ContractorPath)}
	default:
		return Destination{Role: RoleClient, Path: pathOr(cfg.ClientPath, def.ClientPath)}
	}
}

func pathOr(p, def string) string {
	if p == "" {
		return def
	}
	return p
}
