package auth

// Known OAuth scopes used by the activity endpoints.
const (
	ScopeActivitiesWrite = "activities:write"
	ScopeActivitiesRead  = "activities:read"
)
