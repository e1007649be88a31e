package gateway

// Auth endpoints consumed by the session lifecycle. Domain endpoints
// (calendar, events, assignments, notifications) are opaque pass-through.
const (
	EndpointLogin          = "/login"
	EndpointRegister       = "/register"
	EndpointLogout         = "/logout"
	EndpointRefresh        = "/refresh"
	EndpointUser           = "/user"
	EndpointForgotPassword = "/forgot-password"
	EndpointResetPassword  = "/reset-password"
)

// authlessEndpoints never get a bearer token attached: login must not send
// a stale or foreign credential, and the password-reset flow runs logged
// out by definition.
var authlessEndpoints = map[string]struct{}{
	EndpointLogin:          {},
	EndpointRegister:       {},
	EndpointForgotPassword: {},
	EndpointResetPassword:  {},
}

// unauthorizedStatuses are the responses that mean the credential is no
// longer accepted. 419 is the backend's session-expired status.
var unauthorizedStatuses = map[int]struct{}{
	401: {},
	419: {},
}

// isExemptEndpoint reports whether endpoint is excluded from proactive
// refresh and from the auto-clear-on-401 behaviour. A 401 from these
// endpoints must not destroy a session that was never established.
func isExemptEndpoint(endpoint string) bool {
	if _, ok := authlessEndpoints[endpoint]; ok {
		return true
	}
	return endpoint == EndpointRefresh
}

// isAuthlessEndpoint reports whether endpoint must be called without a
// bearer token.
func isAuthlessEndpoint(endpoint string) bool {
	_, ok := authlessEndpoints[endpoint]
	return ok
}
