package driven

// IdentitySource defines the driven port for reading the platform-issued
// workload identity token.
type IdentitySource interface {
	// ReadIdentityToken returns the trimmed token or an *IdentitySourceError.
	ReadIdentityToken() (string, error)
}
