package credentials

// UserRecord is the persisted per-user system record, stored as JSON at
// <database_path>/sys/users/<username>.
type UserRecord struct {
	Username string `json:"username"`
	// Password is HMAC-SHA256(master, raw_password), hex-encoded.
	Password string `json:"password"`

	// APIKeys and APISecrets are index-aligned: APIKeys[i] was issued
	// together with APISecrets[i].
	APIKeys    []string `json:"api_keys"`
	APISecrets []string `json:"api_secrets"`

	// AccessTokens and AccessTokensExpiration are index-aligned:
	// AccessTokens[i] expires at AccessTokensExpiration[i] (seconds since
	// epoch, UTC).
	AccessTokens           []string `json:"access_tokens"`
	AccessTokensExpiration []int64  `json:"access_tokens_expiration"`
}

// invariant reports whether the index-aligned slice pairs are the same
// length, a structural invariant that must hold across every mutation.
func (u *UserRecord) invariant() bool {
	return len(u.APIKeys) == len(u.APISecrets) &&
		len(u.AccessTokens) == len(u.AccessTokensExpiration)
}
