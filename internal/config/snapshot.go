package config

// Snapshot is the immutable slice of configuration a worker process needs.
// It crosses the process boundary by value; Credentials travel separately
// through the relay and are never serialized with the rest.
type Snapshot struct {
	Changeset   Changeset   `json:"changeset"`
	Review      Review      `json:"review"`
	Verbose     bool        `json:"verbose,omitempty"`
	Credentials Credentials `json:"-"`
}

type Credentials struct {
	GitHubToken string
}

const credentialGitHubToken = "github_token"

// Map returns the credentials in relay form, or nil when empty.
func (c Credentials) Map() map[string]string {
	if c.GitHubToken == "" {
		return nil
	}
	return map[string]string{credentialGitHubToken: c.GitHubToken}
}

func CredentialsFrom(m map[string]string) Credentials {
	return Credentials{GitHubToken: m[credentialGitHubToken]}
}

func (c *Config) Snapshot(creds Credentials) Snapshot {
	return Snapshot{
		Changeset:   c.Changeset,
		Review:      c.Review,
		Verbose:     c.Runtime.Verbose,
		Credentials: creds,
	}
}
