// Package cmd implements the aclsync subcommands.
package cmd

import (
	"flag"
	"os"

	"grimm.is/aclsync/internal/acl"
	"grimm.is/aclsync/internal/brand"
	"grimm.is/aclsync/internal/client"
	"grimm.is/aclsync/internal/i18n"
)

// Printer formats CLI output for the user's locale.
var Printer = i18n.NewCLIPrinter()

// DefaultAPIURL matches the daemon's default listen address.
const DefaultAPIURL = "http://127.0.0.1:8089"

// RemoteOptions selects the daemon a client command talks to.
type RemoteOptions struct {
	URL         string
	APIKey      string
	Fingerprint string
}

// AddRemoteFlags registers the daemon address flags on fs. Defaults come
// from <PREFIX>_API_URL and <PREFIX>_API_KEY.
func AddRemoteFlags(fs *flag.FlagSet) *RemoteOptions {
	o := &RemoteOptions{}
	url := os.Getenv(brand.ConfigEnvPrefix + "_API_URL")
	if url == "" {
		url = DefaultAPIURL
	}
	key := os.Getenv(brand.ConfigEnvPrefix + "_API_KEY")

	fs.StringVar(&o.URL, "remote", url, "Daemon API URL")
	fs.StringVar(&o.URL, "r", url, "Daemon API URL (short)")
	fs.StringVar(&o.APIKey, "api-key", key, "API key")
	fs.StringVar(&o.APIKey, "k", key, "API key (short)")
	fs.StringVar(&o.Fingerprint, "fingerprint", "", "Expected SHA-256 fingerprint of the server certificate")
	return o
}

// Client builds an API client for the selected daemon.
func (o *RemoteOptions) Client() *client.HTTPClient {
	opts := []client.ClientOption{client.WithAPIKey(o.APIKey)}
	if o.Fingerprint != "" {
		opts = append(opts, client.WithFingerprint(o.Fingerprint))
	}
	return client.NewHTTPClient(o.URL, opts...)
}

// AddFilterFlags registers the ruleset filter flags on fs.
func AddFilterFlags(fs *flag.FlagSet) *acl.Filter {
	f := &acl.Filter{}
	fs.StringVar(&f.Interface, "interface", "", "Only this interface")
	fs.StringVar(&f.Interface, "i", "", "Only this interface (short)")
	fs.StringVar(&f.Direction, "direction", "", "Only this direction (in, out)")
	fs.StringVar(&f.Direction, "d", "", "Only this direction (short)")
	fs.StringVar(&f.Group, "group", "", "Only this rule group")
	fs.StringVar(&f.Group, "g", "", "Only this rule group (short)")
	return f
}

// normalizeFilter checks the direction before it goes on the wire.
func normalizeFilter(f acl.Filter) (acl.Filter, error) {
	if f.Direction == "" {
		return f, nil
	}
	dir, err := acl.ParseDirection(f.Direction)
	if err != nil {
		return f, err
	}
	f.Direction = dir
	return f, nil
}
