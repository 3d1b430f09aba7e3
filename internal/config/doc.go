// Package config loads the toolauth configuration.
//
// Configuration is read from a single YAML file, config.yaml, in the
// configuration directory. The default directory is ~/.config/toolauth; the
// CLI accepts --config to point elsewhere. A missing file is not an error:
// defaults are used.
//
// # Configuration Structure
//
//	authorizationServer:
//	  issuer: "https://tenant.example.com/"
//	  clientId: "my-agent"
//	  clientSecret: ""                    # prefer TOOLAUTH_CLIENT_SECRET
//	  audience: "https://api.example.com"
//	  authStyle: "params"                 # params | header
//	  endpoints:                          # optional, skips discovery when tokenUrl is set
//	    tokenUrl: ""
//	    backchannelAuthenticationUrl: ""
//	    deviceAuthorizationUrl: ""
//	store:
//	  backend: "file"                     # memory | file | redis | keyring
//	  path: "~/.config/toolauth/store"
//	  redis:
//	    url: "redis://localhost:6379/0"
//	    prefix: "toolauth:"
//	  keyring:
//	    service: "toolauth"
//	ciba:
//	  scopes: ["openid"]
//	  bindingMessage: ""
//	  sharingScope: "tool-call"           # tool-call | tool | thread | agent
//	device:
//	  scopes: ["openid", "offline_access"]
//	federated:
//	  connection: "google-oauth2"
//	  scopes: ["https://www.googleapis.com/auth/calendar.readonly"]
//	  variant: "federated-connection"     # federated-connection | token-vault
//	logging:
//	  level: "info"
//	  format: "text"
//
// The client secret can be supplied through the TOOLAUTH_CLIENT_SECRET
// environment variable, which takes precedence over the file.
package config
