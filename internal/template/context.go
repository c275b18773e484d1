package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// MessageSettings is the gateway's message block, shared by all accounts.
type MessageSettings struct {
	IgnoreInvalidCQCode bool   `json:"ignore-invalid-cqcode" yaml:"ignore_invalid_cqcode"`
	ForceFragment       bool   `json:"force-fragment" yaml:"force_fragment"`
	FixURL              bool   `json:"fix-url" yaml:"fix_url"`
	ProxyRewrite        string `json:"proxy-rewrite" yaml:"proxy_rewrite"`
	ReportSelfMessage   bool   `json:"report-self-message" yaml:"report_self_message"`
	RemoveReplyAt       bool   `json:"remove-reply-at" yaml:"remove_reply_at"`
	ExtraReplyData      bool   `json:"extra-reply-data" yaml:"extra_reply_data"`
	SkipMimeScan        bool   `json:"skip-mime-scan" yaml:"skip_mime_scan"`
}

// SignServer points the gateway at a packet signature service.
type SignServer struct {
	URL              string `json:"url" yaml:"url"`
	Key              string `json:"key" yaml:"key"`
	AutoRegister     bool   `json:"auto-register" yaml:"auto_register"`
	AutoRefreshToken bool   `json:"auto-refresh-token" yaml:"auto_refresh_token"`
	RefreshInterval  int    `json:"refresh-interval" yaml:"refresh_interval"`
}

// Defaults are the supervisor-wide values every account starts from.
type Defaults struct {
	Message    MessageSettings
	SignServer SignServer
}

// Connection holds an account's connection settings.
type Connection struct {
	SelfID   string
	Protocol string
	// Endpoint is the URL the host connects to in forward modes. The
	// gateway listens on its port.
	Endpoint string
	// Path is the host's callback path for http and reverse modes.
	Path   string
	Token  string
	Secret string
}

// Gateway holds per-account gateway overrides.
type Gateway struct {
	Password string
	// Extra overrides or adds arbitrary template values.
	Extra map[string]any
}

// Listen describes where the gateway binds and how it reaches the host.
type Listen struct {
	// BindHost replaces the endpoint host, default 0.0.0.0.
	BindHost string
	// ServerHost is the host's own address, default localhost.
	ServerHost string
	ServerPort int
}

// Context is the resolved set of values a template is rendered with.
//
// Precedence, lowest first: Defaults, Connection, Gateway, then the derived
// endpoint and selfUrl.
type Context struct {
	Defaults   Defaults
	Connection Connection
	Gateway    Gateway

	// Endpoint is the rewritten bind address, empty without a connection
	// endpoint.
	Endpoint string
	// SelfURL is host:port+path, empty without a callback path.
	SelfURL string
}

// NewContext resolves the derived fields.
func NewContext(d Defaults, conn Connection, gw Gateway, l Listen) (Context, error) {
	c := Context{Defaults: d, Connection: conn, Gateway: gw}

	if conn.Endpoint != "" {
		u, err := url.Parse(conn.Endpoint)
		if err != nil {
			return Context{}, fmt.Errorf("parse endpoint %q: %w", conn.Endpoint, err)
		}
		port := u.Port()
		if port == "" {
			port = defaultPort(u.Scheme)
		}
		host := l.BindHost
		if host == "" {
			host = "0.0.0.0"
		}
		c.Endpoint = net.JoinHostPort(host, port)
	}

	if conn.Path != "" {
		host := l.ServerHost
		if host == "" {
			host = "localhost"
		}
		c.SelfURL = host + ":" + strconv.Itoa(l.ServerPort) + conn.Path
	}

	return c, nil
}

func defaultPort(scheme string) string {
	switch scheme {
	case "https", "wss":
		return "443"
	default:
		return "80"
	}
}

// Values flattens the context into the map templates are resolved against.
func (c Context) Values() map[string]any {
	v := map[string]any{
		"message":    toMap(c.Defaults.Message),
		"signServer": toMap(c.Defaults.SignServer),
	}

	set := func(key, val string) {
		if val != "" {
			v[key] = val
		}
	}
	set("selfId", c.Connection.SelfID)
	set("protocol", c.Connection.Protocol)
	set("endpoint", c.Connection.Endpoint)
	set("path", c.Connection.Path)
	set("token", c.Connection.Token)
	set("secret", c.Connection.Secret)

	set("password", c.Gateway.Password)
	for k, x := range c.Gateway.Extra {
		v[k] = x
	}

	set("endpoint", c.Endpoint)
	set("selfUrl", c.SelfURL)
	return v
}

// toMap converts a struct to a generic map through its JSON form so nested
// placeholders like ${{ message.fix-url }} resolve.
func toMap(x any) map[string]any {
	data, err := json.Marshal(x)
	if err != nil {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil
	}
	return m
}
