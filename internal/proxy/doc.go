// Package proxy routes browser traffic through a SOCKS5 proxy.
//
// Client checks that a configured proxy speaks SOCKS5 and that the start URL
// is reachable through it before any browser is launched, so that a wrong
// proxy address fails fast instead of surfacing as a page load timeout in
// every worker. EmbeddedTor starts a private Tor daemon whose SOCKS port can
// be handed to the browser factory in place of an external proxy.
package proxy
