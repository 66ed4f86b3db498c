package core

// DefaultPort is the port offered when the operator does not pick one.
const DefaultPort = 7767

// Config holds what the front-end collected from the operator. It is passed
// by value into the server; nothing reads it from package state.
type Config struct {
	Root      string // file or directory to serve
	Port      int
	Interface string // bind address, empty for all interfaces

	History   string // sqlite file for download history, empty to disable
	RedisHost string // redis host:port for download events, empty to disable

	WebDAV  bool // mount a read-only WebDAV view at /dav
	Metrics bool // expose /metrics
	Pretty  bool // indent rendered HTML
}
