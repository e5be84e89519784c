package types

// BotResult is a bit flag set returned by a module instance's Run call for
// a single C2 server. ARCHIVE dominates WORKING when computing the final
// task status; CONTINUE is orthogonal to both and only controls whether
// the executor advances to the next C2 server.
type BotResult int

const (
	ResultEmpty BotResult = 0
	// ResultWorking marks the C2 server as having produced a usable result.
	ResultWorking BotResult = 1 << iota
	// ResultContinue tells the executor to keep iterating C2 servers
	// instead of stopping after this one.
	ResultContinue
	// ResultArchive tells the executor this tracker is dead and the owning
	// bot should be archived regardless of WORKING.
	ResultArchive
)

// Has reports whether flag is set in r.
func (r BotResult) Has(flag BotResult) bool { return r&flag != 0 }

// C2Server is one command-and-control endpoint a module is asked to
// impersonate against, as produced by a module's GetCNCServers.
type C2Server struct {
	Address string
	Extra   map[string]any
}

// ModuleInput is everything a module instance needs to execute one task.
type ModuleInput struct {
	// Config is the tracker's static configuration. Config["_id"] is
	// stamped with the tracker's config hash before the module runs
	// (a pass-through convenience field modules may read but need not).
	Config map[string]any
	// State is the bot's saved state carried across task executions.
	State map[string]any
	// Proxy is the connection string the module must route all its
	// outbound requests through.
	Proxy string
}
