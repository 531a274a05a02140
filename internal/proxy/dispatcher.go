package proxy

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/shardis/internal/backend"
	"github.com/dreamware/shardis/internal/resp"
	"github.com/dreamware/shardis/internal/topology"
)

// handlerFunc serves one command. It receives the calling session for auth
// state and returns the reply plus whether the session should close after
// the reply is flushed.
type handlerFunc func(s *session, args [][]byte) (resp.Reply, bool)

// Dispatcher holds the command table and the shared routing state: the
// topology registry and the backend connection pool. One instance serves
// every session; per-client state (auth) lives on the session.
type Dispatcher struct {
	reg      *topology.Registry
	pool     *backend.Pool
	log      *slog.Logger
	password string

	handlers    map[string]handlerFunc
	commandList string
}

// NewDispatcher builds the dispatcher and its command table. An empty
// password disables AUTH gating.
func NewDispatcher(reg *topology.Registry, pool *backend.Pool, password string, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		reg:      reg,
		pool:     pool,
		log:      log,
		password: password,
	}
	d.handlers = map[string]handlerFunc{
		"ADDSHARD":       d.onAddShard,
		"AUTH":           d.onAuth,
		"CONFIG":         d.onConfig,
		"DEL":            d.onDel,
		"ECHO":           d.onEcho,
		"GET":            d.onGet,
		"INFO":           d.onInfo,
		"LASTSAVE":       d.onLastSave,
		"PING":           d.onPing,
		"QUIT":           d.onQuit,
		"SET":            d.onSet,
		"SETREPLICANESS": d.onSetReplicaness,
		"TIME":           d.onTime,
	}

	// INFO advertises the sorted command surface; compute it once.
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	d.commandList = strings.Join(names, ",")

	return d
}

// Dispatch serves one parsed command and returns its reply plus whether the
// session should close afterwards. Command names are case-insensitive.
// When a password is configured, every command except AUTH is rejected
// until the session authenticates. A panicking handler is contained here:
// the client sees a generic error and the session keeps serving.
func (d *Dispatcher) Dispatch(s *session, cmd resp.Command) (reply resp.Reply, quit bool) {
	defer func() {
		if v := recover(); v != nil {
			d.log.Error("command handler panicked", "command", cmd.Name, "panic", v)
			reply = resp.Error("ERR Internal server error.")
			quit = false
		}
	}()

	name := strings.ToUpper(cmd.Name)
	d.log.Debug("dispatching command", "command", name, "args", len(cmd.Args))

	handler, ok := d.handlers[name]
	if !ok {
		// Unknown commands report the name as the client sent it.
		return resp.Error("ERR Unknown command: " + cmd.Name), false
	}
	if name != "AUTH" && d.password != "" && !s.authed {
		return resp.Error("ERR Not authenticated."), false
	}
	return handler(s, cmd.Args)
}

func (d *Dispatcher) onAddShard(_ *session, args [][]byte) (resp.Reply, bool) {
	if len(args) != 3 {
		return resp.Error("ERR Expected> ADDSHARD host port_number db"), false
	}
	host := string(args[0])
	port, err := strconv.Atoi(string(args[1]))
	if err != nil {
		return resp.Error("ERR Invalid port_number value."), false
	}
	db, err := strconv.Atoi(string(args[2]))
	if err != nil {
		return resp.Error("ERR Invalid db value."), false
	}

	index, err := d.reg.AddShard(host, port, db)
	if err != nil {
		return resp.Error("ERR " + err.Error()), false
	}
	d.log.Info("shard added", "index", index, "host", host, "port", port, "db", db)
	return resp.Status("OK Shard " + strconv.Itoa(index) + " is added"), false
}

func (d *Dispatcher) onSetReplicaness(_ *session, args [][]byte) (resp.Reply, bool) {
	if len(args) != 1 {
		return resp.Error("ERR Expected> SETREPLICANESS replicaness"), false
	}
	return d.setReplicaness(args[0]), false
}

// setReplicaness is shared between SETREPLICANESS and CONFIG SET
// replicaness. The nudge to add more shards fires when the requested
// replica count exceeds the shards currently registered.
func (d *Dispatcher) setReplicaness(raw []byte) resp.Reply {
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return resp.Error("ERR Invalid replicaness value.")
	}
	if err := d.reg.SetReplicaness(n); err != nil {
		return resp.Error("ERR Invalid replicaness value.")
	}
	d.log.Info("replicaness changed", "replicaness", n)
	if n > d.reg.Len() {
		return resp.Status("OK Add more shards.")
	}
	return resp.Status("OK")
}

func (d *Dispatcher) onConfig(_ *session, args [][]byte) (resp.Reply, bool) {
	if len(args) == 0 || !strings.EqualFold(string(args[0]), "SET") {
		return resp.Error("ERR Expected> CONFIG SET [key ...]"), false
	}
	rest := args[1:]
	if len(rest) == 0 {
		return resp.Error("ERR Expected> CONFIG SET key [value ...]"), false
	}
	param := string(rest[0])
	if param != "replicaness" {
		return resp.Error("ERR Unsupported CONFIG parameter: " + param), false
	}
	if len(rest) != 2 {
		return resp.Error("ERR Expected> CONFIG SET replicaness value"), false
	}
	return d.setReplicaness(rest[1]), false
}

func (d *Dispatcher) onAuth(s *session, args [][]byte) (resp.Reply, bool) {
	if len(args) != 1 {
		return resp.Error("ERR Expected> AUTH password"), false
	}
	if d.password == "" {
		return resp.Error("ERR Client sent AUTH, but no password is set."), false
	}
	s.authed = string(args[0]) == d.password
	if !s.authed {
		return resp.Error("ERR Invalid password."), false
	}
	return resp.Status("Authenticated."), false
}

func (d *Dispatcher) onPing(_ *session, args [][]byte) (resp.Reply, bool) {
	if len(args) != 0 {
		return resp.Error("ERR Expected> PING"), false
	}
	return resp.Status("PONG"), false
}

func (d *Dispatcher) onEcho(_ *session, args [][]byte) (resp.Reply, bool) {
	if len(args) != 1 {
		return resp.Error("ERR Expected> ECHO data"), false
	}
	return resp.Bulk(args[0]), false
}

func (d *Dispatcher) onTime(_ *session, args [][]byte) (resp.Reply, bool) {
	if len(args) != 0 {
		return resp.Error("ERR Expected> TIME"), false
	}
	micros := time.Now().UnixMicro()
	return resp.Array(
		resp.BulkString(strconv.FormatInt(micros/1e6, 10)),
		resp.BulkString(strconv.FormatInt(micros%1e6, 10)),
	), false
}

func (d *Dispatcher) onQuit(_ *session, args [][]byte) (resp.Reply, bool) {
	if len(args) != 0 {
		return resp.Error("ERR Expected> QUIT"), false
	}
	return resp.Status("OK Bye!"), true
}

// onInfo assembles the server state report. Sections are joined flat with
// CR LF and the report always ends with one, so a section name that
// matches nothing still yields a well-formed (nearly empty) bulk.
func (d *Dispatcher) onInfo(_ *session, args [][]byte) (resp.Reply, bool) {
	if len(args) > 1 {
		return resp.Error("ERR Expected> INFO [section]"), false
	}
	all := len(args) == 0
	section := ""
	if !all {
		section = string(args[0])
	}

	top := d.reg.Snapshot()
	var lines []string

	if all || section == "Server" {
		lines = append(lines, "# Server", "commands:"+d.commandList)
	}
	if all || section == "Shards" {
		status := make([]byte, 0, len(top.Shards))
		for _, sh := range top.Shards {
			if d.pool.Failing(sh.Primary) {
				status = append(status, 'F')
			} else {
				status = append(status, '.')
			}
		}
		lines = append(lines,
			"# Shards",
			"count:"+strconv.Itoa(len(top.Shards)),
			"status:"+string(status),
		)
		for i, sh := range top.Shards {
			endpoints := sh.Primary.String()
			for _, rep := range sh.Replicas {
				endpoints += " " + rep.String()
			}
			lines = append(lines, "shard"+strconv.Itoa(i)+":"+endpoints)
		}
	}
	if all || section == "Cluster" {
		lines = append(lines,
			"# Cluster",
			"replicaness:"+strconv.Itoa(top.Replicaness),
		)
	}

	return resp.BulkString(strings.Join(lines, "\r\n") + "\r\n"), false
}
