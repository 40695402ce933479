package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	memcache "github.com/pior/memcache-ascii"
)

type command struct {
	name    string
	usage   string
	info    string
	minArgs int
	maxArgs int // -1 for no limit
	run     func(ctx context.Context, client *memcache.Client, args []string) (string, error)
}

var errUsage = errors.New("wrong number of arguments")

var commands = []command{
	{"get", "get KEY", "get the value of a key", 1, 1, runGet},
	{"gets", "gets KEY", "get the value and cas token of a key", 1, 1, runGets},
	{"gat", "gat KEY EXPTIME", "get the value of a key and update its expiration", 2, 2, runGetAndTouch},
	{"mget", "mget KEY...", "get many keys at once", 1, -1, runGetMulti},
	{"set", "set KEY VALUE [FLAGS [EXPTIME]]", "store a value", 2, 4, storeWith((*memcache.Client).Set)},
	{"add", "add KEY VALUE [FLAGS [EXPTIME]]", "store a value if the key does not exist", 2, 4, storeWith((*memcache.Client).Add)},
	{"replace", "replace KEY VALUE [FLAGS [EXPTIME]]", "store a value if the key exists", 2, 4, storeWith((*memcache.Client).Replace)},
	{"append", "append KEY VALUE", "append data to an existing value", 2, 2, storeWith((*memcache.Client).Append)},
	{"prepend", "prepend KEY VALUE", "prepend data to an existing value", 2, 2, storeWith((*memcache.Client).Prepend)},
	{"cas", "cas KEY VALUE CAS [FLAGS [EXPTIME]]", "store a value if unchanged since gets", 3, 5, runCompareAndSwap},
	{"delete", "delete KEY", "delete a key", 1, 1, runDelete},
	{"incr", "incr KEY DELTA", "increment a counter", 2, 2, arithmeticWith((*memcache.Client).Increment)},
	{"decr", "decr KEY DELTA", "decrement a counter, floored at zero", 2, 2, arithmeticWith((*memcache.Client).Decrement)},
	{"touch", "touch KEY EXPTIME", "update the expiration of a key", 2, 2, runTouch},
	{"flush", "flush", "invalidate all items on every server", 0, 0, runFlushAll},
	{"version", "version", "show the version of every server", 0, 0, runVersions},
	{"ping", "ping", "check every server", 0, 0, runPing},
	{"stats", "stats [ARGS...]", "show server statistics", 0, -1, runServerStats},
	{"pool", "pool", "show client and connection pool statistics", 0, 0, runPoolStats},
}

func init() {
	sort.Slice(commands, func(i, j int) bool { return commands[i].name < commands[j].name })
}

func findCommand(name string) *command {
	name = strings.ToLower(name)
	for i := range commands {
		if commands[i].name == name {
			return &commands[i]
		}
	}
	return nil
}

func completeCommand(line string) (suggests []string) {
	line = strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd.name, line) {
			suggests = append(suggests, cmd.name+" ")
		}
	}
	return
}

func helpText() string {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, cmd := range commands {
		fmt.Fprintf(&b, "  %-36s %s\n", cmd.usage, cmd.info)
	}
	fmt.Fprintf(&b, "  %-36s %s", "quit", "exit the CLI")
	return b.String()
}

// execute runs one input line. usage is set when the arguments do not fit
// the command.
func execute(ctx context.Context, client *memcache.Client, line string) (result, usage string, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", "", nil
	}

	if strings.EqualFold(fields[0], "help") {
		return helpText(), "", nil
	}

	cmd := findCommand(fields[0])
	if cmd == nil {
		return "", "", fmt.Errorf("unknown command %q, type help for usage", fields[0])
	}

	args := fields[1:]
	if len(args) < cmd.minArgs || (cmd.maxArgs >= 0 && len(args) > cmd.maxArgs) {
		return "", "usage: " + cmd.usage, errUsage
	}

	result, err = cmd.run(ctx, client, args)
	if errors.Is(err, strconv.ErrSyntax) || errors.Is(err, strconv.ErrRange) {
		usage = "usage: " + cmd.usage
	}
	return result, usage, err
}

func formatItem(item memcache.Item) string {
	if !item.Found {
		return "(miss)"
	}
	s := fmt.Sprintf("%q flags=%d", item.Value, item.Flags)
	if item.CasID != 0 {
		s += fmt.Sprintf(" cas=%d", item.CasID)
	}
	return s
}

func runGet(ctx context.Context, client *memcache.Client, args []string) (string, error) {
	item, err := client.Get(ctx, args[0])
	if err != nil {
		return "", err
	}
	return formatItem(item), nil
}

func runGets(ctx context.Context, client *memcache.Client, args []string) (string, error) {
	item, err := client.Gets(ctx, args[0])
	if err != nil {
		return "", err
	}
	return formatItem(item), nil
}

func runGetAndTouch(ctx context.Context, client *memcache.Client, args []string) (string, error) {
	exptime, err := parseInt32(args[1])
	if err != nil {
		return "", err
	}
	item, err := client.GetAndTouch(ctx, args[0], exptime)
	if err != nil {
		return "", err
	}
	return formatItem(item), nil
}

func runGetMulti(ctx context.Context, client *memcache.Client, args []string) (string, error) {
	items, err := client.GetMulti(ctx, args)
	if err != nil {
		return "", err
	}

	lines := make([]string, 0, len(args))
	for _, key := range args {
		lines = append(lines, key+": "+formatItem(items[key]))
	}
	lines = append(lines, fmt.Sprintf("%d of %d keys found", len(items), len(args)))
	return strings.Join(lines, "\n"), nil
}

// parseItem reads KEY VALUE [FLAGS [EXPTIME]].
func parseItem(args []string) (memcache.Item, error) {
	item := memcache.Item{Key: args[0], Value: []byte(args[1])}
	if len(args) > 2 {
		flags, err := strconv.ParseUint(args[2], 10, 32)
		if err != nil {
			return item, err
		}
		item.Flags = uint32(flags)
	}
	if len(args) > 3 {
		exptime, err := parseInt32(args[3])
		if err != nil {
			return item, err
		}
		item.Expiration = exptime
	}
	return item, nil
}

func storeWith(fn func(*memcache.Client, context.Context, memcache.Item) error) func(context.Context, *memcache.Client, []string) (string, error) {
	return func(ctx context.Context, client *memcache.Client, args []string) (string, error) {
		item, err := parseItem(args)
		if err != nil {
			return "", err
		}
		if err := fn(client, ctx, item); err != nil {
			return "", err
		}
		return "stored", nil
	}
}

func runCompareAndSwap(ctx context.Context, client *memcache.Client, args []string) (string, error) {
	casID, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		return "", err
	}
	item, err := parseItem(append(args[:2:2], args[3:]...))
	if err != nil {
		return "", err
	}
	item.CasID = casID

	if err := client.CompareAndSwap(ctx, item); err != nil {
		return "", err
	}
	return "stored", nil
}

func runDelete(ctx context.Context, client *memcache.Client, args []string) (string, error) {
	if err := client.Delete(ctx, args[0]); err != nil {
		return "", err
	}
	return "deleted", nil
}

func arithmeticWith(fn func(*memcache.Client, context.Context, string, uint64) (uint64, error)) func(context.Context, *memcache.Client, []string) (string, error) {
	return func(ctx context.Context, client *memcache.Client, args []string) (string, error) {
		delta, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return "", err
		}
		value, err := fn(client, ctx, args[0], delta)
		if err != nil {
			return "", err
		}
		return strconv.FormatUint(value, 10), nil
	}
}

func runTouch(ctx context.Context, client *memcache.Client, args []string) (string, error) {
	exptime, err := parseInt32(args[1])
	if err != nil {
		return "", err
	}
	if err := client.Touch(ctx, args[0], exptime); err != nil {
		return "", err
	}
	return "touched", nil
}

func runFlushAll(ctx context.Context, client *memcache.Client, _ []string) (string, error) {
	if err := client.FlushAll(ctx); err != nil {
		return "", err
	}
	return "flushed", nil
}

func runVersions(ctx context.Context, client *memcache.Client, _ []string) (string, error) {
	versions, err := client.Versions(ctx)
	if err != nil {
		return "", err
	}
	return formatMap(versions), nil
}

func runPing(ctx context.Context, client *memcache.Client, _ []string) (string, error) {
	if err := client.Ping(ctx); err != nil {
		return "", err
	}
	return "pong", nil
}

func runServerStats(ctx context.Context, client *memcache.Client, args []string) (string, error) {
	stats, err := client.ServerStats(ctx, args...)
	if err != nil {
		return "", err
	}

	addrs := make([]string, 0, len(stats))
	for addr := range stats {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	var b strings.Builder
	for i, addr := range addrs {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(addr + ":\n")
		b.WriteString(indent(formatMap(stats[addr])))
	}
	return b.String(), nil
}

func runPoolStats(_ context.Context, client *memcache.Client, _ []string) (string, error) {
	cs := client.Stats()

	var b strings.Builder
	fmt.Fprintf(&b, "gets=%d hits=%d sets=%d deletes=%d increments=%d touches=%d errors=%d",
		cs.Gets, cs.GetHits, cs.Sets, cs.Deletes, cs.Increments, cs.Touches, cs.Errors)

	pools := client.AllPoolStats()
	sort.Slice(pools, func(i, j int) bool { return pools[i].Addr < pools[j].Addr })
	for _, sp := range pools {
		ps := sp.PoolStats
		fmt.Fprintf(&b, "\n%s: total=%d active=%d idle=%d created=%d destroyed=%d acquire_errors=%d breaker=%s",
			sp.Addr, ps.TotalConns, ps.ActiveConns, ps.IdleConns, ps.CreatedConns, ps.DestroyedConns, ps.AcquireErrors, sp.CircuitBreakerState)
	}
	return b.String(), nil
}

func parseInt32(s string) (int32, error) {
	v, err := strconv.ParseInt(s, 10, 32)
	return int32(v), err
}

func formatMap(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = k + " " + m[k]
	}
	return strings.Join(lines, "\n")
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}
