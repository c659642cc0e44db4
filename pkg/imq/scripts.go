package imq

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// moveDelayedScript atomically promotes every delayed entry due by "now"
// from the sorted set into the list, in score order, and reports how many
// it moved. KEYS: [zsetKey, listKey]. ARGV: [nowMs].
const moveDelayedScript = `
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if #due == 0 then
  return 0
end
for i = 1, #due do
  redis.call('LPUSH', KEYS[2], due[i])
end
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
return #due
`

// script is a named server-side script cached by its SHA1 checksum.
type script struct {
	name     string
	code     string
	checksum string
}

func newScript(name, code string) script {
	sum := sha1.Sum([]byte(code))
	return script{name: name, code: code, checksum: hex.EncodeToString(sum[:])}
}

// scriptRegistry lazily loads and invokes server-side scripts by hash,
// reloading the script and retrying EVALSHA once on NOSCRIPT (the server's
// script cache can be flushed independently of this process's lifetime via
// SCRIPT FLUSH).
type scriptRegistry struct {
	client  *redis.Client
	scripts map[string]script
	loaded  map[string]bool
}

func newScriptRegistry(client *redis.Client) *scriptRegistry {
	r := &scriptRegistry{
		client:  client,
		scripts: make(map[string]script),
		loaded:  make(map[string]bool),
	}
	r.scripts["moveDelayed"] = newScript("moveDelayed", moveDelayedScript)
	return r
}

func (r *scriptRegistry) ensureLoaded(ctx context.Context, name string) (script, error) {
	sc, ok := r.scripts[name]
	if !ok {
		return script{}, fmt.Errorf("imq: unknown script %q", name)
	}
	if r.loaded[name] {
		return sc, nil
	}
	exists, err := r.client.ScriptExists(ctx, sc.checksum).Result()
	if err != nil {
		return sc, newError(OnScriptLoad, CodeScript, "", fmt.Errorf("imq: SCRIPT EXISTS %s: %w", name, err))
	}
	if len(exists) == 0 || !exists[0] {
		if _, err := r.client.ScriptLoad(ctx, sc.code).Result(); err != nil {
			return sc, newError(OnScriptLoad, CodeScript, "", fmt.Errorf("imq: SCRIPT LOAD %s: %w", name, err))
		}
	}
	r.loaded[name] = true
	return sc, nil
}

// eval invokes a registered script by hash, reloading it once on NOSCRIPT.
func (r *scriptRegistry) eval(ctx context.Context, name string, keys []string, args ...any) (*redis.Cmd, error) {
	sc, err := r.ensureLoaded(ctx, name)
	if err != nil {
		return nil, err
	}
	cmd := r.client.EvalSha(ctx, sc.checksum, keys, args...)
	if err := cmd.Err(); err != nil {
		if isNoScript(err) {
			r.loaded[name] = false
			if _, lerr := r.ensureLoaded(ctx, name); lerr != nil {
				return nil, lerr
			}
			cmd = r.client.EvalSha(ctx, sc.checksum, keys, args...)
			if err := cmd.Err(); err != nil {
				return nil, newError(OnScriptLoad, CodeScript, "", fmt.Errorf("imq: EVALSHA %s retry: %w", name, err))
			}
			return cmd, nil
		}
		return nil, newError(OnScriptLoad, CodeScript, "", fmt.Errorf("imq: EVALSHA %s: %w", name, err))
	}
	return cmd, nil
}

func isNoScript(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "NOSCRIPT")
}
