// Package config wires DD's tunable constants through viper, the same way
// the teacher's weed/util.GetViper/ViperProxy does: a small mutex-guarded
// proxy over a package-level *viper.Viper, with defaults set once at
// startup and overridable by DD_-prefixed environment variables or Set.
// No config file is read.
package config

import (
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Proxy mirrors weed/util.ViperProxy: a locked wrapper so concurrent
// collaborators can read tunables without racing viper's internal maps.
type Proxy struct {
	v *viper.Viper
	sync.Mutex
}

var (
	once  sync.Once
	proxy *Proxy
)

// Get returns the process-wide configuration proxy, initializing it with
// DD's defaults on first use.
func Get() *Proxy {
	once.Do(func() {
		v := viper.New()
		v.AutomaticEnv()
		v.SetEnvPrefix("dd")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		proxy = &Proxy{v: v}
		proxy.setDefaults()
	})
	return proxy
}

func (p *Proxy) setDefaults() {
	p.v.SetDefault("movekeys.krm_limit", 2000)
	p.v.SetDefault("movekeys.krm_limit_bytes", 1_000_000)
	p.v.SetDefault("movekeys.lock_polling_delay", "5s")
	p.v.SetDefault("dd.enabled_check_delay", "1s")
	p.v.SetDefault("dd.storage_team_size", 3)
	p.v.SetDefault("dd.region.primary_dc", "")
	p.v.SetDefault("dd.region.remote_dcs", []string{})
	p.v.SetDefault("snapshot.create_max_timeout", "300s")
	p.v.SetDefault("snapshot.create_max_timeout_simulation", "70s")
	p.v.SetDefault("snapshot.max_storage_fault_tolerance", 1)
	p.v.SetDefault("snapshot.max_coordinator_fault_tolerance", 1)
	p.v.SetDefault("snapshot.wait_for_most_slow_multiplier", 1.0)
	p.v.SetDefault("wiggler.namespace.primary", "primary")
	p.v.SetDefault("wiggler.namespace.remote", "remote")
	p.v.SetDefault("cache.watch_reconcile_interval", "5s")
}

func (p *Proxy) SetDefault(key string, value interface{}) {
	p.Lock()
	defer p.Unlock()
	p.v.SetDefault(key, value)
}

func (p *Proxy) GetString(key string) string {
	p.Lock()
	defer p.Unlock()
	return p.v.GetString(key)
}

func (p *Proxy) GetInt(key string) int {
	p.Lock()
	defer p.Unlock()
	return p.v.GetInt(key)
}

func (p *Proxy) GetInt64(key string) int64 {
	p.Lock()
	defer p.Unlock()
	return p.v.GetInt64(key)
}

func (p *Proxy) GetBool(key string) bool {
	p.Lock()
	defer p.Unlock()
	return p.v.GetBool(key)
}

func (p *Proxy) GetFloat64(key string) float64 {
	p.Lock()
	defer p.Unlock()
	return p.v.GetFloat64(key)
}

func (p *Proxy) GetDuration(key string) time.Duration {
	p.Lock()
	defer p.Unlock()
	return p.v.GetDuration(key)
}

func (p *Proxy) GetStringSlice(key string) []string {
	p.Lock()
	defer p.Unlock()
	return p.v.GetStringSlice(key)
}

// Set overrides a key; mainly useful for tests.
func (p *Proxy) Set(key string, value interface{}) {
	p.Lock()
	defer p.Unlock()
	p.v.Set(key, value)
}
