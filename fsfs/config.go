package fsfs

import (
	"os"
	"strconv"

	"gopkg.in/ini.v1"
)

// Config mirrors db/fsfs.conf (spec §6). Defaults follow the teacher's
// own "construct with defaults, then override from file if present"
// pattern (lib's rules.go / NewRules), just aimed at an INI file instead
// of YAML.
type Config struct {
	MemcachedServers map[string]string

	CacheFailStop bool

	EnableRepSharing bool

	EnableDirDeltification   bool
	EnablePropsDeltification bool
	MaxDeltificationWalk     int
	MaxLinearDeltification   int

	RevpropPackSizeKB      int
	CompressPackedRevprops bool
}

// DefaultConfig returns the spec §6 defaults for a repository of the
// given format.
func DefaultConfig(format int) *Config {
	return &Config{
		MemcachedServers:         map[string]string{},
		CacheFailStop:            false,
		EnableRepSharing:         formatSupportsRepSharing(format),
		EnableDirDeltification:   false,
		EnablePropsDeltification: false,
		MaxDeltificationWalk:     1023,
		MaxLinearDeltification:   16,
		RevpropPackSizeKB:        64,
		CompressPackedRevprops:   false,
	}
}

// LoadConfig reads db/fsfs.conf, overriding DefaultConfig(format) with
// whatever sections/keys are present. A missing file is not an error:
// callers get the defaults.
func LoadConfig(path string, format int) (*Config, error) {
	cfg := DefaultConfig(format)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	file, err := ini.Load(path)
	if err != nil {
		return nil, wrapErr(KindCorrupt, err, "parsing %s", path)
	}

	if sec, err := file.GetSection("memcached-servers"); err == nil {
		for _, key := range sec.Keys() {
			cfg.MemcachedServers[key.Name()] = key.Value()
		}
	}
	if sec, err := file.GetSection("caches"); err == nil {
		cfg.CacheFailStop = sec.Key("fail-stop").MustBool(cfg.CacheFailStop)
	}
	if sec, err := file.GetSection("rep-sharing"); err == nil {
		cfg.EnableRepSharing = sec.Key("enable-rep-sharing").MustBool(cfg.EnableRepSharing)
	}
	if sec, err := file.GetSection("deltification"); err == nil {
		cfg.EnableDirDeltification = sec.Key("enable-dir-deltification").MustBool(cfg.EnableDirDeltification)
		cfg.EnablePropsDeltification = sec.Key("enable-props-deltification").MustBool(cfg.EnablePropsDeltification)
		cfg.MaxDeltificationWalk = sec.Key("max-deltification-walk").MustInt(cfg.MaxDeltificationWalk)
		cfg.MaxLinearDeltification = sec.Key("max-linear-deltification").MustInt(cfg.MaxLinearDeltification)
	}
	if sec, err := file.GetSection("packed-revprops"); err == nil {
		cfg.RevpropPackSizeKB = sec.Key("revprop-pack-size").MustInt(cfg.RevpropPackSizeKB)
		cfg.CompressPackedRevprops = sec.Key("compress-packed-revprops").MustBool(cfg.CompressPackedRevprops)
	}

	return cfg, nil
}

// WriteDefaultConfig writes cfg's values out as an fsfs.conf, without
// comments and without memcached-servers, the way CreateRepository
// seeds one for a new repository.
func WriteDefaultConfig(path string, cfg *Config) error {
	file := ini.Empty()

	caches, _ := file.NewSection("caches")
	caches.NewKey("fail-stop", boolStr(cfg.CacheFailStop))

	sharing, _ := file.NewSection("rep-sharing")
	sharing.NewKey("enable-rep-sharing", boolStr(cfg.EnableRepSharing))

	delta, _ := file.NewSection("deltification")
	delta.NewKey("enable-dir-deltification", boolStr(cfg.EnableDirDeltification))
	delta.NewKey("enable-props-deltification", boolStr(cfg.EnablePropsDeltification))
	delta.NewKey("max-deltification-walk", strconv.Itoa(cfg.MaxDeltificationWalk))
	delta.NewKey("max-linear-deltification", strconv.Itoa(cfg.MaxLinearDeltification))

	packed, _ := file.NewSection("packed-revprops")
	packed.NewKey("revprop-pack-size", strconv.Itoa(cfg.RevpropPackSizeKB))
	packed.NewKey("compress-packed-revprops", boolStr(cfg.CompressPackedRevprops))

	return file.SaveTo(path)
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
