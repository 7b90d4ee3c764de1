package config

import "strings"

// IsSecretKey reports whether a dot-separated key holds a credential.
// Every model slot carries an api_key, so secrets are matched by the
// trailing segment rather than enumerated per slot; the Telegram token
// is the one credential outside that shape.
func IsSecretKey(key string) bool {
	return strings.HasSuffix(key, ".api_key") || key == "telegram.token"
}

// Flatten converts the nested config map into dot-separated keys, e.g.
// {"models": {"flux": {"api_key": "k"}}} becomes {"models.flux.api_key": "k"}.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(key, child)
				continue
			}
			out[key] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten is the inverse of Flatten: dot-separated keys become nested
// maps, ready to remarshal into the config file.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, v := range flat {
		parts := strings.Split(key, ".")
		node := out
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = v
	}
	return out
}

// MaskSecrets copies the flat map, reducing secret values to "***" plus
// their last four characters. Empty secrets pass through unchanged so an
// unconfigured model slot stays visibly unset.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		out[k] = v
		s, ok := v.(string)
		if !ok || s == "" || !IsSecretKey(k) {
			continue
		}
		tail := s
		if len(s) > 4 {
			tail = s[len(s)-4:]
		}
		out[k] = "***" + tail
	}
	return out
}
