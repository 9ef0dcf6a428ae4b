package capsule

import (
	"slices"
	"strconv"
	"strings"
)

// normalizeChannels validates names and returns them sorted and de-duplicated,
// so that equivalent subscriptions map to the same listener key.
func normalizeChannels(names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, ErrNoChannels
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			return nil, ErrEmptyChannel
		}
		out = append(out, name)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// channelKey is the cache key of a channel handle.
func channelKey(name string, ep Endpoint) string {
	return strconv.Quote(name) + "@" + ep.Key()
}

// listenerKey is the cache key of a listener. Names must be normalized.
// Each name is quoted so names containing the separator cannot collide.
func listenerKey(channels []string, ep Endpoint) string {
	quoted := make([]string, len(channels))
	for i, name := range channels {
		quoted[i] = strconv.Quote(name)
	}
	return strings.Join(quoted, ",") + "@" + ep.Key()
}
