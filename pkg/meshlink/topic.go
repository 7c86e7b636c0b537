package meshlink

import (
	"fmt"
	"strings"

	"github.com/LeonardoBeccarini/espcluster/internal/model/entities"
	"github.com/LeonardoBeccarini/espcluster/internal/model/messages"
)

// Topic builds <prefix>/<dst>/<kind>/<src>.
func Topic(prefix string, dst entities.Addr, kind messages.DatagramKind, src entities.Addr) string {
	return fmt.Sprintf("%s/%s/%s/%s", prefix, dst, kind, src)
}

// InboxFilter matches everything addressed to self.
func InboxFilter(prefix string, self entities.Addr) string {
	return fmt.Sprintf("%s/%s/+/+", prefix, self)
}

// ParseTopic splits a datagram topic back into its addresses and kind.
func ParseTopic(prefix, topic string) (dst entities.Addr, kind messages.DatagramKind, src entities.Addr, err error) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return dst, kind, src, fmt.Errorf("topic %q outside prefix %q", topic, prefix)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return dst, kind, src, fmt.Errorf("topic %q: want 3 levels after prefix", topic)
	}
	if dst, err = entities.ParseAddr(parts[0]); err != nil {
		return dst, kind, src, err
	}
	kind = messages.DatagramKind(parts[1])
	if !kind.Valid() {
		return dst, kind, src, fmt.Errorf("topic %q: unknown kind %q", topic, parts[1])
	}
	src, err = entities.ParseAddr(parts[2])
	return dst, kind, src, err
}
