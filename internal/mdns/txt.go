package mdns

import (
	"sort"
	"strings"

	"github.com/qopyapp/p2pcore/internal/discovery"
)

// encodeTXT renders properties as sorted key=value strings.
func encodeTXT(props map[string]string) []string {
	txt := make([]string, 0, len(props))
	for k, v := range props {
		txt = append(txt, k+"="+v)
	}
	sort.Strings(txt)
	return txt
}

// decodeTXT splits TXT strings at the first "=". A string without "="
// yields a property with a nil value.
func decodeTXT(txt []string) []discovery.Property {
	props := make([]discovery.Property, 0, len(txt))
	for _, s := range txt {
		if s == "" {
			continue
		}
		key, value, ok := strings.Cut(s, "=")
		p := discovery.Property{Key: key}
		if ok {
			p.Value = []byte(value)
		}
		props = append(props, p)
	}
	return props
}
