package session

import "strings"

// Banner is the identity string carried in CNXN payloads. The shape is
// system:serial:prop=value;prop=value with the feature list as a comma
// separated "features" prop, e.g.
// device::ro.product.name=x;features=shell_v2,syncv2.lz4
type Banner struct {
	System   string
	Serial   string
	Props    map[string]string
	Features []string
}

// FormatBanner renders a banner with a terminating NUL for the wire.
func FormatBanner(b Banner) []byte {
	var sb strings.Builder
	sb.WriteString(b.System)
	sb.WriteByte(':')
	sb.WriteString(b.Serial)
	sb.WriteByte(':')
	for key, value := range b.Props {
		sb.WriteString(key)
		sb.WriteByte('=')
		sb.WriteString(value)
		sb.WriteByte(';')
	}
	if len(b.Features) > 0 {
		sb.WriteString("features=")
		sb.WriteString(strings.Join(b.Features, ","))
		sb.WriteByte(';')
	}
	sb.WriteByte(0)
	return []byte(sb.String())
}

// ParseBanner decodes a device banner. Devices which predate props send just
// the system name; everything after the second colon is optional.
func ParseBanner(raw []byte) Banner {
	text := strings.TrimRight(string(raw), "\x00")
	parts := strings.SplitN(text, ":", 3)

	b := Banner{System: parts[0], Props: map[string]string{}}
	if len(parts) > 1 {
		b.Serial = parts[1]
	}
	if len(parts) < 3 {
		return b
	}

	for _, prop := range strings.Split(parts[2], ";") {
		key, value, ok := strings.Cut(prop, "=")
		if !ok || key == "" {
			continue
		}
		if key == "features" {
			b.Features = strings.Split(value, ",")
			continue
		}
		b.Props[key] = value
	}
	return b
}

// HasFeature reports whether the banner advertises the named feature.
func (b Banner) HasFeature(name string) bool {
	for _, f := range b.Features {
		if f == name {
			return true
		}
	}
	return false
}
