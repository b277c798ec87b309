package bluetooth

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Properties is the characteristic property bitmask. The low byte matches the
// GATT characteristic declaration; the encryption flags are local extensions.
type Properties uint16

const (
	PropertyBroadcast                  Properties = 0x01
	PropertyRead                       Properties = 0x02
	PropertyWriteWithoutResponse       Properties = 0x04
	PropertyWrite                      Properties = 0x08
	PropertyNotify                     Properties = 0x10
	PropertyIndicate                   Properties = 0x20
	PropertyAuthenticatedSignedWrites  Properties = 0x40
	PropertyExtendedProperties         Properties = 0x80
	PropertyNotifyEncryptionRequired   Properties = 0x100
	PropertyIndicateEncryptionRequired Properties = 0x200
)

var propertyNames = []struct {
	flag Properties
	name string
}{
	{PropertyBroadcast, "broadcast"},
	{PropertyRead, "read"},
	{PropertyWriteWithoutResponse, "write-without-response"},
	{PropertyWrite, "write"},
	{PropertyNotify, "notify"},
	{PropertyIndicate, "indicate"},
	{PropertyAuthenticatedSignedWrites, "authenticated-signed-writes"},
	{PropertyExtendedProperties, "extended-properties"},
	{PropertyNotifyEncryptionRequired, "notify-encryption-required"},
	{PropertyIndicateEncryptionRequired, "indicate-encryption-required"},
}

// Has reports whether all flags in f are set.
func (p Properties) Has(f Properties) bool {
	return p&f == f
}

// CanNotify reports whether the characteristic supports notify or indicate.
func (p Properties) CanNotify() bool {
	return p&(PropertyNotify|PropertyIndicate) != 0
}

// String renders the set flags as a comma separated list, e.g. "read,notify".
func (p Properties) String() string {
	var names []string
	for _, pn := range propertyNames {
		if p&pn.flag != 0 {
			names = append(names, pn.name)
		}
	}
	return strings.Join(names, ",")
}

// ParseProperties parses a comma separated list as produced by Properties.String.
// "write-nr" and "wnr" are accepted for write-without-response.
func ParseProperties(s string) (Properties, error) {
	var p Properties
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if part == "write-nr" || part == "wnr" {
			part = "write-without-response"
		}
		found := false
		for _, pn := range propertyNames {
			if pn.name == part {
				p |= pn.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown characteristic property %q", part)
		}
	}
	return p, nil
}

// MarshalYAML writes the flags by name.
func (p Properties) MarshalYAML() (any, error) {
	return p.String(), nil
}

// UnmarshalYAML accepts a flag list such as "read,notify" or the raw bitmask.
func (p *Properties) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: properties must be a scalar", n.Line)
	}
	if n.Tag == "!!int" {
		v, err := strconv.ParseUint(n.Value, 0, 16)
		if err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		*p = Properties(v)
		return nil
	}
	parsed, err := ParseProperties(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*p = parsed
	return nil
}

// Permissions controls how a local characteristic value may be accessed by centrals.
type Permissions uint8

const (
	PermissionReadable Permissions = 1 << iota
	PermissionWriteable
	PermissionReadEncryptionRequired
	PermissionWriteEncryptionRequired
)

func (p Permissions) Has(f Permissions) bool {
	return p&f == f
}

// Readable reports whether any read permission is granted.
func (p Permissions) Readable() bool {
	return p&(PermissionReadable|PermissionReadEncryptionRequired) != 0
}

// Writeable reports whether any write permission is granted.
func (p Permissions) Writeable() bool {
	return p&(PermissionWriteable|PermissionWriteEncryptionRequired) != 0
}
