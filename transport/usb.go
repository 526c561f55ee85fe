package transport

// USB interface matching. Device enumeration and endpoint claiming live in
// whatever USB backend feeds a Transport; the matcher tells that backend
// which interface is the one speaking the protocol.

// Matcher selects a vendor-specific USB interface by its
// class/subclass/protocol triple, optionally narrowed to one serial number.
type Matcher struct {
	Class    uint8
	Subclass uint8
	Protocol uint8
	Serial   string
}

// ADBInterface matches the adbd bulk interface (from adb.h).
var ADBInterface = Matcher{Class: 0xFF, Subclass: 0x42, Protocol: 0x01}

// FastbootInterface matches the bootloader bulk interface (from fastboot.c).
var FastbootInterface = Matcher{Class: 0xFF, Subclass: 0x42, Protocol: 0x03}

// Matches reports whether an interface descriptor satisfies the matcher.
func (m Matcher) Matches(class, subclass, protocol uint8, serial string) bool {
	if class != m.Class || subclass != m.Subclass || protocol != m.Protocol {
		return false
	}
	return m.Serial == "" || m.Serial == serial
}

// WithSerial narrows the matcher to a single device.
func (m Matcher) WithSerial(serial string) Matcher {
	m.Serial = serial
	return m
}
