package bluetooth

// Assigned numbers for the services, characteristics and descriptors most
// commonly seen on consumer devices. Not exhaustive.

var knownServices = map[UUID]string{
	"1800":                             "Generic Access",
	"1801":                             "Generic Attribute",
	"1802":                             "Immediate Alert",
	"1803":                             "Link Loss",
	"1804":                             "Tx Power",
	"1805":                             "Current Time Service",
	"180a":                             "Device Information",
	"180d":                             "Heart Rate",
	"180f":                             "Battery Service",
	"1810":                             "Blood Pressure",
	"1812":                             "Human Interface Device",
	"1816":                             "Cycling Speed and Cadence",
	"1818":                             "Cycling Power",
	"1819":                             "Location and Navigation",
	"181a":                             "Environmental Sensing",
	"181c":                             "User Data",
	"1826":                             "Fitness Machine",
	"6e400001b5a3f393e0a9e50e24dcca9e": "Nordic UART Service",
}

var knownCharacteristics = map[UUID]string{
	"2a00":                             "Device Name",
	"2a01":                             "Appearance",
	"2a04":                             "Peripheral Preferred Connection Parameters",
	"2a05":                             "Service Changed",
	"2a06":                             "Alert Level",
	"2a07":                             "Tx Power Level",
	"2a19":                             "Battery Level",
	"2a23":                             "System ID",
	"2a24":                             "Model Number String",
	"2a25":                             "Serial Number String",
	"2a26":                             "Firmware Revision String",
	"2a27":                             "Hardware Revision String",
	"2a28":                             "Software Revision String",
	"2a29":                             "Manufacturer Name String",
	"2a2b":                             "Current Time",
	"2a37":                             "Heart Rate Measurement",
	"2a38":                             "Body Sensor Location",
	"2a39":                             "Heart Rate Control Point",
	"2a4d":                             "Report",
	"2a6e":                             "Temperature",
	"2a6f":                             "Humidity",
	"6e400002b5a3f393e0a9e50e24dcca9e": "UART RX",
	"6e400003b5a3f393e0a9e50e24dcca9e": "UART TX",
}

var knownDescriptors = map[UUID]string{
	"2900": "Characteristic Extended Properties",
	"2901": "Characteristic User Description",
	"2902": "Client Characteristic Configuration",
	"2903": "Server Characteristic Configuration",
	"2904": "Characteristic Presentation Format",
	"2905": "Characteristic Aggregate Format",
	"2906": "Valid Range",
	"2908": "Report Reference",
}

// CCCDUUID is the Client Characteristic Configuration descriptor.
const CCCDUUID UUID = "2902"

// LookupService returns the assigned name of a service or "".
func LookupService(u UUID) string {
	return knownServices[UUID(NormalizeUUID(string(u)))]
}

// LookupCharacteristic returns the assigned name of a characteristic or "".
func LookupCharacteristic(u UUID) string {
	return knownCharacteristics[UUID(NormalizeUUID(string(u)))]
}

// LookupDescriptor returns the assigned name of a descriptor or "".
func LookupDescriptor(u UUID) string {
	return knownDescriptors[UUID(NormalizeUUID(string(u)))]
}
