// Package schedule plans ensemble members and maps them onto compute devices.
package schedule

// DefaultDevice is the host/CPU fallback used when no devices are configured.
const DefaultDevice = "cpu"

// AssignDevices maps memberCount members onto the device pool round-robin:
// member i runs on devices[i mod len(devices)]. An empty pool assigns every
// member the DefaultDevice sentinel.
func AssignDevices(memberCount int, devices []string) []string {
	if memberCount <= 0 {
		return nil
	}
	assigned := make([]string, memberCount)
	for i := range assigned {
		if len(devices) == 0 {
			assigned[i] = DefaultDevice
			continue
		}
		assigned[i] = devices[i%len(devices)]
	}
	return assigned
}
