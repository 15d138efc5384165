// Package alerting evaluates threshold rules against device readings.
//
// Each status report the presence tracker accepts becomes a flat reading
// map (temp_c, heap, status, ...). Every enabled rule of the active server
// whose selector covers the device and whose metric is in the reading is
// compared, and a match raises a new_alert event. Message templates may use
// {device_name} and {value}.
package alerting
