// Package sensornet implements the sensord stream protocol: a single
// persistent TCP connection carrying length-prefixed JSON frames in
// both directions. The server pushes sensor_data messages on a timer
// and answers command messages as they arrive.
//
// Frame layout: length:4 payload:length
// Length is big-endian uint32 of the JSON payload size, header excluded.
package sensornet
