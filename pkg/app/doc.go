// Package app contains the two streaming applications built on the capture
// drivers.
//
// VideoApp captures frames from the camera input, optionally forwards each
// one to the video output, and draws it through a sink until the source
// ends. SensorProvider is the sample gate of the sensor application: every
// call returns the newest block the receiver produced since the previous
// call; SensorApp drives it in a loop.
//
// Both report what happened in a Report.
package app
