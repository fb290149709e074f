// Package capture defines the capture device boundary and its file and
// network implementations. The microphone device lives in the portaudio
// subpackage so cgo stays out of builds that do not need it.
package capture
