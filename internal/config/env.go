package config

import (
	"fmt"
	"net"
	"os"
)

// Defaults for the client commands.
const (
	DefaultRoverPort     = "8080"
	DefaultTelemetryPort = "8081"
)

// RoverHost returns the rover host from the ROVER_HOST env var.
// Falls back to the provided default if not set.
func RoverHost(defaultHost string) string {
	if host := os.Getenv("ROVER_HOST"); host != "" {
		return host
	}
	return defaultHost
}

// withPort returns host unchanged when it already names a port.
func withPort(host, port string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, port)
}

// CommandURL returns the command channel URL for a direction. host may carry
// a port; otherwise DefaultRoverPort is used.
func CommandURL(host, direction string) string {
	return fmt.Sprintf("http://%s/?%s", withPort(host, DefaultRoverPort), direction)
}

// EventsURL returns the telemetry websocket URL. host may carry a port;
// otherwise DefaultTelemetryPort is used.
func EventsURL(host string) string {
	return fmt.Sprintf("ws://%s/ws/events", withPort(host, DefaultTelemetryPort))
}
