// Package logger is a standardized event logging framework for the stream
// server.
package logger
