// Package command publishes control commands to devices on
// iot/devices/<id>/control.
package command
