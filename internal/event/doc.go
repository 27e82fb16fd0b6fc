// Package event publishes plugin lifecycle notifications.
//
// Every state change the plugin manager makes is announced as an Event
// with a hierarchical type:
//
//	plugin.installed     a plugin was added to the host
//	plugin.upgraded      an installed plugin was replaced by a newer one
//	plugin.enabled       a plugin finished enabling
//	plugin.disabled      a plugin was disabled
//	plugin.uninstalled   a plugin was removed
//	module.enabled       a module was enabled
//	module.disabled      a module was disabled
//
// # Subscribing
//
// The in-process Bus delivers events synchronously, in the publisher's
// goroutine, to every handler whose pattern matches the type:
//
//	plugin.*     matches plugin.enabled, plugin.disabled (one segment)
//	**           matches everything (zero or more segments)
//	*.enabled    matches plugin.enabled and module.enabled
//
// A panicking handler is recovered and logged; the remaining handlers
// still run.
//
// # Forwarding
//
// AMQPPublisher forwards events as JSON to a RabbitMQ topic exchange,
// using the event type as routing key. Multi fans one event out to
// several publishers.
package event
