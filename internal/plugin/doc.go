// Package plugin models plugins and their module descriptors.
//
// A Plugin is an installable unit identified by a key. It groups module
// descriptors, each an extension point implementation of some Kind, and
// moves through a small lifecycle:
//
//	UNINSTALLED -> INSTALLED -> ENABLING -> ENABLED <-> DISABLED
//	     ^                                                 |
//	     +----------------------- uninstall ---------------+
//
// Install, Uninstall, Enable and Disable are idempotent and delegate the
// real work to a Behavior. A hook error leaves the state untouched.
//
// # Module classes
//
// A module element names its implementation in the class attribute. The
// ModuleFactory resolves it with one of three strategies, chosen when the
// descriptor is initialised:
//
//	<job key="nightly" class="com.acme.NightlyJob"/>   class from the plugin's loader
//	<job key="nightly" class="bean:nightlyJob"/>       shared instance from the container
//	<job key="nightly" class="lua:scripts/job.lua"/>   registered prefix factory
//	<job key="nightly"/>                               inferred from the kind's module type
//
// The class is resolved when the module is enabled and released when it
// is disabled.
//
// # Kinds
//
// Kinds replace per-class annotations. A Kind carries the element name,
// the Go type its modules implement and the RequiresRestart and
// CannotDisable flags:
//
//	kinds := plugin.NewKinds(plugin.NewModuleFactory(container, logger), logger)
//	_ = kinds.Register(plugin.KindOf[Job]("job"))
//
// # Failures
//
// A plugin or module that cannot be loaded is replaced by an unloadable
// placeholder. The placeholder keeps the original key and reports the
// error text, so the failure is visible instead of silently missing.
package plugin
