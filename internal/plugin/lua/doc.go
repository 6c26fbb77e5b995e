// Package lua adapts Lua scripts into plugin hook sets.
//
// Each script plugin owns one sandboxed Lua state. The sandbox strips code
// loading, clears the module search path, and gates the io/os libraries
// behind the plugin's declared permissions. The script declares lifecycle
// participation by defining globals:
//
//	function on_install() ... end
//	function on_enable() ... end
//	function on_disable() ... end
//	function on_uninstall() ... end
//	function on_update(old_version) ... end
//	function on_config_change(old_config) ... end
//
// All globals are optional. Scripts reach the host through the gantry
// module, injected as a global and also available via require("gantry"):
//
//	local id = gantry.on("files.saved", function(payload) ... end)
//	gantry.emit("formatter.done", { file = "main.go" })
//	gantry.off(id)
//
// Script emits are delivered through the bus's async queue, so a handler in
// the same script can never re-enter the running state. The state itself is
// guarded by one mutex; hook calls and event deliveries are serialized.
package lua
