package dso

// Reserved symbols an artifact may export. The loader looks them up by convention.
const (
	// MainEntry is the function name that resolves through SymbolMain instead of directly.
	MainEntry = "__dso_main__"
	// SymbolMain is exported data: a NUL-terminated name of the real entry function.
	SymbolMain = "__dso_main__"
	// SymbolModuleCtx is a pointer-sized mutable cell receiving the module ID.
	SymbolModuleCtx = "__dso_module_ctx"
	// SymbolDevBlob is the nested-import blob: a little endian uint64 size then the payload.
	SymbolDevBlob = "__dso_dev_mblob"
)

// Function-pointer slots filled with host callbacks when the artifact exports them.
const (
	SlotResolveSymbol  = "__dso_resolve_symbol"
	SlotGetFuncFromEnv = "__dso_get_func_from_env"
	SlotFuncCall       = "__dso_func_call"
	SlotFuncFree       = "__dso_func_free"
	SlotSetLastError   = "__dso_set_last_error"
)

// ContextSlots lists every callback slot in injection order.
var ContextSlots = []string{
	SlotResolveSymbol,
	SlotGetFuncFromEnv,
	SlotFuncCall,
	SlotFuncFree,
	SlotSetLastError,
}
