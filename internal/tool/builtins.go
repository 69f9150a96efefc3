package tool

// Builtins returns one instance of every built-in tool in registration order.
func Builtins() []Builtin {
	return []Builtin{
		&ReadFileTool{},
		&WriteFileTool{},
		&EditFileTool{},
		&ListDirectoryTool{},
		&CreateDirectoryTool{},
		&DeleteFileTool{},
		&BashTool{},
		&SearchInFilesTool{},
		&GlobTool{},
	}
}

// NewDefaultRegistry creates a registry pre-populated with all built-ins.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, b := range Builtins() {
		r.RegisterBuiltin(b)
	}
	return r
}
